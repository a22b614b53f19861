// Package rrj runs the RedRocket joint tagger in process through ONNX
// Runtime.
package rrj

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/gomlx/go-huggingface/hub"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/krau/autotagger/config"
	"github.com/krau/autotagger/tagger"
)

// Name identifies this backend in routes and health output.
const Name = "redrocket-joint-tagger"

// MaxTags caps how many tags a single prediction returns.
const MaxTags = 250

type session struct {
	sess   *ort.AdvancedSession
	input  *ort.Tensor[float32]
	output *ort.Tensor[float32]
}

// Tagger holds the vocabulary and a fixed pool of inference sessions.
type Tagger struct {
	pool    chan *session
	all     []*session
	vocab   *Vocabulary
	classes int
}

// New resolves the model and tag files (downloading from the Hugging Face
// Hub when no local path is configured), loads the vocabulary and builds
// cfg.PoolSize inference sessions.
func New(cfg config.RRJConfig) (*Tagger, error) {
	modelPath, tagsPath, err := resolveFiles(cfg)
	if err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect model %s: %w", modelPath, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s has no input or output tensors", modelPath)
	}
	outDims := outputs[0].Dimensions
	classes := int(outDims[len(outDims)-1])
	if classes <= 0 {
		return nil, fmt.Errorf("model %s reports a dynamic class dimension %v", modelPath, outDims)
	}

	vocab, err := LoadVocabulary(tagsPath, classes)
	if err != nil {
		return nil, err
	}

	poolSize := max(cfg.PoolSize, 1)
	t := &Tagger{
		pool:    make(chan *session, poolSize),
		vocab:   vocab,
		classes: classes,
	}
	for range poolSize {
		s, err := newSession(modelPath, inputs[0].Name, outputs[0].Name, classes)
		if err != nil {
			t.Close()
			return nil, err
		}
		t.all = append(t.all, s)
		t.pool <- s
	}

	slog.Info("RedRocket joint tagger loaded",
		slog.String("model", modelPath),
		slog.Int("classes", classes),
		slog.Int("sessions", poolSize))
	return t, nil
}

func resolveFiles(cfg config.RRJConfig) (modelPath, tagsPath string, err error) {
	modelPath, tagsPath = cfg.ModelPath, cfg.TagsPath
	var missing []string
	if modelPath == "" {
		missing = append(missing, cfg.ModelFile)
	}
	if tagsPath == "" {
		missing = append(missing, cfg.TagsFile)
	}
	if len(missing) == 0 {
		return modelPath, tagsPath, nil
	}

	slog.Info("Fetching model files", slog.String("repo", cfg.Repo), slog.Any("files", missing))
	repo := hub.New(cfg.Repo)
	paths, err := repo.DownloadFiles(missing...)
	if err != nil {
		return "", "", fmt.Errorf("download from %s: %w", cfg.Repo, err)
	}
	i := 0
	if modelPath == "" {
		modelPath = paths[i]
		i++
	}
	if tagsPath == "" {
		tagsPath = paths[i]
	}
	return modelPath, tagsPath, nil
}

func newSession(modelPath, inputName, outputName string, classes int) (*session, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()

	input, err := ort.NewTensor(ort.NewShape(1, 3, ImageSize, ImageSize), make([]float32, 3*ImageSize*ImageSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(classes)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	sess, err := ort.NewAdvancedSession(
		modelPath,
		[]string{inputName},
		[]string{outputName},
		[]ort.Value{input},
		[]ort.Value{output},
		opts,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create inference session: %w", err)
	}
	return &session{sess: sess, input: input, output: output}, nil
}

// Ready reports whether the backend can serve; a constructed Tagger
// always can.
func (t *Tagger) Ready() error { return nil }

// Tag runs one forward pass and returns the tags scoring at least
// threshold, ordered by descending score, capped at MaxTags.
func (t *Tagger) Tag(ctx context.Context, img image.Image, threshold float32) (*tagger.Result, error) {
	input := Preprocess(img)

	var s *session
	select {
	case s = <-t.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { t.pool <- s }()

	copy(s.input.GetData(), input)
	if err := s.sess.Run(); err != nil {
		return nil, fmt.Errorf("run inference: %w", err)
	}
	logits := make([]float32, t.classes)
	copy(logits, s.output.GetData())

	return Postprocess(logits, t.vocab, threshold, MaxTags), nil
}

// Postprocess applies the sigmoid, drops scores below threshold and
// classes without a vocabulary name, and assembles the ordered result.
func Postprocess(logits []float32, vocab *Vocabulary, threshold float32, limit int) *tagger.Result {
	var items []tagger.TagScore
	for i, v := range logits {
		p := sigmoid(v)
		if p < threshold {
			continue
		}
		name := vocab.Name(i)
		if name == "" {
			continue
		}
		items = append(items, tagger.TagScore{Tag: name, Score: p})
	}
	return tagger.FromScores(items, limit)
}

func sigmoid(x float32) float32 {
	if x > 50 {
		x = 50
	} else if x < -50 {
		x = -50
	}
	return 1 / (1 + float32(math.Exp(float64(-x))))
}

// Close releases the sessions and their tensors.
func (t *Tagger) Close() {
	for _, s := range t.all {
		s.sess.Destroy()
		s.input.Destroy()
		s.output.Destroy()
	}
	t.all = nil
}
