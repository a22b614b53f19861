// Package wdv3 runs the wd-vit-tagger-v3 Python script on an image and
// parses the tags it prints.
package wdv3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/krau/autotagger/config"
	"github.com/krau/autotagger/imageio"
	"github.com/krau/autotagger/tagger"
)

// Name identifies this backend in routes and health output.
const Name = "wd-vit-tagger-v3"

var (
	// ErrScriptNotFound means the configured script path does not exist.
	ErrScriptNotFound = errors.New("tagger script not found")
	// ErrNoTags means the script finished without printing a tag line.
	ErrNoTags = errors.New("no tags found in tagger output")
)

var tagLine = regexp.MustCompile(`(?i)Tags:\s*(.*)`)

// Tagger shells out to the wd-vit-tagger-v3 script, limiting how many
// interpreter processes run at once.
type Tagger struct {
	script  string
	python  string
	timeout time.Duration
	sem     *semaphore.Weighted
}

// New builds a Tagger from cfg. The script path is resolved to an
// absolute one up front so the interpreter finds it regardless of the
// working directory the process later runs commands from.
func New(cfg config.WDv3Config) (*Tagger, error) {
	script, err := filepath.Abs(cfg.Script)
	if err != nil {
		return nil, fmt.Errorf("resolve script path %s: %w", cfg.Script, err)
	}
	python := cfg.Python
	if python == "" {
		python = "python3"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	concurrent := max(cfg.MaxConcurrent, 1)
	return &Tagger{
		script:  script,
		python:  python,
		timeout: timeout,
		sem:     semaphore.NewWeighted(concurrent),
	}, nil
}

// Ready reports whether the script is present on disk.
func (t *Tagger) Ready() error {
	if _, err := os.Stat(t.script); err != nil {
		return fmt.Errorf("%w: %s", ErrScriptNotFound, t.script)
	}
	return nil
}

// Tag writes the image to a temporary PNG, runs the script on it and
// parses the printed tag list. The threshold argument is unused; the
// script applies its own cutoff.
func (t *Tagger) Tag(ctx context.Context, img image.Image, _ float32) (*tagger.Result, error) {
	if err := t.Ready(); err != nil {
		return nil, err
	}
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.sem.Release(1)

	path, cleanup, err := imageio.WriteTempPNG(img, "wdv3-")
	if err != nil {
		return nil, fmt.Errorf("write temp image: %w", err)
	}
	defer cleanup()

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.python, t.script, path)
	cmd.Dir = filepath.Dir(t.script)
	// Killing only the interpreter leaves forked children holding the
	// output pipes, and Run would block on them past the deadline.
	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("tagger script timed out after %s", t.timeout)
		}
		detail := stderr.String()
		if strings.TrimSpace(detail) == "" {
			detail = stdout.String()
		}
		return nil, fmt.Errorf("tagger script failed: %w: %s", err, tail(detail))
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		slog.Warn("Tagger script wrote to stderr", slog.String("stderr", tail(msg)))
	}
	slog.Debug("Tagger script finished", slog.Duration("took", time.Since(start)))

	tags, err := ParseTags(stdout.String())
	if err != nil {
		return nil, err
	}
	return tagger.FromTags(tags), nil
}

// ParseTags extracts the comma separated tag list from script output.
// The script prints a line like "Tags: tag one, tag two"; matching is
// case insensitive and surrounding whitespace is stripped from each tag.
func ParseTags(output string) ([]string, error) {
	m := tagLine.FindStringSubmatch(output)
	if m == nil {
		return nil, ErrNoTags
	}
	var tags []string
	for _, part := range strings.Split(m[1], ",") {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

// tail keeps error messages readable when the script dumps a long trace.
func tail(s string) string {
	s = strings.TrimSpace(s)
	const limit = 500
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}
