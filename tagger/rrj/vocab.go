package rrj

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Vocabulary maps model class indices to display tag names.
type Vocabulary struct {
	names []string
}

// LoadVocabulary reads a tag file of the form {"tag_name": index, ...} and
// builds the index-ordered name table for a model with numClasses outputs.
// Underscores in names become spaces. Out-of-range indices are skipped and
// index collisions keep the first assignment, both with a warning; the
// file order decides which assignment is first.
func LoadVocabulary(path string, numClasses int) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tag file: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse tag file %s: %w", path, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("parse tag file %s: expected object, got %v", path, tok)
	}

	names := make([]string, numClasses)
	total := 0
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse tag file %s: %w", path, err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("parse tag file %s: non-string key %v", path, keyTok)
		}
		var index int
		if err := dec.Decode(&index); err != nil {
			return nil, fmt.Errorf("parse tag file %s: index for %q: %w", path, name, err)
		}
		total++

		display := strings.ReplaceAll(name, "_", " ")
		if index < 0 || index >= numClasses {
			slog.Warn("Tag index out of bounds, skipping",
				slog.String("tag", display), slog.Int("index", index), slog.Int("classes", numClasses))
			continue
		}
		if names[index] != "" {
			slog.Warn("Tag index collision, keeping first",
				slog.Int("index", index), slog.String("kept", names[index]), slog.String("dropped", display))
			continue
		}
		names[index] = display
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("parse tag file %s: %w", path, err)
	}

	if total != numClasses {
		return nil, fmt.Errorf("tag count mismatch: model expects %d classes but %s has %d tags",
			numClasses, path, total)
	}
	return &Vocabulary{names: names}, nil
}

// Len returns the number of classes.
func (v *Vocabulary) Len() int {
	return len(v.names)
}

// Name returns the tag for a class index, or "" when the index has no tag.
func (v *Vocabulary) Name(i int) string {
	if i < 0 || i >= len(v.names) {
		return ""
	}
	return v.names[i]
}
