package rrj

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTags(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tags.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadVocabulary(t *testing.T) {
	path := writeTags(t, `{"long_hair": 0, "blue_eyes": 2, "smile": 1}`)

	v, err := LoadVocabulary(path, 3)
	require.NoError(t, err)

	assert.Equal(t, 3, v.Len())
	assert.Equal(t, "long hair", v.Name(0))
	assert.Equal(t, "smile", v.Name(1))
	assert.Equal(t, "blue eyes", v.Name(2))
}

func TestLoadVocabularyCountMismatch(t *testing.T) {
	path := writeTags(t, `{"a": 0, "b": 1}`)

	_, err := LoadVocabulary(path, 3)
	require.Error(t, err)
	assert.ErrorContains(t, err, "tag count mismatch")
}

func TestLoadVocabularyIndexOutOfRange(t *testing.T) {
	path := writeTags(t, `{"a": 0, "b": 5}`)

	v, err := LoadVocabulary(path, 2)
	require.NoError(t, err)

	assert.Equal(t, "a", v.Name(0))
	assert.Empty(t, v.Name(1))
}

func TestLoadVocabularyKeepsFirstOnCollision(t *testing.T) {
	path := writeTags(t, `{"first": 0, "second": 0}`)

	v, err := LoadVocabulary(path, 2)
	require.NoError(t, err)

	assert.Equal(t, "first", v.Name(0))
	assert.Empty(t, v.Name(1))
}

func TestLoadVocabularyMissingFile(t *testing.T) {
	_, err := LoadVocabulary(filepath.Join(t.TempDir(), "absent.json"), 3)
	assert.Error(t, err)
}

func TestLoadVocabularyMalformed(t *testing.T) {
	_, err := LoadVocabulary(writeTags(t, `["a", "b"]`), 2)
	assert.Error(t, err)
}

func TestVocabularyNameBounds(t *testing.T) {
	path := writeTags(t, `{"a": 0}`)

	v, err := LoadVocabulary(path, 1)
	require.NoError(t, err)

	assert.Empty(t, v.Name(-1))
	assert.Empty(t, v.Name(1))
}
