package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLabels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "classes.txt")
	require.NoError(t, os.WriteFile(path, []byte("person\n  car \n\nbus\n\n\n"), 0o644))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, Labels{"person", "car", "", "bus"}, labels)
	assert.Equal(t, "bus", labels.Name(3))
	assert.Equal(t, "", labels.Name(4))
	assert.Equal(t, "", labels.Name(-1))
}

func TestLoadLabelsDefaultsToCOCO(t *testing.T) {
	labels, err := LoadLabels("")
	require.NoError(t, err)
	assert.Len(t, labels, 80)
	assert.Equal(t, "person", labels.Name(0))
	assert.Equal(t, "toothbrush", labels.Name(79))
}

func TestLoadLabelsErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadLabels(filepath.Join(dir, "missing.names"))
	assert.True(t, errors.Is(err, ErrModelNotFound))

	empty := filepath.Join(dir, "empty.names")
	require.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0o644))
	_, err = LoadLabels(empty)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrModelNotFound))
}
