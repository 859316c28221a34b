package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSurfaceFromDenseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "surface.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"x":[0.1,0.5],"y":[-0.1,0],"z":[[0.02,0.05],[0.03,0.06]]}`), 0o600))

	denseFile = path
	t.Cleanup(func() { denseFile = "" })

	g, err := loadSurface()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.5}, g.X)
	assert.Equal(t, []float64{-0.1, 0}, g.Y)
	v, ok := g.Cell(0, 1)
	require.True(t, ok)
	assert.Equal(t, 0.05, v)
}

func TestLoadSurfaceRejectsRaggedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "surface.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"x":[0.1,0.5],"y":[0],"z":[[0.02]]}`), 0o600))

	denseFile = path
	t.Cleanup(func() { denseFile = "" })

	_, err := loadSurface()
	assert.Error(t, err)
}
