package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"template_id": "t1", "name": "Main panel", "category": "electrical", "kind": "visual"},
		{"template_id": "t2", "name": "Water heater", "category": "plumbing", "kind": "visual", "required": true}
	]`), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)

	got, err := c.ListTemplates(context.Background(), "plumbing")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t2", got[0].TemplateID)
	assert.True(t, got[0].Required)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestStaticCatalogue_EmptyCategoryListsAll(t *testing.T) {
	c := NewStaticCatalogue(testTemplates())

	got, err := c.ListTemplates(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
