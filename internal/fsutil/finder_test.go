package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindFiles(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{
		"b.hcl",
		"a.hcl",
		"notes.txt",
		"nested/c.hcl",
		".git/ignored.hcl",
	} {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o600))
	}

	testCases := []struct {
		name  string
		paths []string
		want  []string
	}{
		{"directory", []string{root}, []string{"a.hcl", "b.hcl", "nested/c.hcl"}},
		{"single file", []string{filepath.Join(root, "b.hcl")}, []string{"b.hcl"}},
		{"wrong extension", []string{filepath.Join(root, "notes.txt")}, nil},
		{"missing path is ignored", []string{filepath.Join(root, "missing")}, nil},
		{"duplicates collapse", []string{filepath.Join(root, "a.hcl"), root}, []string{"a.hcl", "b.hcl", "nested/c.hcl"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FindFiles(tc.paths, ".hcl")
			require.NoError(t, err)
			var rel []string
			for _, p := range got {
				r, err := filepath.Rel(root, p)
				require.NoError(t, err)
				rel = append(rel, filepath.ToSlash(r))
			}
			assert.Equal(t, tc.want, rel)
		})
	}
}

func TestFindFiles_EmptyExtensionPanics(t *testing.T) {
	assert.Panics(t, func() { _, _ = FindFiles([]string{"."}, "") })
}
