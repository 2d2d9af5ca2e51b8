package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"drivegate/pkg/errs"
	"drivegate/pkg/types"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already absolute", "/notes.txt", "/notes.txt"},
		{"relative", "notes.txt", "/notes.txt"},
		{"empty", "", "/"},
		{"percent encoded", "/my%20notes.txt", "/my notes.txt"},
		{"bad escape kept verbatim", "/100%zz", "/100%zz"},
		{"foreign reference", "hyper://abc/file", "hyper://abc/file"},
		{"trailing slash kept", "dir/", "/dir/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
			assert.Equal(t, Normalize(tt.input), Normalize(Normalize(tt.input)))
		})
	}
}

func TestAssertValid(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantError bool
	}{
		{"plain", "/a/b.txt", false},
		{"unicode", "/résumé.pdf", false},
		{"directory", "/docs/", false},
		{"empty", "", true},
		{"nul", "/a\x00b", true},
		{"newline", "/a\nb", true},
		{"delete char", "/a\x7f", true},
		{"backslash", "/a\\b", true},
		{"drive letter", "/C:/windows", true},
		{"colon elsewhere is fine", "/notes:v2", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AssertValid(tt.path)
			if tt.wantError {
				assert.True(t, errs.Is(err, errs.CodeInvalidPath), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAssertValidFilePath(t *testing.T) {
	assert.NoError(t, AssertValidFilePath("/notes.txt"))
	assert.True(t, errs.Is(AssertValidFilePath("/docs/"), errs.CodeInvalidPath))
	assert.True(t, errs.Is(AssertValidFilePath("/a\x01"), errs.CodeInvalidPath))
}

func TestAssertUnprotected(t *testing.T) {
	guest := types.Actor{Origin: "https://app.example"}

	for _, p := range []string{"/index.json", "index.json", "/./index.json", "/a/../index.json"} {
		err := AssertUnprotected(p, guest)
		assert.True(t, errs.Is(err, errs.CodeProtectedFile), "path %q", p)
		assert.True(t, errs.IsDenial(err))
		assert.NoError(t, AssertUnprotected(p, types.Host()), "path %q", p)
	}

	assert.NoError(t, AssertUnprotected("/sub/index.json", guest))
	assert.NoError(t, AssertUnprotected("/index.json.bak", guest))
}

func TestIsWithin(t *testing.T) {
	assert.True(t, IsWithin("/a/b", "/a"))
	assert.True(t, IsWithin("/a", "/a"))
	assert.True(t, IsWithin("/anything", "/"))
	assert.False(t, IsWithin("/ab", "/a"))
	assert.Equal(t, "/a/b/c", Join("/a", "b", "c"))
}
