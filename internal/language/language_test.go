package language_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsablic/linestat/internal/language"
)

func TestDefaultTableClassify(t *testing.T) {
	table := language.Default()

	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"main.go", "Go", true},
		{"src/app/views.py", "Python", true},
		{"web/index.tsx", "TypeScript", true},
		{"build/Makefile", "Makefile", true},
		{"README.md", "", false},
		{"LICENSE", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			def, ok := table.Classify(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, def.Name)
		})
	}
}

func TestClassifyTableOrderBreaksTies(t *testing.T) {
	first, err := language.Parse([]byte(`{
		"objc": {"name": "Objective-C", "extensions": [".h", ".m"], "comment_regex": "//"},
		"c": {"name": "C", "extensions": [".c", ".h"], "comment_regex": "//"}
	}`))
	require.NoError(t, err)

	second, err := language.Parse([]byte(`{
		"c": {"name": "C", "extensions": [".c", ".h"], "comment_regex": "//"},
		"objc": {"name": "Objective-C", "extensions": [".h", ".m"], "comment_regex": "//"}
	}`))
	require.NoError(t, err)

	def, ok := first.Classify("include/util.h")
	require.True(t, ok)
	assert.Equal(t, "Objective-C", def.Name)

	def, ok = second.Classify("include/util.h")
	require.True(t, ok)
	assert.Equal(t, "C", def.Name)

	for range 10 {
		again, _ := second.Classify("include/util.h")
		assert.Equal(t, "C", again.Name)
	}
}

func TestCommentPatternAnchored(t *testing.T) {
	table := language.Default()
	def, ok := table.Classify("a.py")
	require.True(t, ok)

	assert.True(t, def.Comment.MatchString("# comment"))
	assert.False(t, def.Comment.MatchString("x = 1  # trailing"))
	assert.Equal(t, "PYTHON", def.Normalized())
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"not an object": `[]`,
		"empty":         `{}`,
		"missing name":  `{"x": {"extensions": [".x"], "comment_regex": "#"}}`,
		"bad regex":     `{"x": {"name": "X", "extensions": [".x"], "comment_regex": "("}}`,
		"no extensions": `{"x": {"name": "X", "extensions": [], "comment_regex": "#"}}`,
		"duplicate key": `{"x": {"name": "X", "extensions": [".x"], "comment_regex": "#"}, "x": {"name": "Y", "extensions": [".y"], "comment_regex": "#"}}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := language.Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "languages.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"lisp": {"name": "Lisp", "extensions": [".lisp"], "comment_regex": ";"}}`), 0o644))

	table, err := language.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())

	def, ok := table.Classify("core.lisp")
	require.True(t, ok)
	assert.Equal(t, "lisp", def.Key)

	_, err = language.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	table, err = language.Load("")
	require.NoError(t, err)
	assert.Greater(t, table.Len(), 1)
}
