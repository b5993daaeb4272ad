package spaces

import (
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSONTuples(t *testing.T) {
	path := writeFile(t, "espacios.json", `[[10, 20, 30, 40], [100, 20, 30, 40], [190, 20, 35, 45]]`)

	spaces, err := Load(path)
	require.NoError(t, err)
	require.Len(t, spaces, 3)
	for i, s := range spaces {
		assert.Equal(t, i, s.ID)
	}
	assert.Equal(t, image.Rect(10, 20, 40, 60), spaces[0].Rect)
	assert.Equal(t, image.Rect(190, 20, 225, 65), spaces[2].Rect)
}

func TestLoadJSONObjects(t *testing.T) {
	path := writeFile(t, "espacios.json", `[{"x": 5, "y": 6, "w": 7, "h": 8}]`)

	spaces, err := Load(path)
	require.NoError(t, err)
	require.Len(t, spaces, 1)
	assert.Equal(t, image.Rect(5, 6, 12, 14), spaces[0].Rect)
}

func TestLoadPickle(t *testing.T) {
	// pickle.dumps([(1, 2, 3, 4), (50, 60, 70, 80)], protocol=2)
	data := "\x80\x02]q\x00((K\x01K\x02K\x03K\x04tq\x01(K2K<KFKPtq\x02e."
	path := writeFile(t, "espacios.pkl", data)

	spaces, err := Load(path)
	require.NoError(t, err)
	require.Len(t, spaces, 2)
	assert.Equal(t, image.Rect(1, 2, 4, 6), spaces[0].Rect)
	assert.Equal(t, image.Rect(50, 60, 120, 140), spaces[1].Rect)
	assert.Equal(t, 1, spaces[1].ID)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]struct {
		name    string
		content string
	}{
		"malformed json":  {"a.json", `[[1, 2, 3`},
		"short tuple":     {"a.json", `[[1, 2, 3]]`},
		"empty list":      {"a.json", `[]`},
		"zero width":      {"a.json", `[[1, 2, 0, 4]]`},
		"negative origin": {"a.json", `[[-1, 2, 3, 4]]`},
		"not a list":      {"a.pkl", "\x80\x02K\x01."},
		"bad extension":   {"a.txt", `[[1, 2, 3, 4]]`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.name, tc.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestDecodeEmptyList(t *testing.T) {
	_, err := Decode(strings.NewReader(`[]`), FormatJSON)
	assert.ErrorIs(t, err, ErrNoSpaces)
}
