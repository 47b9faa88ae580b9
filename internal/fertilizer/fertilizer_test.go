package fertilizer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggest(t *testing.T) {
	tests := []struct {
		crop string
		want string
	}{
		{"Paddy", "Use Urea and DAP in early stages."},
		{"Maize", "Use Nitrogen-rich fertilizer."},
		{"Wheat", "Apply Potassium-based fertilizer."},
		{"Cotton", "Use phosphorus before flowering."},
		{"paddy", Fallback},
		{"Barley", Fallback},
		{"", Fallback},
	}
	tbl := Default()
	for _, tt := range tests {
		t.Run(tt.crop, func(t *testing.T) {
			assert.Equal(t, tt.want, tbl.Suggest(tt.crop))
		})
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fertilizer.yaml")
	content := "tips:\n  Paddy: Split nitrogen into three doses.\n  Groundnut: Apply gypsum at flowering.\n  Wheat: \"  \"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tbl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Split nitrogen into three doses.", tbl.Suggest("Paddy"))
	assert.Equal(t, "Apply gypsum at flowering.", tbl.Suggest("Groundnut"))
	assert.Equal(t, "Apply Potassium-based fertilizer.", tbl.Suggest("Wheat"), "blank tip keeps default")
	assert.Equal(t, "Use Nitrogen-rich fertilizer.", tbl.Suggest("Maize"))

	assert.Equal(t, "Use Urea and DAP in early stages.", Default().Suggest("Paddy"), "defaults are not mutated")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("tips: [unclosed"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)

	tbl, err := Load("")
	require.NoError(t, err)
	assert.Len(t, tbl.All(), 4)
}
