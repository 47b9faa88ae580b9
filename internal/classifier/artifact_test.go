package classifier

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/irrigation-cli/internal/model"
)

func trainedArtifact(t *testing.T) *Artifact {
	t.Helper()
	X, y := moistureRows(40)
	f, err := Fit(context.Background(), X, y, Params{Trees: 8})
	require.NoError(t, err)
	return NewArtifact(f, model.LabelSourceMoisture, len(X), 1, Params{Trees: 8})
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "irrigation_model.json")
	a := trainedArtifact(t)

	sum, err := Save(path, a)
	require.NoError(t, err)
	assert.Len(t, sum, 64)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, model.LabelSourceMoisture, loaded.LabelSource)
	assert.Equal(t, a.Forest, loaded.Forest)
	assert.Equal(t, model.LabelNeeded, loaded.Predict([]float64{40, 20, 1, 3}))
	assert.Equal(t, model.LabelNotNeeded, loaded.Predict([]float64{25, 80, 0, 0}))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestSave_ReplacesWholesale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte("old contents that are longer than nothing"), 0o644))

	_, err := Save(path, trainedArtifact(t))
	require.NoError(t, err)

	_, err = Load(path)
	require.NoError(t, err)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrArtifactLoad))

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o644))
	_, err = Load(corrupt)
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrArtifactLoad))
}

func TestValidate_RejectsEncoderDrift(t *testing.T) {
	a := trainedArtifact(t)
	a.EncoderVersion = "crops-v0"
	assert.ErrorContains(t, a.Validate(), "encoder")

	a = trainedArtifact(t)
	a.Features = []string{"humidity", "temperature", "moisture", "crop_code"}
	assert.ErrorContains(t, a.Validate(), "features")

	a = trainedArtifact(t)
	a.FormatVersion = 99
	assert.ErrorContains(t, a.Validate(), "format")

	a = trainedArtifact(t)
	a.Forest.Trees = nil
	assert.ErrorContains(t, a.Validate(), "no trees")
}

func TestValidate_RejectsMalformedTree(t *testing.T) {
	a := trainedArtifact(t)
	a.Forest.Trees[0] = Tree{
		Feature:   []int{0},
		Threshold: []float64{1},
		Left:      []int{5},
		Right:     []int{6},
		Value:     []float64{0},
	}
	assert.ErrorContains(t, a.Validate(), "malformed")
}
