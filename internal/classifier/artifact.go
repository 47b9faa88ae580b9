package classifier

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/irrigation-cli/internal/encoder"
	"github.com/sells-group/irrigation-cli/internal/model"
)

// FormatVersion is bumped whenever the artifact layout changes.
const FormatVersion = 1

// Artifact is the persisted, trained classifier together with the encoding
// contract it was trained under.
type Artifact struct {
	FormatVersion  int               `json:"format_version"`
	EncoderVersion string            `json:"encoder_version"`
	Features       []string          `json:"features"`
	LabelSource    model.LabelSource `json:"label_source"`
	TrainedAt      time.Time         `json:"trained_at"`
	Rows           int               `json:"rows"`
	Accuracy       float64           `json:"accuracy"`
	Params         Params            `json:"params"`
	Forest         *Forest           `json:"forest"`
}

// NewArtifact wraps a fitted forest with the current encoder contract.
func NewArtifact(f *Forest, src model.LabelSource, rows int, accuracy float64, p Params) *Artifact {
	return &Artifact{
		FormatVersion:  FormatVersion,
		EncoderVersion: encoder.Version,
		Features:       slices.Clone(encoder.Columns),
		LabelSource:    src,
		TrainedAt:      time.Now().UTC(),
		Rows:           rows,
		Accuracy:       accuracy,
		Params:         p,
		Forest:         f,
	}
}

// Validate rejects artifacts that cannot be used with the running encoder.
func (a *Artifact) Validate() error {
	if a.FormatVersion != FormatVersion {
		return eris.Errorf("classifier: artifact format %d, want %d", a.FormatVersion, FormatVersion)
	}
	if a.EncoderVersion != encoder.Version {
		return eris.Errorf("classifier: artifact encoder %q, want %q", a.EncoderVersion, encoder.Version)
	}
	if !slices.Equal(a.Features, encoder.Columns) {
		return eris.Errorf("classifier: artifact features %v, want %v", a.Features, encoder.Columns)
	}
	if a.Forest == nil || len(a.Forest.Trees) == 0 {
		return eris.New("classifier: artifact has no trees")
	}
	if a.Forest.Features != len(encoder.Columns) {
		return eris.Errorf("classifier: forest expects %d features", a.Forest.Features)
	}
	for i := range a.Forest.Trees {
		t := &a.Forest.Trees[i]
		n := t.Nodes()
		if n == 0 || len(t.Threshold) != n || len(t.Left) != n || len(t.Right) != n || len(t.Value) != n {
			return eris.Errorf("classifier: tree %d is malformed", i)
		}
		for j := 0; j < n; j++ {
			if t.Feature[j] < 0 {
				continue
			}
			if t.Feature[j] >= a.Forest.Features ||
				t.Left[j] <= j || t.Left[j] >= n ||
				t.Right[j] <= j || t.Right[j] >= n {
				return eris.Errorf("classifier: tree %d node %d is malformed", i, j)
			}
		}
	}
	return nil
}

// Predict classifies one feature row built by encoder.Vector.
func (a *Artifact) Predict(features []float64) model.Label {
	return model.Label(a.Forest.Predict(features))
}

// Probability returns P(irrigation needed) for one feature row.
func (a *Artifact) Probability(features []float64) float64 {
	return a.Forest.Probability(features)
}

// Save writes a to path atomically: the bytes go to a temp file in the
// same directory, are synced, and then renamed over path. It returns the
// sha256 of the written bytes.
func Save(path string, a *Artifact) (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", eris.Wrap(err, "classifier: marshal artifact")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "classifier: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", eris.Wrap(err, "classifier: create temp artifact")
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", eris.Wrap(err, "classifier: write temp artifact")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", eris.Wrap(err, "classifier: sync temp artifact")
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrap(err, "classifier: close temp artifact")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", eris.Wrapf(err, "classifier: rename artifact to %s", path)
	}
	committed = true

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Load reads and validates the artifact at path. Every failure wraps
// model.ErrArtifactLoad.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(model.ErrArtifactLoad, "read %s: %v", path, err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, eris.Wrapf(model.ErrArtifactLoad, "decode %s: %v", path, err)
	}
	if err := a.Validate(); err != nil {
		return nil, eris.Wrapf(model.ErrArtifactLoad, "validate %s: %v", path, err)
	}
	return &a, nil
}
