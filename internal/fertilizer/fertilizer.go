// Package fertilizer maps crops to a short fertilizer recommendation.
package fertilizer

import (
	"maps"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/irrigation-cli/internal/encoder"
)

// Fallback is returned for crops without a tip.
const Fallback = "No suggestion available."

var defaults = map[string]string{
	encoder.Paddy:  "Use Urea and DAP in early stages.",
	encoder.Maize:  "Use Nitrogen-rich fertilizer.",
	encoder.Wheat:  "Apply Potassium-based fertilizer.",
	encoder.Cotton: "Use phosphorus before flowering.",
}

// Table is an immutable crop → tip lookup.
type Table struct {
	tips map[string]string
}

// Default returns the built-in table.
func Default() *Table {
	return &Table{tips: maps.Clone(defaults)}
}

// tableFile is the on-disk override format:
//
//	tips:
//	  Paddy: Split nitrogen into three doses.
//	  Groundnut: Apply gypsum at flowering.
type tableFile struct {
	Tips map[string]string `yaml:"tips"`
}

// Load reads a YAML override table and layers it over the defaults. An
// empty path returns Default().
func Load(path string) (*Table, error) {
	t := Default()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fertilizer: read %s", path)
	}
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "fertilizer: parse %s", path)
	}
	for crop, tip := range f.Tips {
		crop, tip = strings.TrimSpace(crop), strings.TrimSpace(tip)
		if crop == "" || tip == "" {
			continue
		}
		t.tips[crop] = tip
	}
	return t, nil
}

// Suggest returns the tip for crop, or Fallback. Lookup is exact.
func (t *Table) Suggest(crop string) string {
	if tip, ok := t.tips[crop]; ok {
		return tip
	}
	return Fallback
}

// All returns a copy of the table.
func (t *Table) All() map[string]string {
	return maps.Clone(t.tips)
}
