// Package classifier implements the irrigation classifier: a seeded random
// forest of CART trees, and the artifact file it is persisted as.
package classifier

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/rotisserie/eris"
)

// Params are the forest settings. The zero value of each field selects
// the default.
type Params struct {
	Trees           int    `json:"trees"`
	MaxDepth        int    `json:"max_depth"`
	MinSamplesSplit int    `json:"min_samples_split"`
	MinSamplesLeaf  int    `json:"min_samples_leaf"`
	MaxFeatures     int    `json:"max_features"`
	Seed            uint64 `json:"seed"`
}

// DefaultParams mirrors the stock ensemble settings: 100 trees, unlimited
// depth, sqrt(features) candidates per split, seed 42.
func DefaultParams() Params {
	return Params{
		Trees:           100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Seed:            42,
	}
}

func (p Params) withDefaults(features int) Params {
	d := DefaultParams()
	if p.Trees <= 0 {
		p.Trees = d.Trees
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = d.MinSamplesSplit
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = d.MinSamplesLeaf
	}
	if p.MaxFeatures <= 0 || p.MaxFeatures > features {
		p.MaxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(features)))))
	}
	return p
}

// Tree is a binary decision tree stored as parallel node arrays. Node 0 is
// the root; Feature is -1 on leaves.
type Tree struct {
	Feature   []int     `json:"feature"`
	Threshold []float64 `json:"threshold"`
	Left      []int     `json:"left"`
	Right     []int     `json:"right"`
	Value     []float64 `json:"value"`
}

// Probability returns P(label=1) for x.
func (t *Tree) Probability(x []float64) float64 {
	n := 0
	for t.Feature[n] >= 0 {
		if x[t.Feature[n]] <= t.Threshold[n] {
			n = t.Left[n]
		} else {
			n = t.Right[n]
		}
	}
	return t.Value[n]
}

// Nodes returns the node count.
func (t *Tree) Nodes() int { return len(t.Feature) }

func (t *Tree) addNode() int {
	t.Feature = append(t.Feature, -1)
	t.Threshold = append(t.Threshold, 0)
	t.Left = append(t.Left, -1)
	t.Right = append(t.Right, -1)
	t.Value = append(t.Value, 0)
	return len(t.Feature) - 1
}

// Forest is a bagged ensemble of trees.
type Forest struct {
	Features int    `json:"features"`
	Trees    []Tree `json:"trees"`
}

// Probability averages the trees' leaf probabilities for x.
func (f *Forest) Probability(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].Probability(x)
	}
	return sum / float64(len(f.Trees))
}

// Predict returns 1 when P(label=1) is strictly above one half.
func (f *Forest) Predict(x []float64) int {
	if f.Probability(x) > 0.5 {
		return 1
	}
	return 0
}

// Fit trains a forest on rows X with binary labels y. The context is
// checked between trees.
func Fit(ctx context.Context, X [][]float64, y []int, p Params) (*Forest, error) {
	if len(X) == 0 {
		return nil, eris.New("classifier: fit: no rows")
	}
	if len(X) != len(y) {
		return nil, eris.Errorf("classifier: fit: %d rows but %d labels", len(X), len(y))
	}
	width := len(X[0])
	if width == 0 {
		return nil, eris.New("classifier: fit: rows have no features")
	}
	for i, row := range X {
		if len(row) != width {
			return nil, eris.Errorf("classifier: fit: row %d has %d features, want %d", i, len(row), width)
		}
		if y[i] != 0 && y[i] != 1 {
			return nil, eris.Errorf("classifier: fit: row %d has label %d", i, y[i])
		}
	}

	p = p.withDefaults(width)
	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))

	f := &Forest{Features: width, Trees: make([]Tree, 0, p.Trees)}
	b := &builder{X: X, y: y, p: p, rng: rng}
	n := len(X)
	for i := 0; i < p.Trees; i++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "classifier: fit cancelled")
		}
		sample := make([]int, n)
		for j := range sample {
			sample[j] = rng.IntN(n)
		}
		var t Tree
		b.grow(&t, sample, 0)
		f.Trees = append(f.Trees, t)
	}
	return f, nil
}

type builder struct {
	X   [][]float64
	y   []int
	p   Params
	rng *rand.Rand
}

// grow adds the subtree for idx to t and returns its node index.
func (b *builder) grow(t *Tree, idx []int, depth int) int {
	node := t.addNode()
	pos := 0
	for _, i := range idx {
		pos += b.y[i]
	}
	t.Value[node] = float64(pos) / float64(len(idx))

	if pos == 0 || pos == len(idx) ||
		len(idx) < b.p.MinSamplesSplit ||
		(b.p.MaxDepth > 0 && depth >= b.p.MaxDepth) {
		return node
	}

	feature, threshold, ok := b.bestSplit(idx, pos)
	if !ok {
		return node
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	t.Feature[node] = feature
	t.Threshold[node] = threshold
	l := b.grow(t, left, depth+1)
	r := b.grow(t, right, depth+1)
	t.Left[node] = l
	t.Right[node] = r
	return node
}

// bestSplit searches a random feature subset for the split with the lowest
// weighted Gini impurity. Like the usual CART implementation it keeps
// drawing features past MaxFeatures until at least one valid split exists.
func (b *builder) bestSplit(idx []int, pos int) (int, float64, bool) {
	n := len(idx)
	parent := gini(pos, n)
	bestScore := parent
	bestFeature, bestThreshold := -1, 0.0

	order := b.rng.Perm(len(b.X[idx[0]]))
	sorted := make([]int, n)
	for visited, feature := range order {
		if visited >= b.p.MaxFeatures && bestFeature >= 0 {
			break
		}
		copy(sorted, idx)
		sort.Slice(sorted, func(i, j int) bool {
			return b.X[sorted[i]][feature] < b.X[sorted[j]][feature]
		})

		leftPos := 0
		for k := 1; k < n; k++ {
			leftPos += b.y[sorted[k-1]]
			lo, hi := b.X[sorted[k-1]][feature], b.X[sorted[k]][feature]
			if lo == hi {
				continue
			}
			if k < b.p.MinSamplesLeaf || n-k < b.p.MinSamplesLeaf {
				continue
			}
			score := (float64(k)*gini(leftPos, k) + float64(n-k)*gini(pos-leftPos, n-k)) / float64(n)
			if score < bestScore-1e-12 {
				bestScore = score
				bestFeature = feature
				bestThreshold = lo + (hi-lo)/2
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func gini(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}
