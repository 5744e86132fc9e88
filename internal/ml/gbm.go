package ml

import (
	"math"
	"math/rand"
	"sort"
)

// GBMConfig holds ensemble training hyperparameters.
type GBMConfig struct {
	Estimators   int     `json:"estimators"`
	MaxDepth     int     `json:"max_depth"`
	LearningRate float64 `json:"learning_rate"`
	Subsample    float64 `json:"subsample"`
	Seed         int64   `json:"seed"`
}

// DefaultGBMConfig returns the training defaults.
func DefaultGBMConfig() GBMConfig {
	return GBMConfig{
		Estimators:   100,
		MaxDepth:     5,
		LearningRate: 0.1,
		Subsample:    0.8,
		Seed:         42,
	}
}

// treeNode is one node of a regression tree. Leaves carry the boosting
// step value; internal nodes split on feature <= threshold.
type treeNode struct {
	Leaf      bool      `json:"leaf"`
	Value     float64   `json:"value,omitempty"`
	Feature   int       `json:"feature,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Left      *treeNode `json:"left,omitempty"`
	Right     *treeNode `json:"right,omitempty"`
}

func (n *treeNode) predict(row []float64) float64 {
	node := n
	for !node.Leaf {
		if row[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Value
}

// GBM is a gradient-boosted ensemble of regression trees minimizing
// logistic loss for binary classification.
type GBM struct {
	Config GBMConfig   `json:"config"`
	Base   float64     `json:"base"`
	Trees  []*treeNode `json:"trees"`
}

// minLeafSamples stops splitting small partitions.
const minLeafSamples = 2

// TrainGBM fits the ensemble on a standardized feature matrix and
// binary labels.
func TrainGBM(cfg GBMConfig, rows [][]float64, labels []int) *GBM {
	n := len(rows)
	rng := rand.New(rand.NewSource(cfg.Seed))

	// Base score is the log odds of the positive class.
	pos := 0
	for _, y := range labels {
		if y == 1 {
			pos++
		}
	}
	p := float64(pos) / float64(n)
	p = clampProb(p)
	base := math.Log(p / (1 - p))

	model := &GBM{
		Config: cfg,
		Base:   base,
		Trees:  make([]*treeNode, 0, cfg.Estimators),
	}

	// Raw scores updated additively each round.
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = base
	}

	residuals := make([]float64, n)
	hessians := make([]float64, n)

	for round := 0; round < cfg.Estimators; round++ {
		for i := range rows {
			prob := sigmoid(scores[i])
			residuals[i] = float64(labels[i]) - prob
			hessians[i] = prob * (1 - prob)
		}

		sample := subsampleIndices(rng, n, cfg.Subsample)
		tree := buildTree(rows, residuals, hessians, sample, cfg.MaxDepth)
		model.Trees = append(model.Trees, tree)

		for i := range rows {
			scores[i] += cfg.LearningRate * tree.predict(rows[i])
		}
	}

	return model
}

// Score returns the positive-class probability for one row.
func (m *GBM) Score(row []float64) float64 {
	score := m.Base
	for _, tree := range m.Trees {
		score += m.Config.LearningRate * tree.predict(row)
	}
	return sigmoid(score)
}

// subsampleIndices draws a fraction of row indices without
// replacement.
func subsampleIndices(rng *rand.Rand, n int, fraction float64) []int {
	if fraction <= 0 || fraction >= 1 {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}

	k := int(fraction * float64(n))
	if k < 1 {
		k = 1
	}
	perm := rng.Perm(n)
	return perm[:k]
}

// buildTree grows a regression tree on the sampled rows, splitting by
// squared-error reduction over residuals. Leaf values take a Newton
// step: sum of residuals over sum of hessians.
func buildTree(rows [][]float64, residuals, hessians []float64, sample []int, depth int) *treeNode {
	if depth == 0 || len(sample) < minLeafSamples*2 {
		return leafNode(residuals, hessians, sample)
	}

	feature, threshold, ok := bestSplit(rows, residuals, sample)
	if !ok {
		return leafNode(residuals, hessians, sample)
	}

	var left, right []int
	for _, i := range sample {
		if rows[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < minLeafSamples || len(right) < minLeafSamples {
		return leafNode(residuals, hessians, sample)
	}

	return &treeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      buildTree(rows, residuals, hessians, left, depth-1),
		Right:     buildTree(rows, residuals, hessians, right, depth-1),
	}
}

func leafNode(residuals, hessians []float64, sample []int) *treeNode {
	var num, den float64
	for _, i := range sample {
		num += residuals[i]
		den += hessians[i]
	}
	if den < 1e-12 {
		den = 1e-12
	}
	return &treeNode{Leaf: true, Value: num / den}
}

// bestSplit scans every feature for the threshold with the largest
// squared-error reduction. Candidate thresholds are midpoints between
// consecutive distinct sorted values.
func bestSplit(rows [][]float64, residuals []float64, sample []int) (int, float64, bool) {
	if len(sample) == 0 {
		return 0, 0, false
	}

	cols := len(rows[sample[0]])

	var total, totalSq float64
	for _, i := range sample {
		total += residuals[i]
		totalSq += residuals[i] * residuals[i]
	}
	count := float64(len(sample))
	baseErr := totalSq - total*total/count

	bestGain := 1e-9
	bestFeature := -1
	bestThreshold := 0.0

	ordered := make([]int, len(sample))

	for j := 0; j < cols; j++ {
		copy(ordered, sample)
		sortByFeature(rows, ordered, j)

		var leftSum, leftSq float64
		leftCount := 0.0

		for k := 0; k < len(ordered)-1; k++ {
			i := ordered[k]
			leftSum += residuals[i]
			leftSq += residuals[i] * residuals[i]
			leftCount++

			cur := rows[ordered[k]][j]
			next := rows[ordered[k+1]][j]
			if cur == next {
				continue
			}
			if int(leftCount) < minLeafSamples || len(ordered)-int(leftCount) < minLeafSamples {
				continue
			}

			rightSum := total - leftSum
			rightSq := totalSq - leftSq
			rightCount := count - leftCount

			leftErr := leftSq - leftSum*leftSum/leftCount
			rightErr := rightSq - rightSum*rightSum/rightCount
			gain := baseErr - leftErr - rightErr

			if gain > bestGain {
				bestGain = gain
				bestFeature = j
				bestThreshold = (cur + next) / 2
			}
		}
	}

	if bestFeature < 0 {
		return 0, 0, false
	}
	return bestFeature, bestThreshold, true
}

// sortByFeature orders the index slice by one feature column.
func sortByFeature(rows [][]float64, idx []int, feature int) {
	sort.Slice(idx, func(a, b int) bool {
		return rows[idx[a]][feature] < rows[idx[b]][feature]
	})
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clampProb(p float64) float64 {
	const eps = 1e-6
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}
