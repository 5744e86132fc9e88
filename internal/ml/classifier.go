package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

// ErrModelNotTrained is returned by Predict before any model has been
// trained or restored.
var ErrModelNotTrained = errors.New("model not trained")

// Model is one immutable trained classifier: feature builder, scaler,
// and ensemble, serialized together as a repository artifact.
type Model struct {
	Version      string          `json:"version"`
	TrainedAt    time.Time       `json:"trained_at"`
	FeatureNames []string        `json:"feature_names"`
	Builder      *FeatureBuilder `json:"builder"`
	Scaler       *StandardScaler `json:"scaler"`
	Ensemble     *GBM            `json:"ensemble"`
	Report       TrainingReport  `json:"report"`
}

// ClassMetrics is precision and recall for one label class on the
// held-out fold.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
}

// TrainingReport summarizes one training run. TestPrecision and
// TestRecall cover the suspicious class; TestByClass breaks the same
// metrics out per class so a degenerate clean-class model is visible.
type TrainingReport struct {
	Version       string                  `json:"version"`
	TrainedAt     time.Time               `json:"trained_at"`
	Samples       int                     `json:"samples"`
	TrainSamples  int                     `json:"train_samples"`
	TestSamples   int                     `json:"test_samples"`
	Positives     int                     `json:"positives"`
	TrainAccuracy float64                 `json:"train_accuracy"`
	TestAccuracy  float64                 `json:"test_accuracy"`
	TestPrecision float64                 `json:"test_precision"`
	TestRecall    float64                 `json:"test_recall"`
	TestByClass   map[string]ClassMetrics `json:"test_by_class"`
}

// Prediction is the advisory output for one transaction.
type Prediction struct {
	TransactionID string  `json:"transaction_id"`
	IsSuspicious  bool    `json:"is_suspicious"`
	Probability   float64 `json:"probability"`
	ModelVersion  string  `json:"model_version"`
}

// Classifier trains and serves the advisory model. The active model is
// swapped atomically so predictions never observe a half-trained
// state. Persistence through the repository is best effort from the
// caller's perspective: a failed save leaves the in-memory model live.
type Classifier struct {
	cfg   domain.ClassifierConfig
	repo  domain.Repository
	model atomic.Pointer[Model]
}

// NewClassifier creates a classifier. repo may be nil for ephemeral
// use in tests.
func NewClassifier(cfg domain.ClassifierConfig, repo domain.Repository) *Classifier {
	return &Classifier{cfg: cfg, repo: repo}
}

// Ready reports whether a model is available for predictions.
func (c *Classifier) Ready() bool {
	return c.model.Load() != nil
}

// ActiveReport returns the training report of the live model.
func (c *Classifier) ActiveReport() (TrainingReport, error) {
	model := c.model.Load()
	if model == nil {
		return TrainingReport{}, ErrModelNotTrained
	}
	return model.Report, nil
}

// Train fits a new model on the scored batch, using the rule verdict
// as the label, swaps it live, and persists it as a repository
// artifact.
func (c *Classifier) Train(ctx context.Context, scored []domain.ScoredTransaction) (TrainingReport, error) {
	if len(scored) < 10 {
		return TrainingReport{}, fmt.Errorf("need at least 10 scored transactions, have %d", len(scored))
	}

	batch := make([]domain.Transaction, len(scored))
	labels := make([]int, len(scored))
	positives := 0
	for i := range scored {
		batch[i] = scored[i].Transaction
		if scored[i].Detection.IsSuspicious {
			labels[i] = 1
			positives++
		}
	}
	if positives == 0 || positives == len(scored) {
		return TrainingReport{}, errors.New("training requires both suspicious and clean transactions in the batch")
	}

	// Encoders see the whole batch so no in-batch category is unknown.
	builder := NewFeatureBuilder()
	builder.Fit(batch)
	rows := builder.Rows(batch)

	trainIdx, testIdx := stratifiedSplit(labels, 0.2, c.cfg.Seed)

	// Scaler statistics come from the training fold only.
	trainRows := indexRows(rows, trainIdx)
	scaler := &StandardScaler{}
	scaler.Fit(trainRows)
	scaler.Transform(rows)

	trainLabels := indexLabels(labels, trainIdx)

	gbmCfg := GBMConfig{
		Estimators:   c.cfg.Estimators,
		MaxDepth:     c.cfg.MaxDepth,
		LearningRate: c.cfg.LearningRate,
		Subsample:    c.cfg.Subsample,
		Seed:         c.cfg.Seed,
	}
	ensemble := TrainGBM(gbmCfg, indexRows(rows, trainIdx), trainLabels)

	report := TrainingReport{
		Version:      uuid.New().String(),
		TrainedAt:    time.Now().UTC(),
		Samples:      len(scored),
		TrainSamples: len(trainIdx),
		TestSamples:  len(testIdx),
		Positives:    positives,
	}
	report.TrainAccuracy = accuracy(ensemble, rows, labels, trainIdx)
	report.TestAccuracy = accuracy(ensemble, rows, labels, testIdx)

	suspicious := classMetrics(ensemble, rows, labels, testIdx, 1)
	clean := classMetrics(ensemble, rows, labels, testIdx, 0)
	report.TestPrecision = suspicious.Precision
	report.TestRecall = suspicious.Recall
	report.TestByClass = map[string]ClassMetrics{
		"suspicious": suspicious,
		"clean":      clean,
	}

	model := &Model{
		Version:      report.Version,
		TrainedAt:    report.TrainedAt,
		FeatureNames: FeatureNames(),
		Builder:      builder,
		Scaler:       scaler,
		Ensemble:     ensemble,
		Report:       report,
	}

	c.model.Store(model)

	if c.repo != nil {
		payload, err := json.Marshal(model)
		if err != nil {
			return report, fmt.Errorf("failed to serialize model: %w", err)
		}
		artifact := &domain.ModelArtifact{
			Version:   model.Version,
			TrainedAt: model.TrainedAt,
			Payload:   payload,
		}
		if err := c.repo.SaveModelArtifact(ctx, artifact); err != nil {
			return report, fmt.Errorf("failed to persist model artifact: %w", err)
		}
	}

	return report, nil
}

// Predict scores one transaction with the live model.
func (c *Classifier) Predict(tx *domain.Transaction) (Prediction, error) {
	model := c.model.Load()
	if model == nil {
		return Prediction{}, ErrModelNotTrained
	}

	row := model.Builder.Row(tx)
	model.Scaler.TransformRow(row)
	prob := model.Ensemble.Score(row)

	return Prediction{
		TransactionID: tx.ID,
		IsSuspicious:  prob >= 0.5,
		Probability:   prob,
		ModelVersion:  model.Version,
	}, nil
}

// RestoreLatest loads the most recent persisted artifact, if any. A
// repository without artifacts is not an error.
func (c *Classifier) RestoreLatest(ctx context.Context) (bool, error) {
	if c.repo == nil {
		return false, nil
	}

	artifact, err := c.repo.LatestModelArtifact(ctx)
	if err != nil {
		return false, err
	}
	if artifact == nil {
		return false, nil
	}

	var model Model
	if err := json.Unmarshal(artifact.Payload, &model); err != nil {
		return false, fmt.Errorf("failed to decode model artifact %s: %w", artifact.Version, err)
	}

	c.model.Store(&model)
	return true, nil
}

// stratifiedSplit splits indices into train and test folds preserving
// the class balance. The split is deterministic for a given seed.
func stratifiedSplit(labels []int, testFraction float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))

	var pos, neg []int
	for i, y := range labels {
		if y == 1 {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}

	splitClass := func(idx []int) {
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		k := int(testFraction * float64(len(idx)))
		if k < 1 && len(idx) > 1 {
			k = 1
		}
		test = append(test, idx[:k]...)
		train = append(train, idx[k:]...)
	}

	splitClass(pos)
	splitClass(neg)
	return train, test
}

func indexRows(rows [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out
}

func indexLabels(labels []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = labels[j]
	}
	return out
}

func accuracy(m *GBM, rows [][]float64, labels []int, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	correct := 0
	for _, i := range idx {
		pred := 0
		if m.Score(rows[i]) >= 0.5 {
			pred = 1
		}
		if pred == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(idx))
}

// classMetrics treats target as the positive label and computes
// precision and recall for it on the given fold.
func classMetrics(m *GBM, rows [][]float64, labels []int, idx []int, target int) ClassMetrics {
	var tp, fp, fn float64
	for _, i := range idx {
		pred := 0
		if m.Score(rows[i]) >= 0.5 {
			pred = 1
		}
		switch {
		case pred == target && labels[i] == target:
			tp++
		case pred == target && labels[i] != target:
			fp++
		case pred != target && labels[i] == target:
			fn++
		}
	}

	var out ClassMetrics
	if tp+fp > 0 {
		out.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		out.Recall = tp / (tp + fn)
	}
	return out
}
