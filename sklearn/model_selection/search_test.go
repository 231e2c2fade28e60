package model_selection

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pulearn/core/dataset"
	"github.com/YuminosukeSato/pulearn/core/model"
	"github.com/YuminosukeSato/pulearn/core/rng"
	"github.com/YuminosukeSato/pulearn/metrics"
	"github.com/YuminosukeSato/pulearn/pkg/errors"
	"github.com/YuminosukeSato/pulearn/sklearn/linear_model"
	"github.com/YuminosukeSato/pulearn/sklearn/semi_supervised"
)

func init() {
	errors.SetWarningHandler(func(error) {})
}

// puDataset は正例が特徴量0で大きな値をとる nPos/nNeg/nUnl 行のデータ。
// 未ラベルの1/5は正例と同じ分布から作る
func puDataset(nPos, nNeg, nUnl int, seed int64) (*mat.Dense, *mat.VecDense) {
	r := rng.New(seed)
	y := puLabels(nPos, nNeg, nUnl)
	X := mat.NewDense(len(y), 2, nil)
	for i, l := range y {
		center := -1.5
		if l == dataset.Positive || (l == dataset.Unlabeled && i%5 == 0) {
			center = 1.5
		}
		X.Set(i, 0, center+r.NormFloat64()*0.5)
		X.Set(i, 1, r.NormFloat64())
	}
	return X, dataset.LabelVec(y)
}

// constScorer は常に同じ値を返し、任意で待つ
type constScorer struct {
	value float64
	delay time.Duration
}

func (s constScorer) Score(model.Classifier, mat.Matrix, []dataset.Label) (float64, error) {
	time.Sleep(s.delay)
	return s.value, nil
}

func (s constScorer) Name() string { return "const" }

func labelsOf(y *mat.VecDense) []dataset.Label {
	labels, err := dataset.ParseLabels(y)
	if err != nil {
		panic(err)
	}
	return labels
}

func TestCrossValScore(t *testing.T) {
	X, y := puDataset(10, 10, 30, 1)
	labels := labelsOf(y)
	folds, err := NewStratifiedKFold(3, true).Split(labels, 0)
	require.NoError(t, err)

	m, err := metrics.MetricByName(metrics.LabeledF1, metrics.DefaultPrior)
	require.NoError(t, err)
	scores, err := CrossValScore(context.Background(),
		semi_supervised.NewPNUWrapper(linear_model.NewLogisticRegression()),
		model.Params{"num_unlabeled": 10},
		X, labels, folds, metrics.MakeScorer(m))
	require.NoError(t, err)
	require.Len(t, scores, 3)
	for _, s := range scores {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestRandomizedSearchCV_Deterministic(t *testing.T) {
	X, y := puDataset(10, 10, 30, 2)
	labels := labelsOf(y)
	space := ParamSpace{
		"num_unlabeled":     IntRange{Low: 5, High: 15},
		"threshold_set_pct": Choice{Values: []interface{}{0.2, nil}},
		"base_estimator__C": Uniform{Loc: 0.1, Scale: 5},
	}
	search := NewRandomizedSearchCV(space, 4, WithSearchNJobs(2))
	est := semi_supervised.NewPNUWrapper(linear_model.NewLogisticRegression(linear_model.WithLRMaxIter(50)))

	a, err := search.Search(context.Background(), est, X, labels, NewStratifiedKFold(2, true), 11)
	require.NoError(t, err)
	b, err := search.Search(context.Background(), est, X, labels, NewStratifiedKFold(2, true), 11)
	require.NoError(t, err)

	require.Len(t, a.Candidates, 4)
	assert.Equal(t, a.BestIndex, b.BestIndex)
	assert.Equal(t, a.BestParams, b.BestParams)
	for i := range a.Candidates {
		assert.Equal(t, i, a.Candidates[i].Index)
		assert.Equal(t, a.Candidates[i].Params, b.Candidates[i].Params)
		assert.Equal(t, a.Candidates[i].FoldScores, b.Candidates[i].FoldScores)
	}
	assert.Equal(t, metrics.AssumedF1, a.Scorer)
	assert.Equal(t, search.Candidates(11), search.Candidates(11))
}

func TestGridSearchCV_TiesAndFailures(t *testing.T) {
	X, y := puDataset(6, 6, 12, 3)
	labels := labelsOf(y)

	grid := ParamGrid{"base_estimator__C": {-1.0, 1.0, 2.0}}
	search := NewGridSearchCV(grid, WithScorer(constScorer{value: 0.7}), WithSearchNJobs(1))
	res, err := search.Search(context.Background(),
		semi_supervised.NewPNUWrapper(linear_model.NewLogisticRegression()),
		X, labels, NewStratifiedKFold(2, true), 0)
	require.NoError(t, err)

	assert.True(t, res.Candidates[0].Failed())
	assert.True(t, math.IsNaN(res.Candidates[0].MeanScore))
	// 同点なら番号の小さい候補
	assert.Equal(t, 1, res.BestIndex)
	assert.Equal(t, 1.0, res.BestParams["base_estimator__C"])
	assert.InDelta(t, 0.7, res.BestScore, 1e-12)
	assert.Equal(t, 0.0, res.Best().StdScore)
}

func TestSearchExhausted(t *testing.T) {
	X, y := puDataset(6, 6, 12, 4)
	labels := labelsOf(y)
	search := NewGridSearchCV(ParamGrid{"base_estimator__max_iter": {0, -5}})
	_, err := search.Search(context.Background(),
		semi_supervised.NewPNUWrapper(linear_model.NewLogisticRegression()),
		X, labels, NewStratifiedKFold(2, true), 0)

	var se *errors.SearchExhaustedError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 2, se.Candidates)
	assert.Equal(t, 2, se.Failed)
}

func TestSearchTimeBudget(t *testing.T) {
	X, y := puDataset(6, 6, 12, 5)
	labels := labelsOf(y)
	search := NewGridSearchCV(ParamGrid{"random_state": {1, 2, 3}},
		WithScorer(constScorer{value: 1, delay: 30 * time.Millisecond}),
		WithSearchNJobs(1),
		WithTimeBudget(5*time.Millisecond),
	)
	_, err := search.Search(context.Background(),
		semi_supervised.NewPNUWrapper(linear_model.NewLogisticRegression(linear_model.WithLRMaxIter(5))),
		X, labels, NewStratifiedKFold(2, true), 0)

	var se *errors.SearchExhaustedError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, 3, se.Failed)
}

func TestSearchConfigurationErrors(t *testing.T) {
	X, y := puDataset(6, 6, 12, 6)
	labels := labelsOf(y)
	est := semi_supervised.NewPNUWrapper(linear_model.NewLogisticRegression())

	_, err := NewRandomizedSearchCV(ParamSpace{}, 0).Search(context.Background(), est, X, labels, NewKFold(2, false), 0)
	var ce *errors.ConfigurationError
	assert.True(t, errors.As(err, &ce))

	_, err = NewGridSearchCV(ParamGrid{}).Search(context.Background(), nil, X, labels, NewKFold(2, false), 0)
	assert.True(t, errors.As(err, &ce))

	_, err = NewGridSearchCV(ParamGrid{}).Search(context.Background(), est, X, labels, nil, 0)
	assert.True(t, errors.As(err, &ce))
}
