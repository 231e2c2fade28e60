package model_selection

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pulearn/core/model"
	"github.com/YuminosukeSato/pulearn/metrics"
	"github.com/YuminosukeSato/pulearn/pkg/errors"
	"github.com/YuminosukeSato/pulearn/sklearn/linear_model"
	"github.com/YuminosukeSato/pulearn/sklearn/semi_supervised"
)

const marker = 999.0

// fragile は学習データに marker 行が含まれると失敗する
type fragile struct{}

func (fragile) Fit(X mat.Matrix, y mat.Vector) error {
	r, _ := X.Dims()
	for i := 0; i < r; i++ {
		if X.At(i, 0) == marker {
			return errors.New("marker row in training data")
		}
	}
	return nil
}

func (fragile) PredictProba(X mat.Matrix) (*mat.VecDense, error) {
	r, _ := X.Dims()
	out := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		if X.At(i, 0) > 0 {
			out.SetVec(i, 1)
		}
	}
	return out, nil
}

func (fragile) Clone() model.Classifier { return fragile{} }

func newPUSearch() *RandomizedSearchCV {
	return NewRandomizedSearchCV(ParamSpace{
		"num_unlabeled":     IntRange{Low: 5, High: 20},
		"threshold_set_pct": Choice{Values: []interface{}{0.2, nil}},
	}, 2)
}

func TestNestedCV_PartitionsOuterFolds(t *testing.T) {
	X, y := puDataset(20, 20, 60, 7)
	est := semi_supervised.NewPNUWrapper(linear_model.NewLogisticRegression(linear_model.WithLRMaxIter(50)))
	ncv := NewNestedCV(est, newPUSearch(),
		WithOuterFolds(5),
		WithInnerFolds(2),
		WithRandomState(42),
	)

	res, err := ncv.Run(context.Background(), X, y)
	require.NoError(t, err)
	require.Len(t, res.Folds, 5)
	assert.Empty(t, res.Failed())

	var all []int
	for i, f := range res.Folds {
		assert.Equal(t, i, f.Fold)
		assert.Len(t, f.TestIndices, 20)
		require.NotNil(t, f.Scores)
		assert.Equal(t, metrics.NewMultiScorer().Names(), f.Scores.Names())
		assert.NotEmpty(t, f.BestParams)
		all = append(all, f.TestIndices...)
	}
	sort.Ints(all)
	for i, idx := range all {
		assert.Equal(t, i, idx)
	}

	assert.Len(t, res.ScoreGrid(), 10)
	scores := res.ExtractScores(metrics.LabeledF1)
	assert.Len(t, scores, 5)

	summary := res.Summary()
	require.Len(t, summary, len(res.Metrics))
	for _, s := range summary {
		if s.Metric == metrics.LabeledF1 {
			assert.Equal(t, 5, s.Count)
			assert.False(t, math.IsNaN(s.Mean))
			assert.GreaterOrEqual(t, s.Variance, 0.0)
		}
	}
}

func TestNestedCV_Reproducible(t *testing.T) {
	X, y := puDataset(20, 20, 60, 8)
	run := func(jobs int) *NestedCVResult {
		est := semi_supervised.NewPNUWrapper(linear_model.NewLogisticRegression(linear_model.WithLRMaxIter(30)))
		ncv := NewNestedCV(est, newPUSearch(),
			WithOuterFolds(5), WithInnerFolds(2), WithRandomState(3), WithNJobs(jobs))
		res, err := ncv.Run(context.Background(), X, y)
		require.NoError(t, err)
		return res
	}
	a, b := run(1), run(4)
	for i := range a.Folds {
		assert.Equal(t, a.Folds[i].TestIndices, b.Folds[i].TestIndices)
		assert.Equal(t, a.Folds[i].BestParams, b.Folds[i].BestParams)
		ja, err := json.Marshal(a.Folds[i].Scores)
		require.NoError(t, err)
		jb, err := json.Marshal(b.Folds[i].Scores)
		require.NoError(t, err)
		assert.JSONEq(t, string(ja), string(jb))
	}
}

func TestNestedCV_FailedFoldIsRecorded(t *testing.T) {
	X, y := puDataset(20, 20, 60, 9)
	X.Set(0, 0, marker)

	ncv := NewNestedCV(fragile{}, NewGridSearchCV(ParamGrid{}),
		WithOuterFolds(5), WithInnerFolds(2), WithRandomState(1))
	res, err := ncv.Run(context.Background(), X, y)
	require.NoError(t, err)
	require.Len(t, res.Folds, 5)

	// marker 行がテスト側にあるフォールドだけが成功する
	failed := res.Failed()
	assert.Len(t, failed, 4)
	for _, f := range failed {
		assert.Nil(t, f.Scores)
		assert.Nil(t, f.Search)
		assert.Contains(t, f.Error, "no valid candidate")
		assert.NotContains(t, f.TestIndices, 0)

		var se *errors.SearchExhaustedError
		require.True(t, errors.As(f.Err(), &se), "got %v", f.Err())
		assert.Equal(t, 1, se.Candidates)
	}
	for _, f := range res.Folds {
		if !f.Failed() {
			assert.NoError(t, f.Err())
		}
	}

	nan := 0
	for _, v := range res.ExtractScores(metrics.AssumedF1) {
		if math.IsNaN(v) {
			nan++
		}
	}
	assert.Equal(t, 4, nan)

	for _, s := range res.Summary() {
		if s.Metric == metrics.AssumedF1 {
			assert.Equal(t, 1, s.Count)
			assert.True(t, math.IsNaN(s.Variance))
		}
	}
}

func TestNestedCV_ConfigurationErrors(t *testing.T) {
	X, y := puDataset(8, 8, 20, 10)
	est := semi_supervised.NewPNUWrapper(linear_model.NewLogisticRegression())

	tests := []struct {
		name string
		ncv  *NestedCV
	}{
		{"too many outer folds", NewNestedCV(est, newPUSearch(), WithOuterFolds(5))},
		{"too many inner folds", NewNestedCV(est, newPUSearch(), WithOuterFolds(2), WithInnerFolds(3))},
		{"single outer fold", NewNestedCV(est, newPUSearch(), WithOuterFolds(1))},
		{"nil searcher", NewNestedCV(est, nil)},
		{"nil estimator", NewNestedCV(nil, newPUSearch())},
		{"zero search iterations", NewNestedCV(est, NewRandomizedSearchCV(ParamSpace{
			"num_unlabeled": IntRange{Low: 2, High: 5},
		}, 0), WithOuterFolds(2), WithInnerFolds(2))},
		{"empty search range", NewNestedCV(est, NewRandomizedSearchCV(ParamSpace{
			"num_unlabeled": IntRange{Low: 5, High: 5},
		}, 2), WithOuterFolds(2), WithInnerFolds(2))},
		{"empty grid axis", NewNestedCV(est, NewGridSearchCV(ParamGrid{
			"num_unlabeled": {},
		}), WithOuterFolds(2), WithInnerFolds(2))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.ncv.Run(context.Background(), X, y)
			var ce *errors.ConfigurationError
			assert.True(t, errors.As(err, &ce), "got %v", err)
		})
	}

	bad := mat.VecDenseCopyOf(y)
	bad.SetVec(3, 0.5)
	_, err := NewNestedCV(est, newPUSearch(), WithOuterFolds(2), WithInnerFolds(2)).Run(context.Background(), X, bad)
	var le *errors.LabelDomainError
	assert.True(t, errors.As(err, &le))
}

func TestNestedCVResult_Persistence(t *testing.T) {
	X, y := puDataset(20, 20, 60, 11)
	X.Set(0, 0, marker)
	res, err := NewNestedCV(fragile{}, NewGridSearchCV(ParamGrid{}),
		WithOuterFolds(5), WithInnerFolds(2), WithRandomState(2)).Run(context.Background(), X, y)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(res, &buf))
	var loaded NestedCVResult
	require.NoError(t, model.LoadModelFromReader(&loaded, &buf))

	require.Len(t, loaded.Folds, 5)
	assert.Equal(t, res.Metrics, loaded.Metrics)
	assert.Len(t, loaded.Failed(), len(res.Failed()))
	for i := range res.Folds {
		assert.Equal(t, res.Folds[i].TestIndices, loaded.Folds[i].TestIndices)
		assert.Equal(t, res.Folds[i].Error, loaded.Folds[i].Error)
		if loaded.Folds[i].Failed() {
			assert.EqualError(t, loaded.Folds[i].Err(), res.Folds[i].Error)
		}
	}
	want, got := res.ExtractScores(metrics.AssumedF1), loaded.ExtractScores(metrics.AssumedF1)
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.True(t, math.IsNaN(got[i]))
			continue
		}
		assert.Equal(t, want[i], got[i])
	}
}
