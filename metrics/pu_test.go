package metrics

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pulearn/core/dataset"
	"github.com/YuminosukeSato/pulearn/core/model"
	"github.com/YuminosukeSato/pulearn/pkg/errors"
)

func silenceWarnings(t *testing.T) *[]error {
	t.Helper()
	var got []error
	errors.SetWarningHandler(func(w error) { got = append(got, w) })
	t.Cleanup(func() { errors.SetWarningHandler(func(error) {}) })
	return &got
}

func preds(p ...float64) Predictions {
	return Predictions{Proba: mat.NewVecDense(len(p), p), Threshold: 0.5}
}

func TestAssumedTreatsUnlabeledAsNegative(t *testing.T) {
	y := []dataset.Label{1, 1, 0, -1, -1}
	p := preds(0.9, 0.2, 0.1, 0.8, 0.3)

	// assumed: yTrue = 1,1,0,0,0 ; yHat = 1,0,0,1,0 → TP=1 FP=1 FN=1
	got, err := Assumed(F1Metric)(y, p)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-12)

	// labeled: rows 0..2 → yTrue 1,1,0 ; yHat 1,0,0 → precision 1, recall .5
	got, err = Labeled(F1Metric)(y, p)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3, got, 1e-12)
}

func TestLabeledUndefinedWhenAllUnlabeled(t *testing.T) {
	warnings := silenceWarnings(t)
	m := Metric{Name: LabeledF1, Fn: Labeled(F1Metric), GreaterIsBetter: true}

	v, err := m.Evaluate([]dataset.Label{-1, -1}, preds(0.2, 0.9))
	require.NoError(t, err)
	assert.True(t, IsUndefined(v))
	require.Len(t, *warnings, 1)

	var w *errors.UndefinedMetricWarning
	require.True(t, errors.As((*warnings)[0], &w))
	assert.Equal(t, LabeledF1, w.Metric)
}

func TestPUScore(t *testing.T) {
	// 正例4つのうち3つを陽性と予測、全10件中5件を陽性と予測
	y := []dataset.Label{1, 1, 1, 1, -1, -1, -1, -1, 0, 0}
	p := preds(0.9, 0.8, 0.7, 0.1, 0.6, 0.6, 0.2, 0.2, 0.1, 0.1)

	got, err := PUScore(y, p)
	require.NoError(t, err)
	assert.InDelta(t, (0.75*0.75)/0.5, got, 1e-12)

	_, err = PUScore([]dataset.Label{-1, 0}, preds(0.9, 0.1))
	var w *errors.UndefinedMetricWarning
	assert.True(t, errors.As(err, &w))
}

func TestPriorSquaredError(t *testing.T) {
	y := []dataset.Label{1, -1, -1, -1}
	got, err := PriorSquaredError(0.15)(y, preds(0.9, 0.1, 0.1, 0.1))
	require.NoError(t, err)
	assert.InDelta(t, (0.25-0.15)*(0.25-0.15), got, 1e-12)
}

func TestMetricDimensionMismatch(t *testing.T) {
	_, err := Assumed(F1Metric)([]dataset.Label{1, 0}, preds(0.5))
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))
}

func TestMetricByName(t *testing.T) {
	m, err := MetricByName(AssumedF1Beta10, DefaultPrior)
	require.NoError(t, err)
	assert.True(t, m.GreaterIsBetter)

	_, err = MetricByName("r2", DefaultPrior)
	assert.Error(t, err)
}

type fixedModel struct {
	proba     []float64
	threshold float64
	calls     int
	err       error
}

func (f *fixedModel) Fit(X mat.Matrix, y mat.Vector) error { return nil }
func (f *fixedModel) PredictProba(X mat.Matrix) (*mat.VecDense, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return mat.NewVecDense(len(f.proba), append([]float64(nil), f.proba...)), nil
}
func (f *fixedModel) Clone() model.Classifier {
	return &fixedModel{proba: f.proba, threshold: f.threshold}
}
func (f *fixedModel) DecisionThreshold() float64 { return f.threshold }

func TestMultiScorerSinglePredictionAndDeterminism(t *testing.T) {
	silenceWarnings(t)
	m := &fixedModel{proba: []float64{0.9, 0.8, 0.3, 0.2, 0.7, 0.1}, threshold: 0.5}
	X := mat.NewDense(6, 1, nil)
	y := []dataset.Label{1, 1, 0, 0, -1, -1}

	s := NewMultiScorer()
	a, err := s.Score(m, X, y)
	require.NoError(t, err)
	assert.Equal(t, 1, m.calls, "PredictProba must be called once per Score")
	assert.Equal(t, s.Names(), a.Names())
	assert.Equal(t, len(DefaultMetrics(DefaultPrior)), a.Len())

	b, err := s.Score(m, X, y)
	require.NoError(t, err)
	for _, name := range a.Names() {
		av, bv := a.Value(name), b.Value(name)
		assert.Equal(t, math.Float64bits(av), math.Float64bits(bv), name)
	}
	assert.InDelta(t, 1.0, a.Value(LabeledF1), 1e-12)
}

func TestMultiScorerUsesModelThreshold(t *testing.T) {
	m := &fixedModel{proba: []float64{0.4, 0.3, 0.2}, threshold: 0.25}
	s := NewMultiScorer(WithMetrics(Metric{Name: "assumed_recall", Fn: Assumed(RecallMetric), GreaterIsBetter: true}))

	b, err := s.Score(m, mat.NewDense(3, 1, nil), []dataset.Label{1, 1, -1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, b.Value("assumed_recall"))
}

func TestMultiScorerAllUnlabeledNeverFails(t *testing.T) {
	silenceWarnings(t)
	m := &fixedModel{proba: []float64{0.9, 0.1, 0.6}, threshold: 0.5}

	b, err := NewMultiScorer().Score(m, mat.NewDense(3, 1, nil), []dataset.Label{-1, -1, -1})
	require.NoError(t, err)
	assert.False(t, b.Defined(LabeledF1))
	assert.False(t, b.Defined(PUScoreName))
	assert.False(t, b.Defined(AssumedAUC))
	assert.False(t, b.Defined(LabeledLogLoss))
	assert.True(t, b.Defined(AssumedBrier))
	assert.True(t, b.Defined(AssumedLogLoss))
}

func TestMultiScorerSingleClassAUCIsUndefined(t *testing.T) {
	warnings := silenceWarnings(t)
	m := &fixedModel{proba: []float64{0.9, 0.7, 0.4, 0.2}, threshold: 0.5}

	// ラベル付きの行が正例だけなので labeled_auc は定義できない
	b, err := NewMultiScorer().Score(m, mat.NewDense(4, 1, nil), []dataset.Label{1, 1, -1, -1})
	require.NoError(t, err)
	assert.False(t, b.Defined(LabeledAUC))
	assert.True(t, math.IsNaN(b.Value(LabeledAUC)))
	assert.InDelta(t, 1.0, b.Value(AssumedAUC), 1e-12)

	found := false
	for _, w := range *warnings {
		var u *errors.UndefinedMetricWarning
		if errors.As(w, &u) && u.Metric == LabeledAUC {
			found = true
		}
	}
	assert.True(t, found, "labeled_auc should warn")
}

func TestLogLossMetrics(t *testing.T) {
	y := []dataset.Label{1, 0, -1}
	p := preds(0.8, 0.4, 0.5)

	labeled, err := MetricByName(LabeledLogLoss, DefaultPrior)
	require.NoError(t, err)
	assert.False(t, labeled.GreaterIsBetter)
	got, err := labeled.Evaluate(y, p)
	require.NoError(t, err)
	assert.InDelta(t, -(math.Log(0.8)+math.Log(0.6))/2, got, 1e-12)

	assumed, err := MetricByName(AssumedLogLoss, DefaultPrior)
	require.NoError(t, err)
	got, err = assumed.Evaluate(y, p)
	require.NoError(t, err)
	assert.InDelta(t, -(math.Log(0.8)+math.Log(0.6)+math.Log(0.5))/3, got, 1e-12)
}

func TestMultiScorerErrors(t *testing.T) {
	notFitted := &fixedModel{err: errors.NewNotFittedError("fixedModel", "PredictProba")}
	_, err := NewMultiScorer().Score(notFitted, mat.NewDense(1, 1, nil), []dataset.Label{1})
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	_, err = NewMultiScorer().Score(&fixedModel{proba: []float64{0.5}}, mat.NewDense(1, 1, nil), []dataset.Label{3})
	var ld *errors.LabelDomainError
	assert.True(t, errors.As(err, &ld))
}

func TestMakeScorerNegatesLosses(t *testing.T) {
	m := &fixedModel{proba: []float64{1, 0}, threshold: 0.5}
	brier, _ := MetricByName(AssumedBrier, DefaultPrior)
	sc := MakeScorer(brier)

	v, err := sc.Score(m, mat.NewDense(2, 1, nil), []dataset.Label{0, 0})
	require.NoError(t, err)
	assert.InDelta(t, -0.5, v, 1e-12)
	assert.Equal(t, AssumedBrier, sc.Name())
}

func TestScoreBundleCodecs(t *testing.T) {
	b := NewScoreBundle([]string{"labeled_f1", "assumed_f1", "pu_score"}, []float64{0.5, 0.25, math.NaN()})

	data, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, `{"labeled_f1":0.5,"assumed_f1":0.25,"pu_score":null}`, string(data))

	var back ScoreBundle
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, b.Names(), back.Names())
	assert.True(t, math.IsNaN(back.Value("pu_score")))

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(b))
	var fromGob ScoreBundle
	require.NoError(t, gob.NewDecoder(&buf).Decode(&fromGob))
	assert.Equal(t, 0.25, fromGob.Value("assumed_f1"))
	assert.False(t, fromGob.Defined("pu_score"))

	// 返されたマップを変更してもバンドルは変わらない
	m := b.Map()
	m["assumed_f1"] = 1
	assert.Equal(t, 0.25, b.Value("assumed_f1"))
}
