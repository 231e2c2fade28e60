package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pulearn/core/dataset"
	"github.com/YuminosukeSato/pulearn/core/model"
	"github.com/YuminosukeSato/pulearn/pkg/errors"
	"github.com/YuminosukeSato/pulearn/pkg/log"
)

// Scorer は学習済みモデルを1つの値で評価するインターフェースです。
// ハイパーパラメータ探索では値が大きいほど良いものとして扱われます。
type Scorer interface {
	Score(m model.Classifier, X mat.Matrix, y []dataset.Label) (float64, error)
	Name() string
}

// predict は入力を検証し、PredictProbaを一度だけ呼び出す
func predict(op string, m model.Classifier, X mat.Matrix, y []dataset.Label) (Predictions, error) {
	if err := dataset.ValidateLabels(op, y); err != nil {
		return Predictions{}, err
	}
	rows, _ := X.Dims()
	if rows != len(y) {
		return Predictions{}, errors.NewDimensionError(op, rows, len(y), 0)
	}
	proba, err := m.PredictProba(X)
	if err != nil {
		return Predictions{}, err
	}
	if proba.Len() != rows {
		return Predictions{}, errors.NewDimensionError(op, rows, proba.Len(), 0)
	}
	return Predictions{Proba: proba, Threshold: model.DecisionThreshold(m)}, nil
}

type metricScorer struct {
	metric Metric
}

// MakeScorer adapts a metric to a Scorer. Losses are negated so that greater
// is always better, and undefined values are returned as NaN.
func MakeScorer(m Metric) Scorer {
	return &metricScorer{metric: m}
}

func (s *metricScorer) Name() string {
	return s.metric.Name
}

func (s *metricScorer) Score(m model.Classifier, X mat.Matrix, y []dataset.Label) (float64, error) {
	pred, err := predict("Scorer."+s.metric.Name, m, X, y)
	if err != nil {
		return 0, err
	}
	v, err := s.metric.Evaluate(y, pred)
	if err != nil {
		return 0, err
	}
	if !s.metric.GreaterIsBetter && !math.IsNaN(v) {
		v = -v
	}
	return v, nil
}

// MultiScorer は登録された全ての指標を、同じ一度の予測に対して計算します。
type MultiScorer struct {
	metrics []Metric
	prior   float64
}

// MultiScorerOption はMultiScorerの設定を変更する関数
type MultiScorerOption func(*MultiScorer)

// WithMetrics replaces the default battery.
func WithMetrics(ms ...Metric) MultiScorerOption {
	return func(s *MultiScorer) {
		s.metrics = append([]Metric(nil), ms...)
	}
}

// WithPrior sets the assumed positive prior used by prior_squared_error.
func WithPrior(prior float64) MultiScorerOption {
	return func(s *MultiScorer) {
		s.prior = prior
	}
}

// NewMultiScorer creates a MultiScorer with the default battery unless WithMetrics is given.
func NewMultiScorer(opts ...MultiScorerOption) *MultiScorer {
	s := &MultiScorer{prior: DefaultPrior}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = DefaultMetrics(s.prior)
	}
	return s
}

// Names returns the metric names in scoring order.
func (s *MultiScorer) Names() []string {
	names := make([]string, len(s.metrics))
	for i, m := range s.metrics {
		names[i] = m.Name
	}
	return names
}

// Metric returns the registered metric with the given name.
func (s *MultiScorer) Metric(name string) (Metric, bool) {
	for _, m := range s.metrics {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

// Score runs every metric against one PredictProba call on X.
// Inapplicable metrics are recorded as undefined (NaN) instead of failing.
func (s *MultiScorer) Score(m model.Classifier, X mat.Matrix, y []dataset.Label) (*ScoreBundle, error) {
	pred, err := predict("MultiScorer.Score", m, X, y)
	if err != nil {
		return nil, err
	}

	values := make([]float64, len(s.metrics))
	for i, metric := range s.metrics {
		v, err := metric.Evaluate(y, pred)
		if err != nil {
			return nil, errors.Wrapf(err, "metric %s", metric.Name)
		}
		values[i] = v
	}

	bundle := NewScoreBundle(s.Names(), values)
	logger := log.GetLoggerWithName("metrics")
	logger.Debug("Scored model",
		log.ModelNameKey, model.NameOf(m),
		log.OperationKey, log.OperationScore,
		log.SamplesKey, len(y),
		log.ThresholdKey, pred.Threshold,
		"scores", bundle,
	)
	return bundle, nil
}
