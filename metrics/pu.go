package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pulearn/core/dataset"
	"github.com/YuminosukeSato/pulearn/core/model"
	"github.com/YuminosukeSato/pulearn/pkg/errors"
)

// DefaultPrior は想定する真の正例率の既定値
const DefaultPrior = 0.015

// Predictions は一度のPredictProbaの結果と、それを二値化する閾値の組です。
// 全ての指標は同じPredictionsを受け取るため、スコアリングの間で予測がぶれることはありません。
type Predictions struct {
	Proba     *mat.VecDense
	Threshold float64
}

// Len returns the number of predictions.
func (p Predictions) Len() int {
	if p.Proba == nil {
		return 0
	}
	return p.Proba.Len()
}

// Hard returns the {0, 1} predictions at the threshold (p >= threshold is positive).
func (p Predictions) Hard() *mat.VecDense {
	return model.Binarize(p.Proba, p.Threshold)
}

func (p Predictions) subset(idx []int) Predictions {
	return Predictions{Proba: dataset.SelectVec(p.Proba, idx), Threshold: p.Threshold}
}

// MetricFunc はPUラベルと予測から指標を計算する関数です。
// 計算できない組み合わせでは *errors.UndefinedMetricWarning を返します。
type MetricFunc func(y []dataset.Label, pred Predictions) (float64, error)

// Metric は名前付きの指標です。
type Metric struct {
	Name            string
	Fn              MetricFunc
	GreaterIsBetter bool
}

// Evaluate computes the metric. An undefined result is reported through
// errors.Warn and returned as NaN with a nil error.
func (m Metric) Evaluate(y []dataset.Label, pred Predictions) (float64, error) {
	v, err := m.Fn(y, pred)
	if err == nil {
		return v, nil
	}
	var undefined *errors.UndefinedMetricWarning
	if errors.As(err, &undefined) {
		errors.Warn(errors.NewUndefinedMetricWarning(m.Name, undefined.Condition, math.NaN()))
		return math.NaN(), nil
	}
	return 0, err
}

// IsUndefined reports whether v is the undefined sentinel.
func IsUndefined(v float64) bool {
	return math.IsNaN(v)
}

// BinaryMetric は {0,1} ラベルに対する標準指標です。
// UsesProba が真なら確率を、偽なら二値化した予測を受け取ります。
type BinaryMetric struct {
	Name      string
	Fn        func(yTrue, yPred *mat.VecDense) (float64, error)
	UsesProba bool
}

func (b BinaryMetric) apply(yTrue *mat.VecDense, pred Predictions) (float64, error) {
	if b.UsesProba {
		return b.Fn(yTrue, pred.Proba)
	}
	return b.Fn(yTrue, pred.Hard())
}

// 標準指標
var (
	F1Metric        = BinaryMetric{Name: "f1", Fn: F1Score}
	PrecisionMetric = BinaryMetric{Name: "precision", Fn: Precision}
	RecallMetric    = BinaryMetric{Name: "recall", Fn: Recall}
	AccuracyMetric  = BinaryMetric{Name: "accuracy", Fn: Accuracy}
	BrierMetric     = BinaryMetric{Name: "brier", Fn: BrierScore, UsesProba: true}
	AUCMetric       = BinaryMetric{Name: "auc", Fn: AUC, UsesProba: true}
	LogLossMetric   = BinaryMetric{Name: "log_loss", Fn: BinaryLogLoss, UsesProba: true}
)

// FBetaMetric returns the F-beta metric.
func FBetaMetric(beta float64) BinaryMetric {
	return BinaryMetric{
		Name: "fbeta",
		Fn: func(yTrue, yPred *mat.VecDense) (float64, error) {
			return FBetaScore(yTrue, yPred, beta)
		},
	}
}

func checkLen(op string, y []dataset.Label, pred Predictions) error {
	if pred.Proba == nil {
		return errors.NewValueError(op, "nil predictions")
	}
	if len(y) != pred.Len() {
		return errors.NewDimensionError(op, len(y), pred.Len(), 0)
	}
	return nil
}

// Assumed はUNLABELEDをNEGATIVEとみなしてbを適用します。
func Assumed(b BinaryMetric) MetricFunc {
	return func(y []dataset.Label, pred Predictions) (float64, error) {
		if err := checkLen("assumed_"+b.Name, y, pred); err != nil {
			return 0, err
		}
		yTrue := make([]float64, len(y))
		for i, l := range y {
			if l == dataset.Positive {
				yTrue[i] = 1
			}
		}
		if len(yTrue) == 0 {
			return math.NaN(), errors.NewUndefinedMetricWarning("assumed_"+b.Name, "no samples", math.NaN())
		}
		return b.apply(mat.NewVecDense(len(yTrue), yTrue), pred)
	}
}

// Labeled はUNLABELEDのサンプルを除外してbを適用します。
// ラベル付きサンプルが一つもなければ未定義です。
func Labeled(b BinaryMetric) MetricFunc {
	return func(y []dataset.Label, pred Predictions) (float64, error) {
		if err := checkLen("labeled_"+b.Name, y, pred); err != nil {
			return 0, err
		}
		var idx []int
		var yTrue []float64
		for i, l := range y {
			switch l {
			case dataset.Positive:
				idx = append(idx, i)
				yTrue = append(yTrue, 1)
			case dataset.Negative:
				idx = append(idx, i)
				yTrue = append(yTrue, 0)
			}
		}
		if len(idx) == 0 {
			return math.NaN(), errors.NewUndefinedMetricWarning("labeled_"+b.Name, "no labeled samples", math.NaN())
		}
		return b.apply(mat.NewVecDense(len(yTrue), yTrue), pred.subset(idx))
	}
}

// PUScore はLee & Liu (2003) の recall² / P(ŷ=1) を計算します。
// 真の負例を必要としないため、正例とラベルなしのみが信頼できる場合のモデル選択に使えます。
// recall は確認済みPOSITIVEに対して、P(ŷ=1) は全サンプルに対して計算します。
func PUScore(y []dataset.Label, pred Predictions) (float64, error) {
	if err := checkLen("pu_score", y, pred); err != nil {
		return 0, err
	}
	hard := pred.Hard()
	var nPos, tp, predicted int
	for i, l := range y {
		p := hard.AtVec(i) == 1
		if p {
			predicted++
		}
		if l == dataset.Positive {
			nPos++
			if p {
				tp++
			}
		}
	}
	if nPos == 0 {
		return math.NaN(), errors.NewUndefinedMetricWarning("pu_score", "no labeled positive samples", math.NaN())
	}
	if predicted == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("pu_score", "no predicted positive samples", 0))
		return 0, nil
	}
	recall := float64(tp) / float64(nPos)
	rate := float64(predicted) / float64(len(y))
	return recall * recall / rate, nil
}

// PriorSquaredError は予測陽性率と想定される真の事前確率との二乗誤差を返します（小さいほど良い）。
func PriorSquaredError(prior float64) MetricFunc {
	return func(y []dataset.Label, pred Predictions) (float64, error) {
		if err := checkLen("prior_squared_error", y, pred); err != nil {
			return 0, err
		}
		if len(y) == 0 {
			return math.NaN(), errors.NewUndefinedMetricWarning("prior_squared_error", "no samples", math.NaN())
		}
		hard := pred.Hard()
		var predicted float64
		for i := 0; i < hard.Len(); i++ {
			predicted += hard.AtVec(i)
		}
		d := predicted/float64(len(y)) - prior
		return d * d, nil
	}
}

// 登録済みの指標名
const (
	AssumedF1             = "assumed_f1"
	LabeledF1             = "labeled_f1"
	AssumedF1Beta10       = "assumed_f1_beta10"
	AssumedPrecision      = "assumed_precision"
	AssumedRecall         = "assumed_recall"
	LabeledPrecision      = "labeled_precision"
	LabeledRecall         = "labeled_recall"
	LabeledAccuracy       = "labeled_accuracy"
	AssumedBrier          = "assumed_brier"
	LabeledBrier          = "labeled_brier"
	AssumedAUC            = "assumed_auc"
	LabeledAUC            = "labeled_auc"
	AssumedLogLoss        = "assumed_log_loss"
	LabeledLogLoss        = "labeled_log_loss"
	PUScoreName           = "pu_score"
	PriorSquaredErrorName = "prior_squared_error"
)

// DefaultMetrics は既定の指標一式を固定の順序で返します。
func DefaultMetrics(prior float64) []Metric {
	return []Metric{
		{Name: AssumedF1, Fn: Assumed(F1Metric), GreaterIsBetter: true},
		{Name: LabeledF1, Fn: Labeled(F1Metric), GreaterIsBetter: true},
		{Name: AssumedF1Beta10, Fn: Assumed(FBetaMetric(10)), GreaterIsBetter: true},
		{Name: AssumedPrecision, Fn: Assumed(PrecisionMetric), GreaterIsBetter: true},
		{Name: AssumedRecall, Fn: Assumed(RecallMetric), GreaterIsBetter: true},
		{Name: LabeledPrecision, Fn: Labeled(PrecisionMetric), GreaterIsBetter: true},
		{Name: LabeledRecall, Fn: Labeled(RecallMetric), GreaterIsBetter: true},
		{Name: LabeledAccuracy, Fn: Labeled(AccuracyMetric), GreaterIsBetter: true},
		{Name: AssumedBrier, Fn: Assumed(BrierMetric), GreaterIsBetter: false},
		{Name: LabeledBrier, Fn: Labeled(BrierMetric), GreaterIsBetter: false},
		{Name: AssumedAUC, Fn: Assumed(AUCMetric), GreaterIsBetter: true},
		{Name: LabeledAUC, Fn: Labeled(AUCMetric), GreaterIsBetter: true},
		{Name: AssumedLogLoss, Fn: Assumed(LogLossMetric), GreaterIsBetter: false},
		{Name: LabeledLogLoss, Fn: Labeled(LogLossMetric), GreaterIsBetter: false},
		{Name: PUScoreName, Fn: PUScore, GreaterIsBetter: true},
		{Name: PriorSquaredErrorName, Fn: PriorSquaredError(prior), GreaterIsBetter: false},
	}
}

// MetricByName looks up a registered metric.
func MetricByName(name string, prior float64) (Metric, error) {
	for _, m := range DefaultMetrics(prior) {
		if m.Name == name {
			return m, nil
		}
	}
	return Metric{}, errors.NewValidationError("scoring", "unknown metric", name)
}
