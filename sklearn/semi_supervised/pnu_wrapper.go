// Package semi_supervised provides PNUWrapper, which turns a dataset labeled
// positive / negative / unlabeled into a two-class fit for any base classifier.
package semi_supervised

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pulearn/core/dataset"
	"github.com/YuminosukeSato/pulearn/core/model"
	"github.com/YuminosukeSato/pulearn/core/rng"
	"github.com/YuminosukeSato/pulearn/pkg/errors"
	"github.com/YuminosukeSato/pulearn/pkg/log"
)

const pnuName = "PNUWrapper"

// SampleSize は未ラベルから抽出する件数の指定。絶対数か未ラベル全体に対する割合のどちらか
type SampleSize struct {
	count    int
	fraction float64
	isFrac   bool
}

// Count は絶対数での指定
func Count(n int) SampleSize {
	return SampleSize{count: n}
}

// Fraction は未ラベル件数に対する割合 f ∈ (0, 1] での指定
func Fraction(f float64) SampleSize {
	return SampleSize{fraction: f, isFrac: true}
}

// IsFraction reports whether s is a proportion of the pool.
func (s SampleSize) IsFraction() bool { return s.isFrac }

// Value returns the int count or float64 fraction, as GetParams reports it.
func (s SampleSize) Value() interface{} {
	if s.isFrac {
		return s.fraction
	}
	return s.count
}

// String renders the size for logs.
func (s SampleSize) String() string {
	if s.isFrac {
		return fmt.Sprintf("%g of pool", s.fraction)
	}
	return fmt.Sprintf("%d", s.count)
}

func (s SampleSize) validate(op string) error {
	if s.isFrac {
		if math.IsNaN(s.fraction) || s.fraction <= 0 || s.fraction > 1 {
			return errors.NewConfigurationError(op, "num_unlabeled", "fraction must be in (0, 1]", s.fraction)
		}
		return nil
	}
	if s.count < 0 {
		return errors.NewConfigurationError(op, "num_unlabeled", "count must be non-negative", s.count)
	}
	return nil
}

// Resolve は未ラベル件数 pool に対する実際の抽出数を返す
func (s SampleSize) Resolve(op string, pool int) (int, error) {
	if err := s.validate(op); err != nil {
		return 0, err
	}
	if s.isFrac {
		return int(math.Floor(s.fraction * float64(pool))), nil
	}
	if s.count > pool {
		return 0, errors.NewConfigurationError(op, "num_unlabeled",
			fmt.Sprintf("exceeds the unlabeled pool of %d", pool), s.count)
	}
	return s.count, nil
}

// PNUWrapper は未ラベルの一部を負例とみなして基底分類器を学習し、
// 任意で未ラベルのスコア分布から判定閾値を決める
//
// 使用例:
//
//	pnu := semi_supervised.NewPNUWrapper(linear_model.NewLogisticRegression(),
//		semi_supervised.WithNumUnlabeled(semi_supervised.Count(5819)),
//		semi_supervised.WithThresholdSetPct(0.0143),
//		semi_supervised.WithRandomState(77),
//	)
//	err := pnu.Fit(X, y)
type PNUWrapper struct {
	state *model.StateManager

	// ハイパーパラメータ
	base            model.Classifier
	numUnlabeled    SampleSize
	puLearning      bool
	thresholdSetPct *float64
	randomState     int64

	// 学習結果
	estimator model.Classifier
	sampled   []int
	threshold *float64
}

// PNUOption は PNUWrapper の設定関数
type PNUOption func(*PNUWrapper)

// NewPNUWrapper は base を包む PNUWrapper を作成する。
// デフォルトは未ラベル全件を負例扱い、閾値調整なし、random_state=0
func NewPNUWrapper(base model.Classifier, opts ...PNUOption) *PNUWrapper {
	w := &PNUWrapper{
		state:        model.NewStateManager(),
		base:         base,
		numUnlabeled: Fraction(1.0),
		puLearning:   true,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WithNumUnlabeled は負例として使う未ラベルの件数を設定
func WithNumUnlabeled(n SampleSize) PNUOption {
	return func(w *PNUWrapper) {
		w.numUnlabeled = n
	}
}

// WithPULearning は未ラベルの利用有無を設定。false なら確認済みの正例と負例だけで学習する
func WithPULearning(on bool) PNUOption {
	return func(w *PNUWrapper) {
		w.puLearning = on
	}
}

// WithThresholdSetPct は未ラベルのうち閾値以上と判定される割合を設定
func WithThresholdSetPct(p float64) PNUOption {
	return func(w *PNUWrapper) {
		w.thresholdSetPct = &p
	}
}

// WithRandomState は未ラベル抽出のシードを設定
func WithRandomState(seed int64) PNUOption {
	return func(w *PNUWrapper) {
		w.randomState = seed
	}
}

// Name returns "PNUWrapper".
func (w *PNUWrapper) Name() string { return pnuName }

func (w *PNUWrapper) validateParams() error {
	if w.base == nil {
		return errors.NewConfigurationError("PNUWrapper.Fit", "base_estimator", "base estimator is nil", nil)
	}
	if err := w.numUnlabeled.validate("PNUWrapper.Fit"); err != nil {
		return err
	}
	if p := w.thresholdSetPct; p != nil && (math.IsNaN(*p) || *p < 0 || *p > 1) {
		return errors.NewConfigurationError("PNUWrapper.Fit", "threshold_set_pct", "must be in [0, 1]", *p)
	}
	return nil
}

// Fit はサロゲート学習セットを作り、基底推定器のクローンを学習する。
// 入力の検証はすべて抽出の前に行い、失敗した場合は以前の学習状態を保持する
func (w *PNUWrapper) Fit(X mat.Matrix, y mat.Vector) error {
	if err := w.validateParams(); err != nil {
		return err
	}
	if X == nil || y == nil {
		return errors.NewValueError("PNUWrapper.Fit", "X and y must not be nil")
	}
	rows, cols := X.Dims()
	if rows != y.Len() {
		return errors.NewDimensionError("PNUWrapper.Fit", rows, y.Len(), 0)
	}
	labels, err := dataset.ParseLabels(y)
	if err != nil {
		return err
	}

	positives := dataset.IndicesOf(labels, dataset.Positive)
	negatives := dataset.IndicesOf(labels, dataset.Negative)
	pool := dataset.IndicesOf(labels, dataset.Unlabeled)

	if w.thresholdSetPct != nil && len(pool) == 0 {
		return errors.NewConfigurationError("PNUWrapper.Fit", "threshold_set_pct",
			"requires a non-empty unlabeled pool", *w.thresholdSetPct)
	}

	// 検証はすべてサンプリングの前に済ませる
	k := 0
	if w.puLearning {
		k, err = w.numUnlabeled.Resolve("PNUWrapper.Fit", len(pool))
		if err != nil {
			return err
		}
		if k == 0 && len(pool) > 0 && w.numUnlabeled.IsFraction() {
			log.GetLoggerWithName("pnu").Debug("Unlabeled fraction rounds down to zero rows",
				log.UnlabeledKey, len(pool),
				log.SampledUnlabeledKey, 0,
				"pu.num_unlabeled", w.numUnlabeled.String(),
			)
		}
	}
	if len(positives)+len(negatives)+k == 0 {
		return errors.NewConfigurationError("PNUWrapper.Fit", "num_unlabeled", "surrogate training set is empty", w.numUnlabeled.Value())
	}

	var sampled []int
	if k > 0 {
		sampled = rng.SampleWithoutReplacement(rng.New(w.randomState), pool, k)
	}

	// 元の行順を保ったサロゲート集合
	train := make([]int, 0, len(positives)+len(negatives)+len(sampled))
	train = append(train, positives...)
	train = append(train, negatives...)
	train = append(train, sampled...)
	sort.Ints(train)

	Xs := dataset.SelectRows(X, train)
	ys := mat.NewVecDense(len(train), nil)
	for i, idx := range train {
		if labels[idx] == dataset.Positive {
			ys.SetVec(i, 1)
		}
	}

	est := w.base.Clone()
	if err := est.Fit(Xs, ys); err != nil {
		return errors.Wrapf(err, "PNUWrapper: fitting %s", model.NameOf(est))
	}

	var threshold *float64
	if w.thresholdSetPct != nil {
		proba, err := est.PredictProba(dataset.SelectRows(X, pool))
		if err != nil {
			return errors.Wrap(err, "PNUWrapper: scoring the unlabeled pool")
		}
		t := CalibrateThreshold(proba.RawVector().Data, *w.thresholdSetPct)
		threshold = &t
	}

	w.estimator = est
	w.sampled = sampled
	w.threshold = threshold
	w.state.SetDimensions(cols, len(train))
	w.state.SetFitted()

	logger := log.GetLoggerWithName("pnu")
	if logger.Enabled(context.Background(), log.LevelDebug) {
		attrs := []any{
			log.OperationKey, log.OperationFit,
			log.ModelNameKey, model.NameOf(est),
			log.PositiveKey, len(positives),
			log.NegativeKey, len(negatives),
			log.UnlabeledKey, len(pool),
			log.SampledUnlabeledKey, len(sampled),
			log.RandomSeedKey, w.randomState,
		}
		if threshold != nil {
			attrs = append(attrs, log.ThresholdKey, *threshold)
		}
		logger.Debug("PNUWrapper fitted", attrs...)
	}
	return nil
}

// CalibrateThreshold は scores のうち round(pct·n) 件が閾値以上となる閾値を返す。
// 0件の場合は最大値の直上を返す
func CalibrateThreshold(scores []float64, pct float64) float64 {
	n := len(scores)
	if n == 0 {
		return 0.5
	}
	sorted := make([]float64, n)
	copy(sorted, scores)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	k := int(math.Round(pct * float64(n)))
	if k <= 0 {
		return math.Nextafter(sorted[0], math.Inf(1))
	}
	if k > n {
		k = n
	}
	return sorted[k-1]
}

// PredictProba は学習済みの基底推定器へ委譲する
func (w *PNUWrapper) PredictProba(X mat.Matrix) (*mat.VecDense, error) {
	if err := w.state.RequireFitted(pnuName, "PredictProba"); err != nil {
		return nil, err
	}
	_, c := X.Dims()
	if err := w.state.RequireFeatures("PNUWrapper.PredictProba", c); err != nil {
		return nil, err
	}
	return w.estimator.PredictProba(X)
}

// Predict は調整済み閾値（なければ0.5）以上を正例とする
func (w *PNUWrapper) Predict(X mat.Matrix) (*mat.VecDense, error) {
	if err := w.state.RequireFitted(pnuName, "Predict"); err != nil {
		return nil, err
	}
	return model.Predict(w, X)
}

// DecisionThreshold は Predict で使う閾値
func (w *PNUWrapper) DecisionThreshold() float64 {
	if w.threshold != nil {
		return *w.threshold
	}
	return 0.5
}

// Threshold returns the calibrated threshold and whether one was computed.
func (w *PNUWrapper) Threshold() (float64, bool) {
	if w.threshold == nil {
		return 0, false
	}
	return *w.threshold, true
}

// SampledUnlabeled returns the row indices of the unlabeled rows used as negatives, ascending.
func (w *PNUWrapper) SampledUnlabeled() []int {
	return append([]int(nil), w.sampled...)
}

// Estimator returns the fitted clone of the base estimator, or nil before Fit.
func (w *PNUWrapper) Estimator() model.Classifier {
	return w.estimator
}

// BaseEstimator returns the unfitted base estimator.
func (w *PNUWrapper) BaseEstimator() model.Classifier {
	return w.base
}

// IsFitted reports whether Fit has completed.
func (w *PNUWrapper) IsFitted() bool {
	return w.state.IsFitted()
}

// Clone は同じ設定の未学習コピーを返す
func (w *PNUWrapper) Clone() model.Classifier {
	c := &PNUWrapper{
		state:        model.NewStateManager(),
		numUnlabeled: w.numUnlabeled,
		puLearning:   w.puLearning,
		randomState:  w.randomState,
	}
	if w.base != nil {
		c.base = w.base.Clone()
	}
	if w.thresholdSetPct != nil {
		p := *w.thresholdSetPct
		c.thresholdSetPct = &p
	}
	return c
}

// GetParams returns the wrapper parameters plus base_estimator__* entries.
func (w *PNUWrapper) GetParams() model.Params {
	params := model.Params{
		"num_unlabeled": w.numUnlabeled.Value(),
		"pu_learning":   w.puLearning,
		"random_state":  w.randomState,
	}
	if w.thresholdSetPct != nil {
		params["threshold_set_pct"] = *w.thresholdSetPct
	} else {
		params["threshold_set_pct"] = nil
	}
	if pm, ok := w.base.(model.Parameterized); ok {
		params.Merge(pm.GetParams().Prefixed("base_estimator"))
	}
	return params
}

// SetParams は自身のパラメータを設定し、"base_estimator__" 付きのキーを基底推定器へ渡す。
// num_unlabeled は整数なら件数、浮動小数なら割合として扱う
func (w *PNUWrapper) SetParams(params model.Params) error {
	own, nested := params.Split("base_estimator")
	for _, key := range own.Keys() {
		value := own[key]
		var err error
		switch key {
		case "num_unlabeled":
			switch v := value.(type) {
			case float64:
				w.numUnlabeled = Fraction(v)
			case float32:
				w.numUnlabeled = Fraction(float64(v))
			default:
				var n int
				n, err = model.ToInt(key, value)
				w.numUnlabeled = Count(n)
			}
		case "pu_learning":
			w.puLearning, err = model.ToBool(key, value)
		case "threshold_set_pct":
			if value == nil {
				w.thresholdSetPct = nil
				continue
			}
			var p float64
			p, err = model.ToFloat(key, value)
			w.thresholdSetPct = &p
		case "random_state":
			w.randomState, err = model.ToInt64(key, value)
		default:
			return model.UnknownParam(pnuName, key, value)
		}
		if err != nil {
			return err
		}
	}
	if len(nested) > 0 {
		pm, ok := w.base.(model.Parameterized)
		if !ok {
			return errors.NewConfigurationError("PNUWrapper.SetParams", "base_estimator",
				"base estimator has no parameters", nested.String())
		}
		if err := pm.SetParams(nested); err != nil {
			return err
		}
	}
	return nil
}
