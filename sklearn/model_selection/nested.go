package model_selection

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/pulearn/core/dataset"
	"github.com/YuminosukeSato/pulearn/core/model"
	"github.com/YuminosukeSato/pulearn/core/parallel"
	"github.com/YuminosukeSato/pulearn/core/rng"
	"github.com/YuminosukeSato/pulearn/metrics"
	"github.com/YuminosukeSato/pulearn/pkg/errors"
	"github.com/YuminosukeSato/pulearn/pkg/log"
)

// FoldResult は外側フォールド1つ分の記録。
// 失敗したフォールドは Scores が nil で Error にメッセージが入る
type FoldResult struct {
	Fold           int
	TestIndices    []int
	BestParams     model.Params
	BestInnerScore float64
	Scores         *metrics.ScoreBundle
	Search         *SearchResult
	Error          string

	// err は型付きのエラー。gob では保存されず Error だけが残る
	err error
}

// Failed reports whether the fold has no score bundle.
func (f FoldResult) Failed() bool {
	return f.Scores == nil
}

// Err returns the typed error of a failed fold, such as *errors.SearchExhaustedError.
// Results restored from persistence only keep the message, so Err falls back to it.
func (f FoldResult) Err() error {
	if f.err != nil {
		return f.err
	}
	if f.Error != "" {
		return errors.New(f.Error)
	}
	return nil
}

// NestedCV は外側で汎化性能を測り、内側でハイパーパラメータを選ぶ入れ子の交差検証
//
// 使用例:
//
//	ncv := model_selection.NewNestedCV(pnu, search,
//		model_selection.WithOuterFolds(5),
//		model_selection.WithInnerFolds(3),
//		model_selection.WithRandomState(42),
//	)
//	result, err := ncv.Run(ctx, X, y)
//	summary := result.Summary()
type NestedCV struct {
	estimator   model.Classifier
	searcher    Searcher
	kOuter      int
	kInner      int
	minPerClass int
	randomState int64
	nJobs       int
	scorer      *metrics.MultiScorer
	runID       string
}

// NestedCVOption は NestedCV の設定関数
type NestedCVOption func(*NestedCV)

// NewNestedCV は新しい NestedCV を作成する。デフォルトは外側5分割、内側3分割
func NewNestedCV(est model.Classifier, searcher Searcher, opts ...NestedCVOption) *NestedCV {
	n := &NestedCV{
		estimator:   est,
		searcher:    searcher,
		kOuter:      5,
		kInner:      3,
		minPerClass: DefaultMinPerClass,
		nJobs:       -1,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.scorer == nil {
		n.scorer = metrics.NewMultiScorer()
	}
	return n
}

// WithOuterFolds は外側の分割数を設定
func WithOuterFolds(k int) NestedCVOption {
	return func(n *NestedCV) { n.kOuter = k }
}

// WithInnerFolds は内側の分割数を設定
func WithInnerFolds(k int) NestedCVOption {
	return func(n *NestedCV) { n.kInner = k }
}

// WithMinPerClass は各テストフォールドに必要なクラスごとの最小件数を設定
func WithMinPerClass(m int) NestedCVOption {
	return func(n *NestedCV) { n.minPerClass = m }
}

// WithRandomState は外側分割と各フォールドのシードの元になる値を設定
func WithRandomState(seed int64) NestedCVOption {
	return func(n *NestedCV) { n.randomState = seed }
}

// WithNJobs は外側フォールドの並列数を設定
func WithNJobs(jobs int) NestedCVOption {
	return func(n *NestedCV) { n.nJobs = jobs }
}

// WithMultiScorer は外側テストフォールドの採点器を設定
func WithMultiScorer(s *metrics.MultiScorer) NestedCVOption {
	return func(n *NestedCV) { n.scorer = s }
}

// WithRunID はログに付ける実行IDを設定
func WithRunID(id string) NestedCVOption {
	return func(n *NestedCV) { n.runID = id }
}

// Run は入れ子の交差検証を実行する。設定の誤りは分割前に ConfigurationError を返し、
// フォールド単位の失敗は結果に記録して他のフォールドを続ける
func (n *NestedCV) Run(ctx context.Context, X mat.Matrix, y mat.Vector) (*NestedCVResult, error) {
	const op = "NestedCV.Run"
	if n.estimator == nil {
		return nil, errors.NewConfigurationError(op, "estimator", "estimator is nil", nil)
	}
	if n.searcher == nil {
		return nil, errors.NewConfigurationError(op, "searcher", "searcher is nil", nil)
	}
	if X == nil || y == nil {
		return nil, errors.NewValueError(op, "X and y must not be nil")
	}
	rows, _ := X.Dims()
	if rows != y.Len() {
		return nil, errors.NewDimensionError(op, rows, y.Len(), 0)
	}
	labels, err := dataset.ParseLabels(y)
	if err != nil {
		return nil, err
	}
	if err := ValidateNestedFolds(labels, n.kOuter, n.kInner, n.minPerClass); err != nil {
		return nil, err
	}
	if err := n.searcher.Validate(); err != nil {
		return nil, err
	}

	outer, err := NewStratifiedKFold(n.kOuter, true).Split(labels, n.randomState)
	if err != nil {
		return nil, err
	}

	logger := log.GetLoggerWithName("model_selection").With(
		log.OperationKey, log.OperationNestedCV,
		log.ModelNameKey, model.NameOf(n.estimator),
	)
	if n.runID != "" {
		logger = logger.With(log.RunIDKey, n.runID)
	}
	start := time.Now()

	folds, err := parallel.Map(ctx, len(outer), n.nJobs, func(ctx context.Context, f int) (FoldResult, error) {
		res := FoldResult{
			Fold:           f,
			TestIndices:    outer[f].TestIndices,
			BestInnerScore: math.NaN(),
		}
		err := errors.SafeExecute(fmt.Sprintf("outer fold %d", f), func() error {
			return n.runFold(ctx, X, labels, outer[f], rng.Derive(n.randomState, f), &res)
		})
		if err != nil {
			// 呼び出し側のキャンセルだけは全体を止める
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Scores = nil
			res.err = err
			res.Error = err.Error()
			logger.Warn("Outer fold failed",
				log.FoldKey, f,
				"error", res.Error,
			)
			return res, nil
		}
		logger.Info("Outer fold scored",
			log.FoldKey, f,
			log.PhaseKey, log.PhaseTesting,
			log.SamplesKey, len(res.TestIndices),
			log.ScoreKey, res.BestInnerScore,
			log.HyperParamsKey, res.BestParams.String(),
		)
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	result := &NestedCVResult{Folds: folds, Metrics: n.scorer.Names()}
	logger.Info("Nested cross-validation finished",
		log.CandidatesKey, len(result.ScoreGrid()),
		"cv.outer_folds", n.kOuter,
		"cv.failed_folds", len(result.Failed()),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return result, nil
}

// runFold は外側フォールド1つ分の探索・再学習・採点を行う
func (n *NestedCV) runFold(ctx context.Context, X mat.Matrix, labels []dataset.Label, fold Fold, seed int64, res *FoldResult) error {
	Xtr := dataset.SelectRows(X, fold.TrainIndices)
	ytr := dataset.SelectLabels(labels, fold.TrainIndices)

	search, err := n.searcher.Search(ctx, n.estimator, Xtr, ytr, NewStratifiedKFold(n.kInner, true), seed)
	if err != nil {
		return err
	}
	res.Search = search
	res.BestParams = search.BestParams.Clone()
	res.BestInnerScore = search.BestScore

	best, err := Configure(n.estimator, search.BestParams)
	if err != nil {
		return err
	}
	if err := best.Fit(Xtr, dataset.LabelVec(ytr)); err != nil {
		return errors.Wrap(err, "refit on outer training set")
	}

	bundle, err := n.scorer.Score(best, dataset.SelectRows(X, fold.TestIndices), dataset.SelectLabels(labels, fold.TestIndices))
	if err != nil {
		return err
	}
	res.Scores = bundle
	return nil
}

// NestedCVResult は全外側フォールドの結果
type NestedCVResult struct {
	Folds   []FoldResult
	Metrics []string
}

// MetricSummary は1指標の外側フォールド間の要約。未定義の値と失敗したフォールドは除く
type MetricSummary struct {
	Metric   string
	Mean     float64
	Variance float64
	Std      float64
	Count    int
}

// Summary は指標ごとの平均・分散（不偏）・標準偏差を返す
func (r *NestedCVResult) Summary() []MetricSummary {
	out := make([]MetricSummary, 0, len(r.Metrics))
	for _, name := range r.Metrics {
		var values []float64
		for _, v := range r.ExtractScores(name) {
			if !math.IsNaN(v) {
				values = append(values, v)
			}
		}
		s := MetricSummary{Metric: name, Mean: math.NaN(), Variance: math.NaN(), Std: math.NaN(), Count: len(values)}
		switch len(values) {
		case 0:
		case 1:
			s.Mean = values[0]
		default:
			s.Mean, s.Variance = stat.MeanVariance(values, nil)
			s.Std = math.Sqrt(s.Variance)
		}
		out = append(out, s)
	}
	return out
}

// ExtractScores は外側フォールド順に metric の値を返す。失敗したフォールドは NaN
func (r *NestedCVResult) ExtractScores(metric string) []float64 {
	out := make([]float64, len(r.Folds))
	for i, f := range r.Folds {
		if f.Scores == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = f.Scores.Value(metric)
	}
	return out
}

// GridRow は結果グリッドの1行（外側フォールド × 内側候補）
type GridRow struct {
	Fold      int
	Candidate int
	Params    model.Params
	MeanScore float64
	StdScore  float64
	Best      bool
	Error     string
}

// ScoreGrid は全外側フォールドの探索候補を1つの表にまとめる
func (r *NestedCVResult) ScoreGrid() []GridRow {
	var rows []GridRow
	for _, f := range r.Folds {
		if f.Search == nil {
			continue
		}
		for _, c := range f.Search.Candidates {
			rows = append(rows, GridRow{
				Fold:      f.Fold,
				Candidate: c.Index,
				Params:    c.Params,
				MeanScore: c.MeanScore,
				StdScore:  c.StdScore,
				Best:      c.Index == f.Search.BestIndex,
				Error:     c.Error,
			})
		}
	}
	return rows
}

// Failed returns the folds recorded without a score bundle.
func (r *NestedCVResult) Failed() []FoldResult {
	var out []FoldResult
	for _, f := range r.Folds {
		if f.Failed() {
			out = append(out, f)
		}
	}
	return out
}
