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

// CandidateResult は1候補の内側交差検証の結果。
// 失敗した候補は Error にメッセージが入り、MeanScore は NaN
type CandidateResult struct {
	Index      int
	Params     model.Params
	FoldScores []float64
	MeanScore  float64
	StdScore   float64
	Error      string
}

// Failed reports whether the candidate could not be scored.
func (c CandidateResult) Failed() bool {
	return c.Error != ""
}

// SearchResult はハイパーパラメータ探索の結果
type SearchResult struct {
	Scorer     string
	Candidates []CandidateResult
	BestIndex  int
	BestParams model.Params
	BestScore  float64
}

// Best returns the winning candidate.
func (r *SearchResult) Best() CandidateResult {
	return r.Candidates[r.BestIndex]
}

// Searcher はハイパーパラメータ探索の能力インターフェース
type Searcher interface {
	// Search は est の候補を (X, y) 上の cv 分割で評価し、最良の設定を返す。
	// 有効な候補が1つもなければ SearchExhaustedError を返す
	Search(ctx context.Context, est model.Classifier, X mat.Matrix, y []dataset.Label, cv Splitter, seed int64) (*SearchResult, error)

	// Validate はデータに依存しない設定の誤りを ConfigurationError として返す
	Validate() error
}

// searchConfig は探索器に共通の設定
type searchConfig struct {
	scorer     metrics.Scorer
	nJobs      int
	timeBudget time.Duration
}

// SearchOption は探索器の設定関数
type SearchOption func(*searchConfig)

// WithScorer は候補の評価指標を設定（デフォルトは assumed_f1）
func WithScorer(s metrics.Scorer) SearchOption {
	return func(c *searchConfig) {
		c.scorer = s
	}
}

// WithSearchNJobs は候補を並列に評価する数を設定（-1で全CPU）
func WithSearchNJobs(n int) SearchOption {
	return func(c *searchConfig) {
		c.nJobs = n
	}
}

// WithTimeBudget は探索全体の経過時間の上限を設定する。
// 期限後に始まる候補は評価されず失敗として記録される
func WithTimeBudget(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		c.timeBudget = d
	}
}

func newSearchConfig(opts []SearchOption) searchConfig {
	c := searchConfig{nJobs: -1}
	for _, opt := range opts {
		opt(&c)
	}
	if c.scorer == nil {
		m, _ := metrics.MetricByName(metrics.AssumedF1, metrics.DefaultPrior)
		c.scorer = metrics.MakeScorer(m)
	}
	return c
}

// CrossValScore は params を設定した est のクローンを各フォールドで学習し、
// テスト側のスコアをフォールド順に返す
func CrossValScore(ctx context.Context, est model.Classifier, params model.Params, X mat.Matrix, y []dataset.Label, folds []Fold, scorer metrics.Scorer) ([]float64, error) {
	scores := make([]float64, len(folds))
	for f, fold := range folds {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "fold %d", f)
		}
		m, err := Configure(est, params)
		if err != nil {
			return nil, err
		}
		yTrain := dataset.SelectLabels(y, fold.TrainIndices)
		if err := m.Fit(dataset.SelectRows(X, fold.TrainIndices), dataset.LabelVec(yTrain)); err != nil {
			return nil, errors.Wrapf(err, "fold %d", f)
		}
		s, err := scorer.Score(m, dataset.SelectRows(X, fold.TestIndices), dataset.SelectLabels(y, fold.TestIndices))
		if err != nil {
			return nil, errors.Wrapf(err, "fold %d", f)
		}
		scores[f] = s
	}
	return scores, nil
}

// Configure は est のクローンに params を適用する
func Configure(est model.Classifier, params model.Params) (model.Classifier, error) {
	m := est.Clone()
	if len(params) == 0 {
		return m, nil
	}
	pm, ok := m.(model.Parameterized)
	if !ok {
		return nil, errors.NewConfigurationError("Configure", "params",
			fmt.Sprintf("%s does not accept parameters", model.NameOf(est)), params.String())
	}
	if err := pm.SetParams(params); err != nil {
		return nil, err
	}
	return m, nil
}

// evaluate は候補を並列に評価し、最良の候補を選ぶ。
// 結果は候補番号順に並び、同点の場合は番号の小さい方を選ぶ
func evaluate(ctx context.Context, op string, cfg searchConfig, est model.Classifier, candidates []model.Params, X mat.Matrix, y []dataset.Label, cv Splitter, seed int64) (*SearchResult, error) {
	if est == nil {
		return nil, errors.NewConfigurationError(op, "estimator", "estimator is nil", nil)
	}
	if cv == nil {
		return nil, errors.NewConfigurationError(op, "cv", "splitter is nil", nil)
	}
	folds, err := cv.Split(y, seed)
	if err != nil {
		return nil, err
	}

	budget := ctx
	if cfg.timeBudget > 0 {
		var cancel context.CancelFunc
		budget, cancel = context.WithTimeout(ctx, cfg.timeBudget)
		defer cancel()
	}

	logger := log.GetLoggerWithName("model_selection")
	start := time.Now()

	results := make([]CandidateResult, len(candidates))
	err = parallel.Run(ctx, len(candidates), cfg.nJobs, func(_ context.Context, i int) error {
		res := CandidateResult{Index: i, Params: candidates[i], MeanScore: math.NaN(), StdScore: math.NaN()}
		if err := budget.Err(); err != nil {
			res.Error = "search budget exhausted: " + err.Error()
			results[i] = res
			return nil
		}
		// 候補の失敗は記録して他の候補を続ける
		err := errors.SafeExecute(fmt.Sprintf("%s candidate %d", op, i), func() error {
			scores, err := CrossValScore(budget, est, candidates[i], X, y, folds, cfg.scorer)
			if err != nil {
				return err
			}
			res.FoldScores = scores
			res.MeanScore, res.StdScore = meanStd(scores)
			return nil
		})
		if err != nil {
			res.Error = err.Error()
			logger.Debug("Candidate failed",
				log.OperationKey, log.OperationSearch,
				log.CandidateKey, i,
				"error", res.Error,
			)
		}
		results[i] = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	best, failed := -1, 0
	var lastErr error
	for i, r := range results {
		if r.Failed() {
			failed++
			lastErr = errors.New(r.Error)
			continue
		}
		if math.IsNaN(r.MeanScore) || math.IsInf(r.MeanScore, 0) {
			continue
		}
		if best < 0 || r.MeanScore > results[best].MeanScore {
			best = i
		}
	}
	if best < 0 {
		return nil, errors.NewSearchExhaustedError(op, len(candidates), failed, lastErr)
	}

	out := &SearchResult{
		Scorer:     cfg.scorer.Name(),
		Candidates: results,
		BestIndex:  best,
		BestParams: results[best].Params.Clone(),
		BestScore:  results[best].MeanScore,
	}
	logger.Debug("Search finished",
		log.OperationKey, log.OperationSearch,
		log.CandidatesKey, len(candidates),
		log.ScoreKey, out.BestScore,
		log.MetricKey, out.Scorer,
		log.DurationMsKey, time.Since(start).Milliseconds(),
		log.HyperParamsKey, out.BestParams.String(),
	)
	return out, nil
}

// meanStd は平均と母標準偏差を返す。NaN を含めば平均も NaN
func meanStd(scores []float64) (float64, float64) {
	if len(scores) == 0 {
		return math.NaN(), math.NaN()
	}
	mean := stat.Mean(scores, nil)
	std := math.Sqrt(stat.PopVariance(scores, nil))
	return mean, std
}

// RandomizedSearchCV は ParamSpace から NIter 個の候補を引いて評価する
type RandomizedSearchCV struct {
	Space ParamSpace
	NIter int
	cfg   searchConfig
}

// NewRandomizedSearchCV は新しいランダム探索器を作成する
//
// 使用例:
//
//	search := model_selection.NewRandomizedSearchCV(model_selection.ParamSpace{
//		"num_unlabeled":     model_selection.IntRange{Low: 2000, High: 15000},
//		"threshold_set_pct": model_selection.Choice{Values: []interface{}{0.0143, nil}},
//	}, 100, model_selection.WithScorer(scorer))
func NewRandomizedSearchCV(space ParamSpace, nIter int, opts ...SearchOption) *RandomizedSearchCV {
	return &RandomizedSearchCV{Space: space, NIter: nIter, cfg: newSearchConfig(opts)}
}

// Candidates は seed から決まる候補列を返す。候補 i は rng.Derive(seed, i) から引く
func (s *RandomizedSearchCV) Candidates(seed int64) []model.Params {
	out := make([]model.Params, s.NIter)
	for i := range out {
		out[i] = s.Space.Sample(rng.New(rng.Derive(seed, i)))
	}
	return out
}

// Search implements Searcher.
func (s *RandomizedSearchCV) Search(ctx context.Context, est model.Classifier, X mat.Matrix, y []dataset.Label, cv Splitter, seed int64) (*SearchResult, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return evaluate(ctx, "RandomizedSearchCV.Search", s.cfg, est, s.Candidates(seed), X, y, cv, seed)
}

// Validate implements Searcher.
func (s *RandomizedSearchCV) Validate() error {
	if s.NIter < 1 {
		return errors.NewConfigurationError("RandomizedSearchCV", "n_iter", "must be at least 1", s.NIter)
	}
	return s.Space.Validate()
}

// GridSearchCV は ParamGrid の全組み合わせを評価する
type GridSearchCV struct {
	Grid ParamGrid
	cfg  searchConfig
}

// NewGridSearchCV は新しいグリッド探索器を作成する
func NewGridSearchCV(grid ParamGrid, opts ...SearchOption) *GridSearchCV {
	return &GridSearchCV{Grid: grid, cfg: newSearchConfig(opts)}
}

// Search implements Searcher.
func (s *GridSearchCV) Search(ctx context.Context, est model.Classifier, X mat.Matrix, y []dataset.Label, cv Splitter, seed int64) (*SearchResult, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return evaluate(ctx, "GridSearchCV.Search", s.cfg, est, s.Grid.Candidates(), X, y, cv, seed)
}

// Validate implements Searcher.
func (s *GridSearchCV) Validate() error {
	return s.Grid.Validate()
}
