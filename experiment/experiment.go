// Package experiment は設定ファイルから推定器と探索器を組み立て、
// ホールドアウト分割・入れ子の交差検証・ホールドアウト評価を一続きで実行する。
//
// 使用例:
//
//	cfg, err := experiment.Load(".")
//	if err != nil {
//		return err
//	}
//	exp, err := experiment.New(cfg, loader)
//	if err != nil {
//		return err
//	}
//	report, err := exp.Run(ctx)
package experiment

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/pulearn/core/dataset"
	"github.com/YuminosukeSato/pulearn/core/model"
	"github.com/YuminosukeSato/pulearn/metrics"
	"github.com/YuminosukeSato/pulearn/pkg/errors"
	"github.com/YuminosukeSato/pulearn/pkg/log"
	"github.com/YuminosukeSato/pulearn/preprocessing"
	"github.com/YuminosukeSato/pulearn/sklearn/ensemble"
	"github.com/YuminosukeSato/pulearn/sklearn/linear_model"
	"github.com/YuminosukeSato/pulearn/sklearn/model_selection"
	"github.com/YuminosukeSato/pulearn/sklearn/pipeline"
	"github.com/YuminosukeSato/pulearn/sklearn/semi_supervised"
)

// FinalStepName はスケーラーを使う場合のパイプライン末端の名前。
// 探索パラメータは "clf__" を前置して指定する
const FinalStepName = "clf"

// Experiment は1回の実験
type Experiment struct {
	cfg    *Config
	loader dataset.Loader
	runID  string
}

// Option は Experiment の設定関数
type Option func(*Experiment)

// WithRunID は実行IDを固定する。指定しなければ UUID を割り当てる
func WithRunID(id string) Option {
	return func(e *Experiment) {
		e.runID = id
	}
}

// New は検証済みの設定とデータの供給元から Experiment を作成する
func New(cfg *Config, loader dataset.Loader, opts ...Option) (*Experiment, error) {
	if cfg == nil {
		return nil, errors.NewConfigurationError("experiment.New", "config", "config is nil", nil)
	}
	if loader == nil {
		return nil, errors.NewConfigurationError("experiment.New", "loader", "loader is nil", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Experiment{cfg: cfg, loader: loader}
	for _, opt := range opts {
		opt(e)
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}
	return e, nil
}

// RunID returns the identifier attached to every log record of the run.
func (e *Experiment) RunID() string {
	return e.runID
}

// Config returns the configuration of the experiment.
func (e *Experiment) Config() *Config {
	return e.cfg
}

// Estimator は設定から未学習の推定器を組み立てる
func (e *Experiment) Estimator() (model.Classifier, error) {
	m := e.cfg.Model
	base := linear_model.NewLogisticRegression(
		linear_model.WithLRC(m.C),
		linear_model.WithLRMaxIter(m.MaxIter),
		linear_model.WithLRRandomState(e.cfg.Seed),
	)

	var est model.Classifier
	switch m.Kind {
	case ModelPNU:
		opts := []semi_supervised.PNUOption{semi_supervised.WithRandomState(e.cfg.Seed)}
		switch {
		case m.NumUnlabeled > 0:
			opts = append(opts, semi_supervised.WithNumUnlabeled(semi_supervised.Count(m.NumUnlabeled)))
		case m.UnlabeledFraction > 0:
			opts = append(opts, semi_supervised.WithNumUnlabeled(semi_supervised.Fraction(m.UnlabeledFraction)))
		}
		if m.PULearning != nil {
			opts = append(opts, semi_supervised.WithPULearning(*m.PULearning))
		}
		if m.ThresholdSetPct != nil {
			opts = append(opts, semi_supervised.WithThresholdSetPct(*m.ThresholdSetPct))
		}
		est = semi_supervised.NewPNUWrapper(base, opts...)
	case ModelSubsampler:
		est = ensemble.NewRepeatedRandomSubSampler(base,
			ensemble.WithNMembers(m.NMembers),
			ensemble.WithSampleImbalance(m.SampleImbalance),
			ensemble.WithVoting(ensemble.Voting(m.Voting)),
			ensemble.WithRandomState(e.cfg.Seed),
			ensemble.WithNJobs(e.cfg.NJobs),
		)
	default:
		return nil, errors.NewConfigurationError("experiment.Estimator", "model.kind", "unknown model kind", m.Kind)
	}

	var scaler model.Transformer
	switch m.Scaler {
	case ScalerStandard:
		scaler = preprocessing.NewStandardScalerDefault()
	case ScalerMaxAbs:
		scaler = preprocessing.NewMaxAbsScaler()
	default:
		return est, nil
	}
	p, err := pipeline.NewPipeline(FinalStepName, est, pipeline.Step{Name: "scaler", Transformer: scaler})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Searcher は設定から内側の探索器を組み立てる
func (e *Experiment) Searcher() (model_selection.Searcher, error) {
	s := e.cfg.Search
	metric, err := metrics.MetricByName(s.Scorer, e.cfg.Metrics.Prior)
	if err != nil {
		return nil, err
	}
	opts := []model_selection.SearchOption{
		model_selection.WithScorer(metrics.MakeScorer(metric)),
		model_selection.WithSearchNJobs(s.NJobs),
		model_selection.WithTimeBudget(s.TimeBudgetDuration()),
	}
	switch s.Kind {
	case SearchGrid:
		return model_selection.NewGridSearchCV(s.ParamGrid(), opts...), nil
	default:
		space, err := s.Space()
		if err != nil {
			return nil, err
		}
		return model_selection.NewRandomizedSearchCV(space, s.NIter, opts...), nil
	}
}

// MultiScorer は外側フォールドとホールドアウトで使う採点器を組み立てる
func (e *Experiment) MultiScorer() (*metrics.MultiScorer, error) {
	opts := []metrics.MultiScorerOption{metrics.WithPrior(e.cfg.Metrics.Prior)}
	if len(e.cfg.Metrics.Names) > 0 {
		ms := make([]metrics.Metric, 0, len(e.cfg.Metrics.Names))
		for _, name := range e.cfg.Metrics.Names {
			m, err := metrics.MetricByName(name, e.cfg.Metrics.Prior)
			if err != nil {
				return nil, err
			}
			ms = append(ms, m)
		}
		opts = append(opts, metrics.WithMetrics(ms...))
	}
	return metrics.NewMultiScorer(opts...), nil
}

// Report は1回の実験の結果
type Report struct {
	RunID          string
	Name           string
	Counts         dataset.Counts
	TrainIndices   []int
	HoldoutIndices []int
	Nested         *model_selection.NestedCVResult
	Summary        []model_selection.MetricSummary
	HoldoutParams  model.Params
	Holdout        *metrics.ScoreBundle
	Duration       time.Duration
}

// HasHoldout reports whether a holdout set was scored.
func (r *Report) HasHoldout() bool {
	return r.Holdout != nil
}

// Save writes the report with gob.
func (r *Report) Save(w io.Writer) error {
	return model.SaveModelToWriter(r, w)
}

// LoadReport reads a report written by Save.
func LoadReport(rd io.Reader) (*Report, error) {
	var r Report
	if err := model.LoadModelFromReader(&r, rd); err != nil {
		return nil, err
	}
	return &r, nil
}

// Run はデータを読み込み、ホールドアウト分割、入れ子の交差検証、
// ホールドアウトでの再学習と採点を順に行う
func (e *Experiment) Run(ctx context.Context) (*Report, error) {
	logger := log.GetLoggerWithName("experiment").With(log.RunIDKey, e.runID)
	start := time.Now()

	est, err := e.Estimator()
	if err != nil {
		return nil, err
	}
	searcher, err := e.Searcher()
	if err != nil {
		return nil, err
	}
	scorer, err := e.MultiScorer()
	if err != nil {
		return nil, err
	}

	data, err := e.loader.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load dataset")
	}
	if err := dataset.ValidateLabels("experiment.Run", data.Y); err != nil {
		return nil, err
	}

	report := &Report{RunID: e.runID, Name: e.cfg.Name, Counts: data.Counts()}
	if e.cfg.HoldoutSize > 0 {
		report.TrainIndices, report.HoldoutIndices, err = model_selection.TrainTestSplit(data.Y, e.cfg.HoldoutSize, e.cfg.Seed)
		if err != nil {
			return nil, err
		}
	} else {
		report.TrainIndices = make([]int, data.Len())
		for i := range report.TrainIndices {
			report.TrainIndices[i] = i
		}
	}
	train := data.Subset(report.TrainIndices)

	logger.Info("Experiment started",
		log.ModelNameKey, model.NameOf(est),
		log.SamplesKey, data.Len(),
		log.FeaturesKey, data.NumFeatures(),
		"data.holdout", len(report.HoldoutIndices),
	)

	ncv := model_selection.NewNestedCV(est, searcher,
		model_selection.WithOuterFolds(e.cfg.CV.OuterFolds),
		model_selection.WithInnerFolds(e.cfg.CV.InnerFolds),
		model_selection.WithMinPerClass(e.cfg.CV.MinPerClass),
		model_selection.WithRandomState(e.cfg.Seed),
		model_selection.WithNJobs(e.cfg.NJobs),
		model_selection.WithMultiScorer(scorer),
		model_selection.WithRunID(e.runID),
	)
	nested, err := ncv.Run(ctx, train.X, train.LabelVec())
	if err != nil {
		return nil, err
	}
	report.Nested = nested
	report.Summary = nested.Summary()

	if len(report.HoldoutIndices) > 0 {
		if err := e.scoreHoldout(ctx, est, searcher, scorer, train, data.Subset(report.HoldoutIndices), report); err != nil {
			return nil, err
		}
	}

	report.Duration = time.Since(start)
	logger.Info("Experiment finished",
		"cv.failed_folds", len(nested.Failed()),
		log.DurationMsKey, report.Duration.Milliseconds(),
	)
	return report, nil
}

// scoreHoldout は学習側全体で探索し直し、最良の設定で再学習してホールドアウトを採点する
func (e *Experiment) scoreHoldout(ctx context.Context, est model.Classifier, searcher model_selection.Searcher, scorer *metrics.MultiScorer, train, holdout *dataset.Dataset, report *Report) error {
	search, err := searcher.Search(ctx, est, train.X, train.Y,
		model_selection.NewStratifiedKFold(e.cfg.CV.InnerFolds, true), e.cfg.Seed)
	if err != nil {
		return errors.Wrap(err, "holdout search")
	}
	best, err := model_selection.Configure(est, search.BestParams)
	if err != nil {
		return err
	}
	if err := best.Fit(train.X, train.LabelVec()); err != nil {
		return errors.Wrap(err, "refit on training set")
	}
	bundle, err := scorer.Score(best, holdout.X, holdout.Y)
	if err != nil {
		return err
	}
	report.HoldoutParams = search.BestParams.Clone()
	report.Holdout = bundle
	return nil
}
