package experiment

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/YuminosukeSato/pulearn/metrics"
	"github.com/YuminosukeSato/pulearn/pkg/errors"
	"github.com/YuminosukeSato/pulearn/sklearn/ensemble"
	"github.com/YuminosukeSato/pulearn/sklearn/model_selection"
)

const (
	BaseConfigFile       = "pulearn.toml"
	OverlayConfigPattern = "pulearn.%s.toml"

	EnvPulearnEnv        = "PULEARN_ENV"
	EnvSeed              = "PULEARN_SEED"
	EnvNJobs             = "PULEARN_N_JOBS"
	EnvLogLevel          = "PULEARN_LOG_LEVEL"
	EnvHoldoutSize       = "PULEARN_HOLDOUT_SIZE"
	EnvOuterFolds        = "PULEARN_OUTER_FOLDS"
	EnvInnerFolds        = "PULEARN_INNER_FOLDS"
	EnvSearchNIter       = "PULEARN_SEARCH_N_ITER"
	EnvSearchTimeBudget  = "PULEARN_SEARCH_TIME_BUDGET"
	EnvSearchScorer      = "PULEARN_SEARCH_SCORER"
	EnvMetricsPrior      = "PULEARN_PRIOR"
	defaultLogLevel      = "warn"
	defaultSearchScorer  = metrics.AssumedF1
	defaultSearchNIter   = 10
	defaultSearchKind    = SearchRandomized
	defaultModelKind     = ModelPNU
	defaultLogisticIters = 100
)

// モデルの種類
const (
	ModelPNU        = "pnu"
	ModelSubsampler = "subsampler"
)

// 前処理の種類
const (
	ScalerNone     = ""
	ScalerStandard = "standard"
	ScalerMaxAbs   = "max_abs"
)

// 探索の種類
const (
	SearchRandomized = "randomized"
	SearchGrid       = "grid"
)

// パラメータ分布の種類
const (
	ParamIntRange = "int_range"
	ParamUniform  = "uniform"
	ParamChoice   = "choice"
	ParamFixed    = "fixed"
)

// Config は1回の実験の設定。pulearn.toml と環境ごとの上書きファイル、
// PULEARN_* 環境変数から組み立てる
type Config struct {
	Name        string        `toml:"name"`
	Seed        int64         `toml:"seed"`
	NJobs       int           `toml:"n_jobs"`
	HoldoutSize float64       `toml:"holdout_size"`
	LogLevel    string        `toml:"log_level"`
	Model       ModelConfig   `toml:"model"`
	CV          CVConfig      `toml:"cv"`
	Search      SearchConfig  `toml:"search"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// ModelConfig は評価する推定器の構成
type ModelConfig struct {
	Kind   string `toml:"kind"`
	Scaler string `toml:"scaler"`

	// ロジスティック回帰
	C       float64 `toml:"c"`
	MaxIter int     `toml:"max_iter"`

	// PNUWrapper。NumUnlabeled と UnlabeledFraction が両方0なら未ラベル全件
	NumUnlabeled      int      `toml:"num_unlabeled"`
	UnlabeledFraction float64  `toml:"unlabeled_fraction"`
	PULearning        *bool    `toml:"pu_learning"`
	ThresholdSetPct   *float64 `toml:"threshold_set_pct"`

	// RepeatedRandomSubSampler
	NMembers        int     `toml:"n_members"`
	SampleImbalance float64 `toml:"sample_imbalance"`
	Voting          string  `toml:"voting"`
}

// CVConfig は入れ子の交差検証の分割設定
type CVConfig struct {
	OuterFolds  int `toml:"outer_folds"`
	InnerFolds  int `toml:"inner_folds"`
	MinPerClass int `toml:"min_per_class"`
}

// SearchConfig は内側の探索の設定
type SearchConfig struct {
	Kind       string                   `toml:"kind"`
	NIter      int                      `toml:"n_iter"`
	Scorer     string                   `toml:"scorer"`
	TimeBudget string                   `toml:"time_budget"`
	NJobs      int                      `toml:"n_jobs"`
	Params     map[string]ParamConfig   `toml:"params"`
	Grid       map[string][]interface{} `toml:"grid"`
}

// ParamConfig は1つのハイパーパラメータの分布
//
//	[search.params.num_unlabeled]
//	kind = "int_range"
//	low = 2000
//	high = 15000
type ParamConfig struct {
	Kind        string        `toml:"kind"`
	Low         int           `toml:"low"`
	High        int           `toml:"high"`
	Loc         float64       `toml:"loc"`
	Scale       float64       `toml:"scale"`
	Values      []interface{} `toml:"values"`
	IncludeNone bool          `toml:"include_none"`
	Value       interface{}   `toml:"value"`
}

// MetricsConfig は外側フォールドで計算する指標
type MetricsConfig struct {
	Prior float64  `toml:"prior"`
	Names []string `toml:"names"`
}

// TimeBudgetDuration returns the search time budget, zero when unset.
func (s *SearchConfig) TimeBudgetDuration() time.Duration {
	d, _ := time.ParseDuration(s.TimeBudget)
	return d
}

// Env returns the PULEARN_ENV value, empty when unset.
func (c *Config) Env() string {
	return os.Getenv(EnvPulearnEnv)
}

// Load reads dir/pulearn.toml (if present), applies the overlay selected by
// PULEARN_ENV, then defaults, environment variables and validation.
func Load(dir string) (*Config, error) {
	cfg := &Config{}

	base := filepath.Join(dir, BaseConfigFile)
	if _, err := os.Stat(base); err == nil {
		loaded, err := load(base)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(dir); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, errors.Wrapf(err, "load overlay %s", path)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, errors.Wrap(err, "finalize config")
	}
	return cfg, nil
}

// Parse decodes a TOML document and finalizes it without reading files.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.finalize(); err != nil {
		return nil, errors.Wrap(err, "finalize config")
	}
	return &cfg, nil
}

// Default returns a finalized configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.loadDefaults()
	return cfg
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Name != "" {
		c.Name = overlay.Name
	}
	if overlay.Seed != 0 {
		c.Seed = overlay.Seed
	}
	if overlay.NJobs != 0 {
		c.NJobs = overlay.NJobs
	}
	if overlay.HoldoutSize != 0 {
		c.HoldoutSize = overlay.HoldoutSize
	}
	if overlay.LogLevel != "" {
		c.LogLevel = overlay.LogLevel
	}
	c.Model.Merge(&overlay.Model)
	c.CV.Merge(&overlay.CV)
	c.Search.Merge(&overlay.Search)
	c.Metrics.Merge(&overlay.Metrics)
}

// Merge overwrites non-zero fields from overlay.
func (m *ModelConfig) Merge(overlay *ModelConfig) {
	if overlay.Kind != "" {
		m.Kind = overlay.Kind
	}
	if overlay.Scaler != "" {
		m.Scaler = overlay.Scaler
	}
	if overlay.C != 0 {
		m.C = overlay.C
	}
	if overlay.MaxIter != 0 {
		m.MaxIter = overlay.MaxIter
	}
	// 件数と割合はどちらか一方だけが有効
	if overlay.NumUnlabeled != 0 {
		m.NumUnlabeled = overlay.NumUnlabeled
		m.UnlabeledFraction = 0
	}
	if overlay.UnlabeledFraction != 0 {
		m.UnlabeledFraction = overlay.UnlabeledFraction
		m.NumUnlabeled = 0
	}
	if overlay.PULearning != nil {
		m.PULearning = overlay.PULearning
	}
	if overlay.ThresholdSetPct != nil {
		m.ThresholdSetPct = overlay.ThresholdSetPct
	}
	if overlay.NMembers != 0 {
		m.NMembers = overlay.NMembers
	}
	if overlay.SampleImbalance != 0 {
		m.SampleImbalance = overlay.SampleImbalance
	}
	if overlay.Voting != "" {
		m.Voting = overlay.Voting
	}
}

// Merge overwrites non-zero fields from overlay.
func (c *CVConfig) Merge(overlay *CVConfig) {
	if overlay.OuterFolds != 0 {
		c.OuterFolds = overlay.OuterFolds
	}
	if overlay.InnerFolds != 0 {
		c.InnerFolds = overlay.InnerFolds
	}
	if overlay.MinPerClass != 0 {
		c.MinPerClass = overlay.MinPerClass
	}
}

// Merge overwrites non-zero fields from overlay. Parameter entries are
// replaced per key.
func (s *SearchConfig) Merge(overlay *SearchConfig) {
	if overlay.Kind != "" {
		s.Kind = overlay.Kind
	}
	if overlay.NIter != 0 {
		s.NIter = overlay.NIter
	}
	if overlay.Scorer != "" {
		s.Scorer = overlay.Scorer
	}
	if overlay.TimeBudget != "" {
		s.TimeBudget = overlay.TimeBudget
	}
	if overlay.NJobs != 0 {
		s.NJobs = overlay.NJobs
	}
	for k, v := range overlay.Params {
		if s.Params == nil {
			s.Params = make(map[string]ParamConfig)
		}
		s.Params[k] = v
	}
	for k, v := range overlay.Grid {
		if s.Grid == nil {
			s.Grid = make(map[string][]interface{})
		}
		s.Grid[k] = v
	}
}

// Merge overwrites non-zero fields from overlay.
func (m *MetricsConfig) Merge(overlay *MetricsConfig) {
	if overlay.Prior != 0 {
		m.Prior = overlay.Prior
	}
	if len(overlay.Names) > 0 {
		m.Names = append([]string(nil), overlay.Names...)
	}
}

func (c *Config) finalize() error {
	c.loadDefaults()
	if err := c.loadEnv(); err != nil {
		return err
	}
	return c.Validate()
}

func (c *Config) loadDefaults() {
	if c.NJobs == 0 {
		c.NJobs = -1
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Model.Kind == "" {
		c.Model.Kind = defaultModelKind
	}
	if c.Model.C == 0 {
		c.Model.C = 1.0
	}
	if c.Model.MaxIter == 0 {
		c.Model.MaxIter = defaultLogisticIters
	}
	if c.Model.NMembers == 0 {
		c.Model.NMembers = 10
	}
	if c.Model.SampleImbalance == 0 {
		c.Model.SampleImbalance = 1.0
	}
	if c.Model.Voting == "" {
		c.Model.Voting = string(ensemble.VotingThresh)
	}
	if c.CV.OuterFolds == 0 {
		c.CV.OuterFolds = 5
	}
	if c.CV.InnerFolds == 0 {
		c.CV.InnerFolds = 3
	}
	if c.CV.MinPerClass == 0 {
		c.CV.MinPerClass = model_selection.DefaultMinPerClass
	}
	if c.Search.Kind == "" {
		c.Search.Kind = defaultSearchKind
	}
	if c.Search.NIter == 0 {
		c.Search.NIter = defaultSearchNIter
	}
	if c.Search.Scorer == "" {
		c.Search.Scorer = defaultSearchScorer
	}
	if c.Search.NJobs == 0 {
		c.Search.NJobs = 1
	}
	if c.Metrics.Prior == 0 {
		c.Metrics.Prior = metrics.DefaultPrior
	}
}

func (c *Config) loadEnv() error {
	if v := os.Getenv(EnvSeed); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return envError(EnvSeed, v, err)
		}
		c.Seed = seed
	}
	if err := envInt(EnvNJobs, &c.NJobs); err != nil {
		return err
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvHoldoutSize); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError(EnvHoldoutSize, v, err)
		}
		c.HoldoutSize = f
	}
	if err := envInt(EnvOuterFolds, &c.CV.OuterFolds); err != nil {
		return err
	}
	if err := envInt(EnvInnerFolds, &c.CV.InnerFolds); err != nil {
		return err
	}
	if err := envInt(EnvSearchNIter, &c.Search.NIter); err != nil {
		return err
	}
	if v := os.Getenv(EnvSearchTimeBudget); v != "" {
		c.Search.TimeBudget = v
	}
	if v := os.Getenv(EnvSearchScorer); v != "" {
		c.Search.Scorer = v
	}
	if v := os.Getenv(EnvMetricsPrior); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError(EnvMetricsPrior, v, err)
		}
		c.Metrics.Prior = f
	}
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return envError(key, v, err)
	}
	*dst = n
	return nil
}

func envError(key, value string, err error) error {
	return errors.NewConfigurationError("experiment.Config", key, err.Error(), value)
}

// Validate checks every field. It does not look at the data.
func (c *Config) Validate() error {
	const op = "experiment.Config"
	if c.HoldoutSize < 0 || c.HoldoutSize >= 1 {
		return errors.NewConfigurationError(op, "holdout_size", "must be in [0, 1)", c.HoldoutSize)
	}
	switch c.Model.Kind {
	case ModelPNU, ModelSubsampler:
	default:
		return errors.NewConfigurationError(op, "model.kind", "unknown model kind", c.Model.Kind)
	}
	switch c.Model.Scaler {
	case ScalerNone, ScalerStandard, ScalerMaxAbs:
	default:
		return errors.NewConfigurationError(op, "model.scaler", "unknown scaler", c.Model.Scaler)
	}
	if c.Model.NumUnlabeled < 0 {
		return errors.NewConfigurationError(op, "model.num_unlabeled", "must be non-negative", c.Model.NumUnlabeled)
	}
	if c.Model.NumUnlabeled > 0 && c.Model.UnlabeledFraction > 0 {
		return errors.NewConfigurationError(op, "model.unlabeled_fraction",
			"num_unlabeled and unlabeled_fraction are mutually exclusive", c.Model.UnlabeledFraction)
	}
	if c.Model.UnlabeledFraction < 0 || c.Model.UnlabeledFraction > 1 {
		return errors.NewConfigurationError(op, "model.unlabeled_fraction", "must be in (0, 1]", c.Model.UnlabeledFraction)
	}
	if p := c.Model.ThresholdSetPct; p != nil && (*p < 0 || *p > 1) {
		return errors.NewConfigurationError(op, "model.threshold_set_pct", "must be in [0, 1]", *p)
	}
	switch ensemble.Voting(c.Model.Voting) {
	case ensemble.VotingThresh, ensemble.VotingMajority:
	default:
		return errors.NewConfigurationError(op, "model.voting", "unknown voting", c.Model.Voting)
	}
	if c.Model.NMembers < 1 {
		return errors.NewConfigurationError(op, "model.n_members", "must be at least 1", c.Model.NMembers)
	}
	if c.Model.SampleImbalance <= 0 {
		return errors.NewConfigurationError(op, "model.sample_imbalance", "must be positive", c.Model.SampleImbalance)
	}
	if c.CV.OuterFolds < 2 || c.CV.InnerFolds < 2 {
		return errors.NewConfigurationError(op, "cv", "outer_folds and inner_folds must be at least 2",
			fmt.Sprintf("%d/%d", c.CV.OuterFolds, c.CV.InnerFolds))
	}
	if c.Search.TimeBudget != "" {
		if d, err := time.ParseDuration(c.Search.TimeBudget); err != nil || d < 0 {
			return errors.NewConfigurationError(op, "search.time_budget", "invalid duration", c.Search.TimeBudget)
		}
	}
	if _, err := metrics.MetricByName(c.Search.Scorer, c.Metrics.Prior); err != nil {
		return errors.NewConfigurationError(op, "search.scorer", err.Error(), c.Search.Scorer)
	}
	for _, name := range c.Metrics.Names {
		if _, err := metrics.MetricByName(name, c.Metrics.Prior); err != nil {
			return errors.NewConfigurationError(op, "metrics.names", err.Error(), name)
		}
	}

	switch c.Search.Kind {
	case SearchRandomized:
		if c.Search.NIter < 1 {
			return errors.NewConfigurationError(op, "search.n_iter", "must be at least 1", c.Search.NIter)
		}
		space, err := c.Search.Space()
		if err != nil {
			return err
		}
		return space.Validate()
	case SearchGrid:
		return c.Search.ParamGrid().Validate()
	default:
		return errors.NewConfigurationError(op, "search.kind", "unknown search kind", c.Search.Kind)
	}
}

// Space converts the configured distributions into a ParamSpace.
func (s *SearchConfig) Space() (model_selection.ParamSpace, error) {
	space := make(model_selection.ParamSpace, len(s.Params))
	keys := make([]string, 0, len(s.Params))
	for k := range s.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d, err := s.Params[k].Distribution(k)
		if err != nil {
			return nil, err
		}
		space[k] = d
	}
	return space, nil
}

// ParamGrid returns the configured grid.
func (s *SearchConfig) ParamGrid() model_selection.ParamGrid {
	grid := make(model_selection.ParamGrid, len(s.Grid))
	for k, v := range s.Grid {
		grid[k] = v
	}
	return grid
}

// Distribution converts the entry into a ParamDistribution.
func (p ParamConfig) Distribution(name string) (model_selection.ParamDistribution, error) {
	switch p.Kind {
	case ParamIntRange:
		return model_selection.IntRange{Low: p.Low, High: p.High}, nil
	case ParamUniform:
		return model_selection.Uniform{Loc: p.Loc, Scale: p.Scale}, nil
	case ParamChoice:
		values := append([]interface{}(nil), p.Values...)
		if p.IncludeNone {
			values = append(values, nil)
		}
		return model_selection.Choice{Values: values}, nil
	case ParamFixed:
		return model_selection.Fixed{Value: p.Value}, nil
	default:
		return nil, errors.NewConfigurationError("experiment.Config", "search.params."+name,
			"unknown distribution kind", p.Kind)
	}
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return &cfg, nil
}

func overlayPath(dir string) string {
	if env := os.Getenv(EnvPulearnEnv); env != "" {
		path := filepath.Join(dir, fmt.Sprintf(OverlayConfigPattern, env))
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
