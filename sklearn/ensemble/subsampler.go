// Package ensemble provides RepeatedRandomSubSampler, which fits many clones of a
// base classifier on rebalanced subsamples and aggregates their votes.
package ensemble

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pulearn/core/dataset"
	"github.com/YuminosukeSato/pulearn/core/model"
	"github.com/YuminosukeSato/pulearn/core/parallel"
	"github.com/YuminosukeSato/pulearn/core/rng"
	"github.com/YuminosukeSato/pulearn/pkg/errors"
	"github.com/YuminosukeSato/pulearn/pkg/log"
)

const subSamplerName = "RepeatedRandomSubSampler"

// Voting はメンバー予測の集約方法
type Voting string

const (
	// VotingThresh はメンバー確率の平均を返す
	VotingThresh Voting = "thresh"
	// VotingMajority は0.5で二値化したメンバー票の割合を返す
	VotingMajority Voting = "majority"
)

// Member は1つのアンサンブルメンバー（学習済み推定器と学習に使った行）
type Member struct {
	Estimator model.Classifier
	Indices   []int
}

// RepeatedRandomSubSampler は多数派クラスを繰り返しサブサンプリングして
// 不均衡を緩和するアンサンブル
//
// 使用例:
//
//	ens := ensemble.NewRepeatedRandomSubSampler(pnu,
//		ensemble.WithNMembers(5),
//		ensemble.WithVoting(ensemble.VotingMajority),
//	)
//	err := ens.Fit(X, y)
type RepeatedRandomSubSampler struct {
	state *model.StateManager

	base            model.Classifier
	nMembers        int
	sampleImbalance float64
	voting          Voting
	randomState     int64
	nJobs           int

	members []Member
}

// SubSamplerOption は RepeatedRandomSubSampler の設定関数
type SubSamplerOption func(*RepeatedRandomSubSampler)

// NewRepeatedRandomSubSampler は base を包むアンサンブルを作成する。
// デフォルトは10メンバー、sample_imbalance=1.0、thresh 集約、全CPU
func NewRepeatedRandomSubSampler(base model.Classifier, opts ...SubSamplerOption) *RepeatedRandomSubSampler {
	e := &RepeatedRandomSubSampler{
		state:           model.NewStateManager(),
		base:            base,
		nMembers:        10,
		sampleImbalance: 1.0,
		voting:          VotingThresh,
		nJobs:           -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithNMembers はメンバー数を設定
func WithNMembers(n int) SubSamplerOption {
	return func(e *RepeatedRandomSubSampler) {
		e.nMembers = n
	}
}

// WithSampleImbalance は少数派:多数派の目標比率を設定
func WithSampleImbalance(ratio float64) SubSamplerOption {
	return func(e *RepeatedRandomSubSampler) {
		e.sampleImbalance = ratio
	}
}

// WithVoting は集約方法を設定
func WithVoting(v Voting) SubSamplerOption {
	return func(e *RepeatedRandomSubSampler) {
		e.voting = v
	}
}

// WithRandomState は乱数シードを設定
func WithRandomState(seed int64) SubSamplerOption {
	return func(e *RepeatedRandomSubSampler) {
		e.randomState = seed
	}
}

// WithNJobs は並列数を設定（-1で全CPU）
func WithNJobs(n int) SubSamplerOption {
	return func(e *RepeatedRandomSubSampler) {
		e.nJobs = n
	}
}

// Name returns "RepeatedRandomSubSampler".
func (e *RepeatedRandomSubSampler) Name() string { return subSamplerName }

func (e *RepeatedRandomSubSampler) validateParams() error {
	const op = "RepeatedRandomSubSampler.Fit"
	if e.base == nil {
		return errors.NewConfigurationError(op, "base_estimator", "base estimator is nil", nil)
	}
	if e.nMembers < 1 {
		return errors.NewConfigurationError(op, "n_members", "must be at least 1", e.nMembers)
	}
	if math.IsNaN(e.sampleImbalance) || math.IsInf(e.sampleImbalance, 0) || e.sampleImbalance <= 0 {
		return errors.NewConfigurationError(op, "sample_imbalance", "must be a positive finite number", e.sampleImbalance)
	}
	if e.voting != VotingThresh && e.voting != VotingMajority {
		return errors.NewConfigurationError(op, "voting", `must be "thresh" or "majority"`, string(e.voting))
	}
	return nil
}

// groups は正例とそれ以外に分け、少ない方を少数派として返す
func groups(labels []dataset.Label) (minority, majority []int) {
	var pos, rest []int
	for i, l := range labels {
		if l == dataset.Positive {
			pos = append(pos, i)
		} else {
			rest = append(rest, i)
		}
	}
	if len(pos) <= len(rest) {
		return pos, rest
	}
	return rest, pos
}

// MajoritySampleSize は round(|minority| / imbalance) を多数派の件数で頭打ちにした値
func MajoritySampleSize(nMinority, nMajority int, imbalance float64) int {
	k := int(math.Round(float64(nMinority) / imbalance))
	if k > nMajority {
		k = nMajority
	}
	return k
}

// Fit は各ラウンドで多数派をサブサンプリングし、基底推定器のクローンを並列に学習する。
// ラウンド i のシードは rng.Derive(random_state, i)
func (e *RepeatedRandomSubSampler) Fit(X mat.Matrix, y mat.Vector) error {
	const op = "RepeatedRandomSubSampler.Fit"
	if err := e.validateParams(); err != nil {
		return err
	}
	if X == nil || y == nil {
		return errors.NewValueError(op, "X and y must not be nil")
	}
	rows, cols := X.Dims()
	if rows != y.Len() {
		return errors.NewDimensionError(op, rows, y.Len(), 0)
	}
	labels, err := dataset.ParseLabels(y)
	if err != nil {
		return err
	}

	minority, majority := groups(labels)
	if len(minority) == 0 || len(majority) == 0 {
		return errors.NewConfigurationError(op, "y",
			"both the positive and the non-positive group must be non-empty",
			fmt.Sprintf("minority=%d majority=%d", len(minority), len(majority)))
	}
	k := MajoritySampleSize(len(minority), len(majority), e.sampleImbalance)
	if k == 0 {
		return errors.NewConfigurationError(op, "sample_imbalance", "majority subsample would be empty", e.sampleImbalance)
	}

	// 抽出はシードだけに依存するので先に決めておく
	subsets := make([][]int, e.nMembers)
	for i := range subsets {
		r := rng.New(rng.Derive(e.randomState, i))
		idx := append(rng.SampleWithoutReplacement(r, majority, k), minority...)
		sort.Ints(idx)
		subsets[i] = idx
	}

	members, err := parallel.Map(context.Background(), e.nMembers, e.nJobs,
		func(ctx context.Context, i int) (Member, error) {
			est := e.base.Clone()
			if err := est.Fit(dataset.SelectRows(X, subsets[i]), dataset.SelectVec(y, subsets[i])); err != nil {
				return Member{}, errors.NewModelError(op, fmt.Sprintf("member %d", i), err)
			}
			return Member{Estimator: est, Indices: subsets[i]}, nil
		})
	if err != nil {
		return err
	}

	e.members = members
	e.state.SetDimensions(cols, rows)
	e.state.SetFitted()

	log.GetLoggerWithName("ensemble").Debug("Ensemble fitted",
		log.OperationKey, log.OperationFit,
		log.ModelNameKey, model.NameOf(e.base),
		"ensemble.members", e.nMembers,
		"ensemble.minority", len(minority),
		"ensemble.majority_sample", k,
		log.RandomSeedKey, e.randomState,
	)
	return nil
}

// PredictProba は voting に従ってメンバーの予測を集約する
func (e *RepeatedRandomSubSampler) PredictProba(X mat.Matrix) (*mat.VecDense, error) {
	if err := e.state.RequireFitted(subSamplerName, "PredictProba"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := e.state.RequireFeatures("RepeatedRandomSubSampler.PredictProba", cols); err != nil {
		return nil, err
	}
	if rows == 0 {
		return &mat.VecDense{}, nil
	}

	probas, err := parallel.Map(context.Background(), len(e.members), e.nJobs,
		func(ctx context.Context, i int) (*mat.VecDense, error) {
			p, err := e.members[i].Estimator.PredictProba(X)
			if err != nil {
				return nil, errors.NewModelError("RepeatedRandomSubSampler.PredictProba", fmt.Sprintf("member %d", i), err)
			}
			return p, nil
		})
	if err != nil {
		return nil, err
	}

	out := mat.NewVecDense(rows, nil)
	for _, p := range probas {
		switch e.voting {
		case VotingMajority:
			out.AddVec(out, model.Binarize(p, 0.5))
		default:
			out.AddVec(out, p)
		}
	}
	out.ScaleVec(1/float64(len(probas)), out)
	return out, nil
}

// Predict は集約確率を0.5で二値化する
func (e *RepeatedRandomSubSampler) Predict(X mat.Matrix) (*mat.VecDense, error) {
	return model.Predict(e, X)
}

// Members returns the fitted members in round order.
func (e *RepeatedRandomSubSampler) Members() []Member {
	return append([]Member(nil), e.members...)
}

// IsFitted reports whether Fit has completed.
func (e *RepeatedRandomSubSampler) IsFitted() bool {
	return e.state.IsFitted()
}

// Clone returns an unfitted ensemble with a cloned base estimator.
func (e *RepeatedRandomSubSampler) Clone() model.Classifier {
	c := &RepeatedRandomSubSampler{
		state:           model.NewStateManager(),
		nMembers:        e.nMembers,
		sampleImbalance: e.sampleImbalance,
		voting:          e.voting,
		randomState:     e.randomState,
		nJobs:           e.nJobs,
	}
	if e.base != nil {
		c.base = e.base.Clone()
	}
	return c
}

// GetParams returns the ensemble parameters plus base_estimator__* entries.
func (e *RepeatedRandomSubSampler) GetParams() model.Params {
	params := model.Params{
		"n_members":        e.nMembers,
		"sample_imbalance": e.sampleImbalance,
		"voting":           string(e.voting),
		"random_state":     e.randomState,
		"n_jobs":           e.nJobs,
	}
	if pm, ok := e.base.(model.Parameterized); ok {
		params.Merge(pm.GetParams().Prefixed("base_estimator"))
	}
	return params
}

// SetParams sets the ensemble parameters and forwards base_estimator__* keys.
func (e *RepeatedRandomSubSampler) SetParams(params model.Params) error {
	own, nested := params.Split("base_estimator")
	for _, key := range own.Keys() {
		value := own[key]
		var err error
		switch key {
		case "n_members":
			e.nMembers, err = model.ToInt(key, value)
		case "sample_imbalance":
			e.sampleImbalance, err = model.ToFloat(key, value)
		case "voting":
			var v string
			v, err = model.ToString(key, value)
			e.voting = Voting(v)
		case "random_state":
			e.randomState, err = model.ToInt64(key, value)
		case "n_jobs":
			e.nJobs, err = model.ToInt(key, value)
		default:
			return model.UnknownParam(subSamplerName, key, value)
		}
		if err != nil {
			return err
		}
	}
	if len(nested) > 0 {
		pm, ok := e.base.(model.Parameterized)
		if !ok {
			return errors.NewConfigurationError("RepeatedRandomSubSampler.SetParams", "base_estimator",
				"base estimator has no parameters", nested.String())
		}
		if err := pm.SetParams(nested); err != nil {
			return err
		}
	}
	return nil
}
