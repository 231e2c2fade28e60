package model_selection

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/pulearn/core/model"
	"github.com/YuminosukeSato/pulearn/pkg/errors"
)

// ParamDistribution は1つのハイパーパラメータの探索分布
type ParamDistribution interface {
	// Sample は r から1つの値を引く
	Sample(r *rand.Rand) interface{}

	// Validate は分布の設定を検査する
	Validate(name string) error
}

// IntRange は [Low, High) の一様整数分布（scipy の randint 相当）
type IntRange struct {
	Low, High int
}

// Sample draws an int in [Low, High).
func (d IntRange) Sample(r *rand.Rand) interface{} {
	return d.Low + r.IntN(d.High-d.Low)
}

// Validate requires High > Low.
func (d IntRange) Validate(name string) error {
	if d.High <= d.Low {
		return errors.NewConfigurationError("IntRange", name, "high must exceed low", fmt.Sprintf("[%d, %d)", d.Low, d.High))
	}
	return nil
}

// Uniform は [Loc, Loc+Scale) の連続一様分布（scipy の uniform 相当）
type Uniform struct {
	Loc, Scale float64
}

// Sample draws a float64 through gonum's distuv.Uniform.
func (d Uniform) Sample(r *rand.Rand) interface{} {
	u := distuv.Uniform{Min: d.Loc, Max: d.Loc + d.Scale, Src: r}
	return u.Rand()
}

// Validate requires a positive scale.
func (d Uniform) Validate(name string) error {
	if !(d.Scale > 0) {
		return errors.NewConfigurationError("Uniform", name, "scale must be positive", d.Scale)
	}
	return nil
}

// Choice は候補値からの一様な選択。nil を含んでもよい
type Choice struct {
	Values []interface{}
}

// Sample picks one of Values.
func (d Choice) Sample(r *rand.Rand) interface{} {
	return d.Values[r.IntN(len(d.Values))]
}

// Validate requires at least one value.
func (d Choice) Validate(name string) error {
	if len(d.Values) == 0 {
		return errors.NewConfigurationError("Choice", name, "needs at least one value", nil)
	}
	return nil
}

// Fixed は常に同じ値を返す
type Fixed struct {
	Value interface{}
}

// Sample returns Value.
func (d Fixed) Sample(*rand.Rand) interface{} { return d.Value }

// Validate always succeeds.
func (d Fixed) Validate(string) error { return nil }

// ParamSpace はパラメータ名から分布へのマップ。
// キーはソート順にサンプリングされるので、同じ乱数列から同じ候補が得られる
type ParamSpace map[string]ParamDistribution

// Keys returns the parameter names in sorted order.
func (s ParamSpace) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks every distribution.
func (s ParamSpace) Validate() error {
	for _, k := range s.Keys() {
		if s[k] == nil {
			return errors.NewConfigurationError("ParamSpace", k, "distribution is nil", nil)
		}
		if err := s[k].Validate(k); err != nil {
			return err
		}
	}
	return nil
}

// Sample draws one candidate.
func (s ParamSpace) Sample(r *rand.Rand) model.Params {
	p := make(model.Params, len(s))
	for _, k := range s.Keys() {
		p[k] = s[k].Sample(r)
	}
	return p
}

// ParamGrid はパラメータ名から候補値の列へのマップ
type ParamGrid map[string][]interface{}

// Validate requires every entry to list at least one value.
func (g ParamGrid) Validate() error {
	for k, vs := range g {
		if len(vs) == 0 {
			return errors.NewConfigurationError("ParamGrid", k, "needs at least one value", nil)
		}
	}
	return nil
}

// Candidates は直積をソート済みキー順に列挙する。最後のキーが最も速く変化する
func (g ParamGrid) Candidates() []model.Params {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []model.Params{{}}
	for _, k := range keys {
		next := make([]model.Params, 0, len(out)*len(g[k]))
		for _, base := range out {
			for _, v := range g[k] {
				p := base.Clone()
				p[k] = v
				next = append(next, p)
			}
		}
		out = next
	}
	return out
}
