// Package pipeline chains feature transformers in front of a classifier so
// the whole chain can be cloned, tuned and scored as one model.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pulearn/core/model"
	"github.com/YuminosukeSato/pulearn/pkg/errors"
	"github.com/YuminosukeSato/pulearn/pkg/log"
)

// Step は名前付きの変換ステップ
type Step struct {
	Name        string
	Transformer model.Transformer
}

// parameterizedTransformer はパラメータを公開する変換器
type parameterizedTransformer interface {
	GetParams() model.Params
	SetParams(model.Params) error
}

// Pipeline は変換器の列と最終分類器を1つの分類器として扱う
//
// 使用例:
//
//	p, err := pipeline.NewPipeline("pu", wrapper,
//		pipeline.Step{Name: "scaler", Transformer: preprocessing.NewMaxAbsScaler()})
//	err = p.SetParams(model.Params{"pu__threshold_set_pct": 0.0143})
type Pipeline struct {
	state *model.StateManager

	steps     []Step
	finalName string
	final     model.Classifier
}

// NewPipeline は最終推定器 final と前段の変換ステップから Pipeline を作成する。
// ステップ名は空でなく、一意で、"__" を含んではならない。
func NewPipeline(finalName string, final model.Classifier, steps ...Step) (*Pipeline, error) {
	if final == nil {
		return nil, errors.NewConfigurationError("NewPipeline", "final", "final estimator is nil", nil)
	}
	seen := map[string]bool{}
	names := append(make([]string, 0, len(steps)+1), finalName)
	for _, s := range steps {
		if s.Transformer == nil {
			return nil, errors.NewConfigurationError("NewPipeline", s.Name, "transformer is nil", nil)
		}
		names = append(names, s.Name)
	}
	for _, name := range names {
		switch {
		case name == "":
			return nil, errors.NewConfigurationError("NewPipeline", "steps", "step name is empty", name)
		case strings.Contains(name, model.NestingSeparator):
			return nil, errors.NewConfigurationError("NewPipeline", "steps",
				fmt.Sprintf("step name must not contain %q", model.NestingSeparator), name)
		case seen[name]:
			return nil, errors.NewConfigurationError("NewPipeline", "steps", "duplicate step name", name)
		}
		seen[name] = true
	}

	return &Pipeline{
		state:     model.NewStateManager(),
		steps:     append([]Step(nil), steps...),
		finalName: finalName,
		final:     final,
	}, nil
}

// Name returns "Pipeline".
func (p *Pipeline) Name() string { return "Pipeline" }

// Steps returns the transformer steps in order.
func (p *Pipeline) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

// Final returns the final estimator.
func (p *Pipeline) Final() model.Classifier {
	return p.final
}

// Fit は各変換器を順に学習・適用し、変換後のデータで最終推定器を学習する
func (p *Pipeline) Fit(X mat.Matrix, y mat.Vector) error {
	p.state.Reset()
	Xt := X
	for _, s := range p.steps {
		var err error
		Xt, err = s.Transformer.FitTransform(Xt)
		if err != nil {
			return errors.Wrapf(err, "pipeline step %q", s.Name)
		}
	}
	if err := p.final.Fit(Xt, y); err != nil {
		return errors.Wrapf(err, "pipeline step %q", p.finalName)
	}

	r, c := X.Dims()
	p.state.SetDimensions(c, r)
	p.state.SetFitted()

	logger := log.GetLoggerWithName("pipeline")
	if logger.Enabled(context.Background(), log.LevelDebug) {
		logger.Debug("Pipeline fitted",
			log.OperationKey, log.OperationFit,
			log.SamplesKey, r,
			log.FeaturesKey, c,
			"steps", len(p.steps)+1,
		)
	}
	return nil
}

func (p *Pipeline) transform(op string, X mat.Matrix) (mat.Matrix, error) {
	if err := p.state.RequireFitted("Pipeline", op); err != nil {
		return nil, err
	}
	_, c := X.Dims()
	if err := p.state.RequireFeatures("Pipeline."+op, c); err != nil {
		return nil, err
	}
	Xt := X
	for _, s := range p.steps {
		var err error
		Xt, err = s.Transformer.Transform(Xt)
		if err != nil {
			return nil, errors.Wrapf(err, "pipeline step %q", s.Name)
		}
	}
	return Xt, nil
}

// PredictProba は変換後のデータに対する最終推定器の確率を返す
func (p *Pipeline) PredictProba(X mat.Matrix) (*mat.VecDense, error) {
	Xt, err := p.transform("PredictProba", X)
	if err != nil {
		return nil, err
	}
	return p.final.PredictProba(Xt)
}

// Predict は最終推定器の閾値で二値化した予測を返す
func (p *Pipeline) Predict(X mat.Matrix) (*mat.VecDense, error) {
	return model.Predict(p, X)
}

// DecisionThreshold は最終推定器の閾値をそのまま返す
func (p *Pipeline) DecisionThreshold() float64 {
	return model.DecisionThreshold(p.final)
}

// IsFitted reports whether Fit has completed.
func (p *Pipeline) IsFitted() bool {
	return p.state.IsFitted()
}

// Clone returns an unfitted pipeline with cloned steps.
func (p *Pipeline) Clone() model.Classifier {
	steps := make([]Step, len(p.steps))
	for i, s := range p.steps {
		steps[i] = Step{Name: s.Name, Transformer: s.Transformer.CloneTransformer()}
	}
	return &Pipeline{
		state:     model.NewStateManager(),
		steps:     steps,
		finalName: p.finalName,
		final:     p.final.Clone(),
	}
}

// GetParams は "step__param" 形式で全ステップのパラメータを返す
func (p *Pipeline) GetParams() model.Params {
	out := model.Params{}
	for _, s := range p.steps {
		if pt, ok := s.Transformer.(parameterizedTransformer); ok {
			out.Merge(pt.GetParams().Prefixed(s.Name))
		}
	}
	if pm, ok := p.final.(model.Parameterized); ok {
		out.Merge(pm.GetParams().Prefixed(p.finalName))
	}
	return out
}

// SetParams は "step__param" のキーを該当ステップへ振り分ける
func (p *Pipeline) SetParams(params model.Params) error {
	rest := params
	for _, s := range p.steps {
		var nested model.Params
		rest, nested = rest.Split(s.Name)
		if len(nested) == 0 {
			continue
		}
		pt, ok := s.Transformer.(parameterizedTransformer)
		if !ok {
			return errors.NewConfigurationError("Pipeline.SetParams", s.Name, "step has no parameters", nested.String())
		}
		if err := pt.SetParams(nested); err != nil {
			return errors.Wrapf(err, "pipeline step %q", s.Name)
		}
	}

	rest, nested := rest.Split(p.finalName)
	if len(nested) > 0 {
		pm, ok := p.final.(model.Parameterized)
		if !ok {
			return errors.NewConfigurationError("Pipeline.SetParams", p.finalName, "step has no parameters", nested.String())
		}
		if err := pm.SetParams(nested); err != nil {
			return errors.Wrapf(err, "pipeline step %q", p.finalName)
		}
	}

	for _, k := range rest.Keys() {
		return model.UnknownParam("Pipeline", k, rest[k])
	}
	p.state.Reset()
	return nil
}
