// Package preprocessing provides feature scalers that plug into a pipeline
// ahead of a classifier.
package preprocessing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pulearn/core/model"
	"github.com/YuminosukeSato/pulearn/pkg/errors"
)

// StandardScaler はscikit-learn互換の標準化スケーラー
// 各特徴量を平均0、分散1に変換する
type StandardScaler struct {
	state *model.StateManager

	// Mean は各特徴量の平均値
	Mean []float64

	// Scale は各特徴量の標準偏差
	Scale []float64

	// WithMean は平均を引くかどうか
	WithMean bool

	// WithStd は標準偏差で割るかどうか
	WithStd bool
}

// NewStandardScaler は新しいStandardScalerを作成する
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler(true, true)
//	Xs, err := scaler.FitTransform(X)
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{
		state:    model.NewStateManager(),
		WithMean: withMean,
		WithStd:  withStd,
	}
}

// NewStandardScalerDefault はデフォルト設定のStandardScalerを作成する
func NewStandardScalerDefault() *StandardScaler {
	return NewStandardScaler(true, true)
}

// Fit は訓練データから各特徴量の平均と標準偏差を計算する
func (s *StandardScaler) Fit(X mat.Matrix) error {
	if X == nil {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	mean := make([]float64, c)
	scale := make([]float64, c)
	for j := 0; j < c; j++ {
		if s.WithMean {
			sum := 0.0
			for i := 0; i < r; i++ {
				sum += X.At(i, j)
			}
			mean[j] = sum / float64(r)
		}

		scale[j] = 1.0
		if s.WithStd {
			// with_mean=false でも分散は列平均の周りで計算する
			mu := mean[j]
			if !s.WithMean {
				sum := 0.0
				for i := 0; i < r; i++ {
					sum += X.At(i, j)
				}
				mu = sum / float64(r)
			}
			sumSquares := 0.0
			for i := 0; i < r; i++ {
				diff := X.At(i, j) - mu
				sumSquares += diff * diff
			}
			sd := math.Sqrt(sumSquares / float64(r))
			// 定数列はそのまま
			if sd > 1e-8 {
				scale[j] = sd
			}
		}
	}

	s.Mean = mean
	s.Scale = scale
	s.state.SetDimensions(c, r)
	s.state.SetFitted()
	return nil
}

// Transform は学習済みの統計情報を使ってデータを標準化する
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.state.RequireFitted("StandardScaler", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.state.RequireFeatures("StandardScaler.Transform", c); err != nil {
		return nil, err
	}
	if r == 0 {
		return &mat.Dense{}, nil
	}

	result := mat.NewDense(r, c, nil)
	result.Apply(func(i, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, X)
	return result, nil
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化されたデータを元のスケールに戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.state.RequireFitted("StandardScaler", "InverseTransform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.state.RequireFeatures("StandardScaler.InverseTransform", c); err != nil {
		return nil, err
	}
	if r == 0 {
		return &mat.Dense{}, nil
	}

	result := mat.NewDense(r, c, nil)
	result.Apply(func(i, j int, v float64) float64 {
		return v*s.Scale[j] + s.Mean[j]
	}, X)
	return result, nil
}

// IsFitted は学習済みかどうかを返す
func (s *StandardScaler) IsFitted() bool {
	return s.state.IsFitted()
}

// CloneTransformer は同じ設定を持つ未学習のコピーを返す
func (s *StandardScaler) CloneTransformer() model.Transformer {
	return NewStandardScaler(s.WithMean, s.WithStd)
}

// GetParams はスケーラーのパラメータを取得する
func (s *StandardScaler) GetParams() model.Params {
	return model.Params{
		"with_mean": s.WithMean,
		"with_std":  s.WithStd,
	}
}

// SetParams はパラメータを設定する。学習済み状態はリセットされる
func (s *StandardScaler) SetParams(params model.Params) error {
	for k, v := range params {
		var err error
		switch k {
		case "with_mean":
			s.WithMean, err = model.ToBool(k, v)
		case "with_std":
			s.WithStd, err = model.ToBool(k, v)
		default:
			return model.UnknownParam("StandardScaler", k, v)
		}
		if err != nil {
			return err
		}
	}
	s.state.Reset()
	return nil
}

// Name returns the step name used in pipelines and logs.
func (s *StandardScaler) Name() string { return "StandardScaler" }

// String はスケーラーの文字列表現を返す
func (s *StandardScaler) String() string {
	if !s.IsFitted() {
		return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t)", s.WithMean, s.WithStd)
	}
	nFeatures, _ := s.state.GetDimensions()
	return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t, n_features=%d)",
		s.WithMean, s.WithStd, nFeatures)
}

// MaxAbsScaler は各特徴量を最大絶対値で割り、[-1, 1] に収める
// 中心化しないため疎な特徴量の0を保つ
type MaxAbsScaler struct {
	state *model.StateManager

	// MaxAbs は各特徴量の最大絶対値
	MaxAbs []float64

	// Scale は各特徴量の除数 (MaxAbs、0の列は1)
	Scale []float64
}

// NewMaxAbsScaler は新しいMaxAbsScalerを作成する
func NewMaxAbsScaler() *MaxAbsScaler {
	return &MaxAbsScaler{state: model.NewStateManager()}
}

// Fit は各特徴量の最大絶対値を記録する
func (s *MaxAbsScaler) Fit(X mat.Matrix) error {
	if X == nil {
		return errors.NewModelError("MaxAbsScaler.Fit", "empty data", errors.ErrEmptyData)
	}
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("MaxAbsScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	maxAbs := make([]float64, c)
	scale := make([]float64, c)
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			if a := math.Abs(X.At(i, j)); a > maxAbs[j] {
				maxAbs[j] = a
			}
		}
		scale[j] = maxAbs[j]
		if scale[j] == 0 {
			scale[j] = 1.0
		}
	}

	s.MaxAbs = maxAbs
	s.Scale = scale
	s.state.SetDimensions(c, r)
	s.state.SetFitted()
	return nil
}

// Transform は各列を最大絶対値で割る
func (s *MaxAbsScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.state.RequireFitted("MaxAbsScaler", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.state.RequireFeatures("MaxAbsScaler.Transform", c); err != nil {
		return nil, err
	}
	if r == 0 {
		return &mat.Dense{}, nil
	}

	result := mat.NewDense(r, c, nil)
	result.Apply(func(i, j int, v float64) float64 {
		return v / s.Scale[j]
	}, X)
	return result, nil
}

// FitTransform は学習と変換をまとめて行う
func (s *MaxAbsScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform はスケーリングを元に戻す
func (s *MaxAbsScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.state.RequireFitted("MaxAbsScaler", "InverseTransform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.state.RequireFeatures("MaxAbsScaler.InverseTransform", c); err != nil {
		return nil, err
	}
	if r == 0 {
		return &mat.Dense{}, nil
	}

	result := mat.NewDense(r, c, nil)
	result.Apply(func(i, j int, v float64) float64 {
		return v * s.Scale[j]
	}, X)
	return result, nil
}

// IsFitted は学習済みかどうかを返す
func (s *MaxAbsScaler) IsFitted() bool {
	return s.state.IsFitted()
}

// CloneTransformer は未学習のコピーを返す
func (s *MaxAbsScaler) CloneTransformer() model.Transformer {
	return NewMaxAbsScaler()
}

// GetParams returns an empty parameter set; the scaler has no hyperparameters.
func (s *MaxAbsScaler) GetParams() model.Params {
	return model.Params{}
}

// SetParams rejects every key.
func (s *MaxAbsScaler) SetParams(params model.Params) error {
	for k, v := range params {
		return model.UnknownParam("MaxAbsScaler", k, v)
	}
	return nil
}

// Name returns the step name used in pipelines and logs.
func (s *MaxAbsScaler) Name() string { return "MaxAbsScaler" }

// String はスケーラーの文字列表現を返す
func (s *MaxAbsScaler) String() string {
	if !s.IsFitted() {
		return "MaxAbsScaler()"
	}
	nFeatures, _ := s.state.GetDimensions()
	return fmt.Sprintf("MaxAbsScaler(n_features=%d)", nFeatures)
}
