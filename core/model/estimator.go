package model

import "gonum.org/v1/gonum/mat"

// Classifier は二値分類器の能力インターフェースです。
// ラッパー層（PNUWrapper, RepeatedRandomSubSampler, Pipeline）はこの契約にのみ依存します。
type Classifier interface {
	// Fit はモデルを訓練データで学習させる。再度呼ぶと学習は最初からやり直される
	Fit(X mat.Matrix, y mat.Vector) error

	// PredictProba は各行が正例である確率を返す
	PredictProba(X mat.Matrix) (*mat.VecDense, error)

	// Clone は同じ設定を持つ未学習のコピーを返す
	Clone() Classifier
}

// Parameterized はハイパーパラメータを公開・変更できるモデルのインターフェース
type Parameterized interface {
	// GetParams はモデルのハイパーパラメータを取得
	GetParams() Params

	// SetParams はモデルのハイパーパラメータを設定。
	// "base_estimator__C" のように "__" 区切りで内側の推定器へ委譲される
	SetParams(params Params) error
}

// Thresholder は確率を二値化する閾値を持つモデルのインターフェース
type Thresholder interface {
	DecisionThreshold() float64
}

// DecisionThreshold returns m's threshold, or 0.5 when m does not define one.
func DecisionThreshold(m Classifier) float64 {
	if t, ok := m.(Thresholder); ok {
		return t.DecisionThreshold()
	}
	return 0.5
}

// Binarize converts probabilities to hard {0, 1} predictions with p >= threshold as positive.
func Binarize(proba mat.Vector, threshold float64) *mat.VecDense {
	n := proba.Len()
	if n == 0 {
		return &mat.VecDense{}
	}
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		if proba.AtVec(i) >= threshold {
			out.SetVec(i, 1)
		}
	}
	return out
}

// Predict binarizes m's probabilities at its decision threshold.
func Predict(m Classifier, X mat.Matrix) (*mat.VecDense, error) {
	proba, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return Binarize(proba, DecisionThreshold(m)), nil
}
