package preprocessing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pulearn/core/model"
	"github.com/YuminosukeSato/pulearn/pkg/errors"
)

func TestStandardScaler(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 10,
		2, 10,
		3, 10,
		4, 10,
	})

	s := NewStandardScalerDefault()
	Xs, err := s.FitTransform(X)
	require.NoError(t, err)

	assert.InDelta(t, 2.5, s.Mean[0], 1e-12)
	assert.InDelta(t, math.Sqrt(1.25), s.Scale[0], 1e-12)
	// 定数列のスケールは1
	assert.Equal(t, 1.0, s.Scale[1])

	col := mat.Col(nil, 0, Xs)
	sum := 0.0
	for _, v := range col {
		sum += v
	}
	assert.InDelta(t, 0.0, sum, 1e-12)
	assert.Equal(t, 0.0, Xs.At(0, 1))

	back, err := s.InverseTransform(Xs)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(X, back, 1e-12))
}

func TestStandardScaler_WithoutMean(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{1, 3})
	s := NewStandardScaler(false, true)
	Xs, err := s.FitTransform(X)
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.Mean[0])
	assert.InDelta(t, 1.0, s.Scale[0], 1e-12)
	assert.InDelta(t, 3.0, Xs.At(1, 0), 1e-12)
}

func TestStandardScaler_Errors(t *testing.T) {
	s := NewStandardScalerDefault()

	_, err := s.Transform(mat.NewDense(1, 1, []float64{1}))
	var nf *errors.NotFittedError
	require.True(t, errors.As(err, &nf))

	require.NoError(t, s.Fit(mat.NewDense(2, 2, []float64{1, 2, 3, 4})))
	_, err = s.Transform(mat.NewDense(1, 3, []float64{1, 2, 3}))
	var de *errors.DimensionError
	require.True(t, errors.As(err, &de))

	assert.Error(t, s.Fit(&mat.Dense{}))
}

func TestStandardScaler_Params(t *testing.T) {
	s := NewStandardScalerDefault()
	require.NoError(t, s.Fit(mat.NewDense(2, 1, []float64{1, 2})))

	require.NoError(t, s.SetParams(model.Params{"with_mean": false}))
	assert.False(t, s.IsFitted())
	assert.Equal(t, false, s.GetParams()["with_mean"])

	assert.Error(t, s.SetParams(model.Params{"copy": true}))
	assert.Error(t, s.SetParams(model.Params{"with_std": "yes"}))

	clone := s.CloneTransformer().(*StandardScaler)
	assert.False(t, clone.WithMean)
	assert.False(t, clone.IsFitted())
}

func TestMaxAbsScaler(t *testing.T) {
	X := mat.NewDense(3, 3, []float64{
		1, -4, 0,
		-2, 2, 0,
		0.5, 1, 0,
	})

	s := NewMaxAbsScaler()
	Xs, err := s.FitTransform(X)
	require.NoError(t, err)

	assert.Equal(t, []float64{2, 4, 0}, s.MaxAbs)
	assert.InDelta(t, -1.0, Xs.At(1, 0), 1e-12)
	assert.InDelta(t, -1.0, Xs.At(0, 1), 1e-12)
	assert.Equal(t, 0.0, Xs.At(2, 2))

	r, c := Xs.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.LessOrEqual(t, math.Abs(Xs.At(i, j)), 1.0)
		}
	}

	back, err := s.InverseTransform(Xs)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(X, back, 1e-12))
	assert.Equal(t, "MaxAbsScaler(n_features=3)", s.String())
}

func TestMaxAbsScaler_CloneIsUnfitted(t *testing.T) {
	s := NewMaxAbsScaler()
	require.NoError(t, s.Fit(mat.NewDense(1, 1, []float64{3})))

	var tr model.Transformer = s.CloneTransformer()
	_, err := tr.Transform(mat.NewDense(1, 1, []float64{3}))
	assert.Error(t, err)
	assert.Error(t, s.SetParams(model.Params{"anything": 1}))
}
