package dataset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pulearn/pkg/errors"
)

func TestParseLabels(t *testing.T) {
	tests := []struct {
		name    string
		y       []float64
		want    []Label
		wantIdx int
	}{
		{"all three", []float64{1, 0, -1, 1}, []Label{Positive, Negative, Unlabeled, Positive}, -1},
		{"out of domain", []float64{1, 0, 2}, nil, 2},
		{"non integral", []float64{0.5, 1}, nil, 0},
		{"large negative", []float64{1, -128}, nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLabels(mat.NewVecDense(len(tt.y), tt.y))
			if tt.wantIdx < 0 {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}
			var domainErr *errors.LabelDomainError
			require.True(t, errors.As(err, &domainErr), "got %v", err)
			assert.Equal(t, tt.wantIdx, domainErr.Index)
		})
	}
}

func TestNewDimensionMismatch(t *testing.T) {
	X := mat.NewDense(3, 2, nil)
	_, err := New(X, mat.NewVecDense(2, []float64{1, 0}))

	var dimErr *errors.DimensionError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)
}

func TestSubsetCopiesRows(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		0, 1,
		2, 3,
		4, 5,
		6, 7,
	})
	d, err := New(X, mat.NewVecDense(4, []float64{1, 0, -1, -1}))
	require.NoError(t, err)

	sub := d.Subset([]int{3, 0})
	assert.Equal(t, 2, sub.Len())
	assert.Equal(t, []Label{Unlabeled, Positive}, sub.Y)
	assert.Equal(t, 6.0, sub.X.At(0, 0))
	assert.Equal(t, 1.0, sub.X.At(1, 1))

	// 元の行列は変更されない
	sub.X.(*mat.Dense).Set(0, 0, 99)
	assert.Equal(t, 6.0, X.At(3, 0))
}

func TestCountsAndIndices(t *testing.T) {
	labels := []Label{1, 1, 1, 1, 0, 0, 0, 0, -1, -1, -1, -1, -1, -1}
	c := CountLabels(labels)
	assert.Equal(t, Counts{Positive: 4, Negative: 4, Unlabeled: 6}, c)
	assert.Equal(t, 14, c.Total())
	assert.Equal(t, []int{8, 9, 10, 11, 12, 13}, IndicesOf(labels, Unlabeled))
	assert.Equal(t, 0, LabelVec(nil).Len())
}

func TestStaticLoader(t *testing.T) {
	d := &Dataset{X: mat.NewDense(1, 1, []float64{1}), Y: []Label{Positive}}
	got, err := StaticLoader{Data: d}.Load(context.Background())
	require.NoError(t, err)
	assert.Same(t, d, got)

	_, err = StaticLoader{}.Load(context.Background())
	assert.True(t, errors.Is(err, errors.ErrEmptyData))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = StaticLoader{Data: d}.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
