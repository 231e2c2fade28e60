package dataset

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pulearn/pkg/errors"
)

// Dataset は特徴量行列とPUラベルの組です。行の順序は全ての変換で保持されます。
type Dataset struct {
	X mat.Matrix
	Y []Label
}

// New validates row counts and the label domain and returns a Dataset.
func New(X mat.Matrix, y mat.Vector) (*Dataset, error) {
	if X == nil {
		return nil, errors.NewValueError("dataset.New", "feature matrix is nil")
	}
	labels, err := ParseLabels(y)
	if err != nil {
		return nil, err
	}
	rows, _ := X.Dims()
	if rows != len(labels) {
		return nil, errors.NewDimensionError("dataset.New", rows, len(labels), 0)
	}
	return &Dataset{X: X, Y: labels}, nil
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	return len(d.Y)
}

// NumFeatures returns the number of feature columns.
func (d *Dataset) NumFeatures() int {
	_, c := d.X.Dims()
	return c
}

// Counts tallies the labels.
func (d *Dataset) Counts() Counts {
	return CountLabels(d.Y)
}

// Indices returns the rows carrying label l in ascending order.
func (d *Dataset) Indices(l Label) []int {
	return IndicesOf(d.Y, l)
}

// LabelVec returns the labels as a dense vector.
func (d *Dataset) LabelVec() *mat.VecDense {
	return LabelVec(d.Y)
}

// Subset copies the given rows, in order, into a new Dataset.
func (d *Dataset) Subset(indices []int) *Dataset {
	return &Dataset{
		X: SelectRows(d.X, indices),
		Y: SelectLabels(d.Y, indices),
	}
}

// SelectRows copies X[indices, :] into a new matrix. It never aliases X.
func SelectRows(X mat.Matrix, indices []int) *mat.Dense {
	_, cols := X.Dims()
	if len(indices) == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(len(indices), cols, nil)
	for i, idx := range indices {
		for j := 0; j < cols; j++ {
			out.Set(i, j, X.At(idx, j))
		}
	}
	return out
}

// SelectVec copies v[indices] into a new vector.
func SelectVec(v mat.Vector, indices []int) *mat.VecDense {
	data := make([]float64, len(indices))
	for i, idx := range indices {
		data[i] = v.AtVec(idx)
	}
	if len(data) == 0 {
		return &mat.VecDense{}
	}
	return mat.NewVecDense(len(data), data)
}

// Loader はデータセットを外部ソースから供給するコラボレータです。
// ファイルの解析はこのモジュールの責務ではありません。
type Loader interface {
	Load(ctx context.Context) (*Dataset, error)
}

// StaticLoader はメモリ上のデータセットをそのまま返すLoaderです。
type StaticLoader struct {
	Data *Dataset
}

// Load implements Loader.
func (s StaticLoader) Load(ctx context.Context) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	if s.Data == nil {
		return nil, errors.WithStack(errors.ErrEmptyData)
	}
	return s.Data, nil
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (*Dataset, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context) (*Dataset, error) {
	return f(ctx)
}
