// Package dataset はPU学習のラベル体系とデータセット表現を提供します。
package dataset

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pulearn/pkg/errors"
)

// Label は1サンプルのラベルです。値は Positive, Negative, Unlabeled のいずれかに限られます。
type Label int8

const (
	// Unlabeled は真のクラスが不明なサンプル
	Unlabeled Label = -1
	// Negative は確認済みの負例
	Negative Label = 0
	// Positive は確認済みの正例
	Positive Label = 1
)

// Valid reports whether l is one of the three recognized labels.
func (l Label) Valid() bool {
	return l == Positive || l == Negative || l == Unlabeled
}

// String returns the label name.
func (l Label) String() string {
	switch l {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	case Unlabeled:
		return "unlabeled"
	default:
		return "invalid"
	}
}

// Float64 returns the scalar encoding used in label vectors.
func (l Label) Float64() float64 {
	return float64(l)
}

// ParseLabel converts one scalar to a Label.
func ParseLabel(op string, index int, v float64) (Label, error) {
	if math.IsNaN(v) || v != math.Trunc(v) {
		return 0, errors.NewLabelDomainError(op, index, v)
	}
	l := Label(int8(v))
	if float64(l) != v || !l.Valid() {
		return 0, errors.NewLabelDomainError(op, index, v)
	}
	return l, nil
}

// ParseLabels converts a label vector, failing on the first value outside {1, 0, -1}.
func ParseLabels(y mat.Vector) ([]Label, error) {
	if y == nil {
		return nil, errors.NewValueError("ParseLabels", "label vector is nil")
	}
	n := y.Len()
	labels := make([]Label, n)
	for i := 0; i < n; i++ {
		l, err := ParseLabel("ParseLabels", i, y.AtVec(i))
		if err != nil {
			return nil, err
		}
		labels[i] = l
	}
	return labels, nil
}

// ValidateLabels checks that every entry is a recognized label.
func ValidateLabels(op string, labels []Label) error {
	for i, l := range labels {
		if !l.Valid() {
			return errors.NewLabelDomainError(op, i, float64(l))
		}
	}
	return nil
}

// LabelVec encodes labels as a dense vector.
func LabelVec(labels []Label) *mat.VecDense {
	data := make([]float64, len(labels))
	for i, l := range labels {
		data[i] = l.Float64()
	}
	if len(data) == 0 {
		return &mat.VecDense{}
	}
	return mat.NewVecDense(len(data), data)
}

// Counts は各ラベルのサンプル数です。
type Counts struct {
	Positive  int
	Negative  int
	Unlabeled int
}

// Total returns the number of labels counted.
func (c Counts) Total() int {
	return c.Positive + c.Negative + c.Unlabeled
}

// CountLabels tallies labels by class.
func CountLabels(labels []Label) Counts {
	var c Counts
	for _, l := range labels {
		switch l {
		case Positive:
			c.Positive++
		case Negative:
			c.Negative++
		case Unlabeled:
			c.Unlabeled++
		}
	}
	return c
}

// IndicesOf returns the ascending row indices carrying label l.
func IndicesOf(labels []Label, l Label) []int {
	var idx []int
	for i, v := range labels {
		if v == l {
			idx = append(idx, i)
		}
	}
	return idx
}

// SelectLabels returns labels[indices] in the given order.
func SelectLabels(labels []Label, indices []int) []Label {
	out := make([]Label, len(indices))
	for i, idx := range indices {
		out[i] = labels[idx]
	}
	return out
}
