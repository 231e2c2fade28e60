package metrics

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pulearn/pkg/errors"
)

func TestAUC(t *testing.T) {
	tests := []struct {
		name      string
		yTrue     []float64
		yPred     []float64
		want      float64
		wantErr   bool
		undefined bool // 片方のクラスしかなく定義できない
	}{
		{
			name:  "Perfect classifier",
			yTrue: []float64{0, 0, 0, 1, 1, 1},
			yPred: []float64{0.1, 0.2, 0.3, 0.7, 0.8, 0.9},
			want:  1.0,
		},
		{
			name:  "Worst classifier",
			yTrue: []float64{0, 0, 0, 1, 1, 1},
			yPred: []float64{0.9, 0.8, 0.7, 0.3, 0.2, 0.1},
			want:  0.0,
		},
		{
			name:  "Random classifier",
			yTrue: []float64{0, 1, 0, 1},
			yPred: []float64{0.5, 0.5, 0.5, 0.5},
			want:  0.5,
		},
		{
			name:  "Typical case",
			yTrue: []float64{0, 0, 1, 1},
			yPred: []float64{0.1, 0.4, 0.35, 0.8},
			want:  0.75,
		},
		{
			name:      "All positive labels",
			yTrue:     []float64{1, 1, 1, 1},
			yPred:     []float64{0.1, 0.4, 0.35, 0.8},
			undefined: true,
		},
		{
			name:      "All negative labels",
			yTrue:     []float64{0, 0, 0, 0},
			yPred:     []float64{0.1, 0.4, 0.35, 0.8},
			undefined: true,
		},
		{
			name:    "Non-binary labels",
			yTrue:   []float64{0, 0.5, 1},
			yPred:   []float64{0.1, 0.5, 0.9},
			wantErr: true,
		},
		{
			name:    "Dimension mismatch",
			yTrue:   []float64{0, 1},
			yPred:   []float64{0.5},
			wantErr: true,
		},
		{
			name:    "Empty vectors",
			yTrue:   []float64{},
			yPred:   []float64{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var yTrue, yPred *mat.VecDense
			if len(tt.yTrue) > 0 {
				yTrue = mat.NewVecDense(len(tt.yTrue), tt.yTrue)
			}
			if len(tt.yPred) > 0 {
				yPred = mat.NewVecDense(len(tt.yPred), tt.yPred)
			}

			got, err := AUC(yTrue, yPred)
			if tt.undefined {
				var w *errors.UndefinedMetricWarning
				if !errors.As(err, &w) || !math.IsNaN(got) {
					t.Errorf("AUC() = %v, %v, want NaN with UndefinedMetricWarning", got, err)
				}
				return
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("AUC() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("AUC() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBinaryLogLoss(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   []float64
		yPred   []float64
		want    float64
		wantErr bool
	}{
		{
			name:  "Perfect predictions",
			yTrue: []float64{0, 0, 1, 1},
			yPred: []float64{0, 0, 1, 1},
			want:  0.0, // Will be small epsilon value due to clipping
		},
		{
			name:  "Typical case",
			yTrue: []float64{0, 0, 1, 1},
			yPred: []float64{0.1, 0.2, 0.8, 0.9},
			want:  0.164252, // Approximate expected value
		},
		{
			name:  "Worst predictions",
			yTrue: []float64{0, 0, 1, 1},
			yPred: []float64{0.9, 0.9, 0.1, 0.1},
			want:  2.3025851, // Approximate expected value
		},
		{
			name:  "Clipping edge case",
			yTrue: []float64{0, 1},
			yPred: []float64{0, 1}, // Will be clipped to avoid log(0)
			want:  0.0,             // Small value due to epsilon
		},
		{
			name:    "Non-binary labels",
			yTrue:   []float64{0, 0.5, 1},
			yPred:   []float64{0.1, 0.5, 0.9},
			wantErr: true,
		},
		{
			name:    "Empty vectors",
			yTrue:   []float64{},
			yPred:   []float64{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var yTrue, yPred *mat.VecDense
			if len(tt.yTrue) > 0 {
				yTrue = mat.NewVecDense(len(tt.yTrue), tt.yTrue)
			}
			if len(tt.yPred) > 0 {
				yPred = mat.NewVecDense(len(tt.yPred), tt.yPred)
			}

			got, err := BinaryLogLoss(yTrue, yPred)
			if (err != nil) != tt.wantErr {
				t.Errorf("BinaryLogLoss() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 0.01 {
				t.Errorf("BinaryLogLoss() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAccuracy(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   []float64
		yPred   []float64
		want    float64
		wantErr bool
	}{
		{
			name:  "Perfect accuracy",
			yTrue: []float64{0, 1, 2, 1, 0},
			yPred: []float64{0, 1, 2, 1, 0},
			want:  1.0,
		},
		{
			name:  "80% accuracy",
			yTrue: []float64{0, 1, 2, 1, 0},
			yPred: []float64{0, 1, 1, 1, 0},
			want:  0.8,
		},
		{
			name:  "Zero accuracy",
			yTrue: []float64{0, 0, 0},
			yPred: []float64{1, 1, 1},
			want:  0.0,
		},
		{
			name:    "Empty vectors",
			yTrue:   []float64{},
			yPred:   []float64{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var yTrue, yPred *mat.VecDense
			if len(tt.yTrue) > 0 {
				yTrue = mat.NewVecDense(len(tt.yTrue), tt.yTrue)
			}
			if len(tt.yPred) > 0 {
				yPred = mat.NewVecDense(len(tt.yPred), tt.yPred)
			}

			got, err := Accuracy(yTrue, yPred)
			if (err != nil) != tt.wantErr {
				t.Errorf("Accuracy() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Accuracy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrecisionRecallF1(t *testing.T) {
	yTrue := mat.NewVecDense(6, []float64{1, 1, 1, 0, 0, 0})
	yPred := mat.NewVecDense(6, []float64{1, 1, 0, 1, 0, 0})

	cm, err := Confusion(yTrue, yPred)
	if err != nil {
		t.Fatal(err)
	}
	if cm != (ConfusionMatrix{TP: 2, FP: 1, TN: 2, FN: 1}) {
		t.Errorf("Confusion() = %+v", cm)
	}

	p, _ := Precision(yTrue, yPred)
	r, _ := Recall(yTrue, yPred)
	f1, _ := F1Score(yTrue, yPred)
	if math.Abs(p-2.0/3) > 1e-12 || math.Abs(r-2.0/3) > 1e-12 || math.Abs(f1-2.0/3) > 1e-12 {
		t.Errorf("got precision=%v recall=%v f1=%v", p, r, f1)
	}

	// beta=10 は再現率にほぼ等しい
	fb, _ := FBetaScore(yTrue, mat.NewVecDense(6, []float64{1, 1, 1, 1, 1, 1}), 10)
	if fb < 0.99 {
		t.Errorf("FBetaScore(beta=10) with full recall = %v, want close to 1", fb)
	}

	if _, err := FBetaScore(yTrue, yPred, 0); err == nil {
		t.Error("expected error for beta=0")
	}
}

func TestPrecisionNoPredictedPositives(t *testing.T) {
	got, err := Precision(mat.NewVecDense(3, []float64{1, 0, 0}), mat.NewVecDense(3, []float64{0, 0, 0}))
	if err != nil || got != 0 {
		t.Errorf("Precision() = %v, %v; want 0, nil", got, err)
	}
}

func TestBrierScore(t *testing.T) {
	got, err := BrierScore(mat.NewVecDense(4, []float64{0, 0, 1, 1}), mat.NewVecDense(4, []float64{0.1, 0.3, 0.8, 1.0}))
	if err != nil {
		t.Fatal(err)
	}
	want := (0.01 + 0.09 + 0.04 + 0) / 4
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("BrierScore() = %v, want %v", got, want)
	}
	if _, err := BrierScore(nil, nil); err == nil {
		t.Error("expected error for nil vectors")
	}
}

func BenchmarkAUC(b *testing.B) {
	n := 1000
	yTrue := mat.NewVecDense(n, nil)
	yPred := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		yTrue.SetVec(i, float64(i%2))
		yPred.SetVec(i, float64(i)/float64(n))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = AUC(yTrue, yPred)
	}
}
