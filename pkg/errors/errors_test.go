package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		kind    string
		err     error
		wantMsg string
	}{
		{
			name:    "with original error",
			op:      "RepeatedRandomSubSampler.Fit",
			kind:    "member 3",
			err:     fmt.Errorf("singular"),
			wantMsg: "pulearn: RepeatedRandomSubSampler.Fit: member 3: singular",
		},
		{
			name:    "without original error",
			op:      "NestedCV.Run",
			kind:    "fold 1",
			err:     nil,
			wantMsg: "pulearn: NestedCV.Run: fold 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}

			// スタックトレースの存在確認
			formatted := fmt.Sprintf("%+v", err)
			if !strings.Contains(formatted, "errors_test.go") {
				t.Error("Expected stack trace to contain test file name")
			}

			var modelErr *ModelError
			if !As(err, &modelErr) {
				t.Error("Error should be castable to *ModelError")
			}
		})
	}
}

func TestNewLabelDomainError(t *testing.T) {
	err := NewLabelDomainError("PNUWrapper.Fit", 7, 2)

	want := "pulearn: PNUWrapper.Fit: label 2 at index 7 is outside {1, 0, -1}"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var labelErr *LabelDomainError
	if !As(err, &labelErr) {
		t.Fatal("Error should be castable to *LabelDomainError")
	}
	if labelErr.Index != 7 || labelErr.Value != 2 {
		t.Errorf("unexpected fields: %+v", labelErr)
	}
}

func TestNewConfigurationError(t *testing.T) {
	err := NewConfigurationError("PNUWrapper.Fit", "num_unlabeled", "exceeds unlabeled pool of 6", 9)

	want := "pulearn: PNUWrapper.Fit: invalid configuration for 'num_unlabeled': exceeds unlabeled pool of 6 (got: 9)"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var cfgErr *ConfigurationError
	if !As(err, &cfgErr) {
		t.Error("Error should be castable to *ConfigurationError")
	}

	// ラップしても型が判定できること
	wrapped := Wrap(err, "outer fold 2")
	if !As(wrapped, &cfgErr) {
		t.Error("Wrapped error should still be castable to *ConfigurationError")
	}
}

func TestNewSearchExhaustedError(t *testing.T) {
	last := fmt.Errorf("fit failed")
	err := NewSearchExhaustedError("RandomizedSearchCV.Search", 10, 10, last)

	var exhausted *SearchExhaustedError
	if !As(err, &exhausted) {
		t.Fatal("Error should be castable to *SearchExhaustedError")
	}
	if exhausted.Candidates != 10 || exhausted.Failed != 10 {
		t.Errorf("unexpected counts: %+v", exhausted)
	}
	if !Is(err, last) {
		t.Error("SearchExhaustedError should unwrap to the last candidate failure")
	}
	if !strings.Contains(err.Error(), "no valid candidate among 10") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("Predict", 10, 3, 1)

	want := "pulearn: Predict: dimension mismatch on axis 1 (features). Expected 10, got 3"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var dimErr *DimensionError
	if !As(err, &dimErr) {
		t.Error("Error should be castable to *DimensionError")
	}
}

func TestNewNotFittedError(t *testing.T) {
	err := NewNotFittedError("PNUWrapper", "PredictProba")

	want := "pulearn: PNUWrapper: this model is not fitted yet. Call Fit() before using PredictProba()"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var notFittedErr *NotFittedError
	if !As(err, &notFittedErr) {
		t.Error("Error should be castable to *NotFittedError")
	}
}

func TestUndefinedMetricWarning(t *testing.T) {
	warn := NewUndefinedMetricWarning("labeled_f1", "no labeled samples", 0)

	want := "'labeled_f1' is ill-defined and being set to 0.000000 due to no labeled samples."
	if warn.Error() != want {
		t.Errorf("Error() = %v, want %v", warn.Error(), want)
	}

	var got *UndefinedMetricWarning
	if !As(Wrap(warn, "scoring"), &got) {
		t.Error("Warning should be castable to *UndefinedMetricWarning")
	}
}

func TestWarnUsesHandler(t *testing.T) {
	var received []error
	SetWarningHandler(func(w error) { received = append(received, w) })
	SetZerologWarnFunc(nil)
	defer SetWarningHandler(func(w error) {})

	Warn(NewConvergenceWarning("LogisticRegression", 100, ""))

	if len(received) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(received))
	}
	if !strings.Contains(received[0].Error(), "failed to converge after 100 iterations") {
		t.Errorf("unexpected warning %q", received[0].Error())
	}
}

func TestWrapf(t *testing.T) {
	wrapped := Wrapf(ErrEmptyData, "in %s: expected %d, got %d", "Predict", 10, 5)

	if !Is(wrapped, ErrEmptyData) {
		t.Error("Expected Is(wrapped, ErrEmptyData) to be true")
	}

	expectedMsg := "in Predict: expected 10, got 5"
	if !strings.Contains(wrapped.Error(), expectedMsg) {
		t.Errorf("Expected wrapped error to contain %q", expectedMsg)
	}
}

func TestNumericalGuards(t *testing.T) {
	if err := CheckProbabilities("predict_proba", []float64{0, 0.5, 1}); err != nil {
		t.Errorf("valid probabilities rejected: %v", err)
	}
	if err := CheckProbabilities("predict_proba", []float64{0.2, 1.5}); err == nil {
		t.Error("expected error for probability above 1")
	}
	if SafeDivide(1, 0) != 0 {
		t.Error("SafeDivide should return 0 for a zero denominator")
	}
	if ClipValue(2, 0, 1) != 1 || ClipValue(-1, 0, 1) != 0 {
		t.Error("ClipValue should clamp to bounds")
	}
}
