// Package pulearn trains and evaluates binary classifiers when only part of
// the data carries trustworthy labels.
//
// Every example is labeled positive (1), negative (0) or unlabeled (-1).
// pulearn turns such data into ordinary binary training sets, ensembles over
// balanced subsamples, and measures generalization with nested
// cross-validation so that hyperparameter search never sees the test fold.
//
// # Features
//
// - PU Wrapper: treats a random sample of unlabeled rows as negatives around any base classifier
// - Threshold calibration: picks the decision threshold from the unlabeled score distribution
// - Subsampling Ensemble: balanced minority/majority members with majority or averaged voting
// - Nested CV: randomized or grid search inside, multi-metric scoring outside
// - Metrics: assumed and labeled variants of F1, precision, recall, Brier, AUC and the PU score
//
// # Installation
//
//	go get github.com/YuminosukeSato/pulearn
//
// # Quick Start
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/pulearn/core/dataset"
//	    "github.com/YuminosukeSato/pulearn/metrics"
//	    "github.com/YuminosukeSato/pulearn/sklearn/linear_model"
//	    "github.com/YuminosukeSato/pulearn/sklearn/semi_supervised"
//	    "gonum.org/v1/gonum/mat"
//	)
//
//	func main() {
//	    // 1 = positive, 0 = negative, -1 = unlabeled
//	    X := mat.NewDense(6, 1, []float64{2.0, 1.8, -2.0, -1.7, 1.5, -1.2})
//	    y := mat.NewVecDense(6, []float64{1, 1, 0, 0, -1, -1})
//
//	    pnu := semi_supervised.NewPNUWrapper(
//	        linear_model.NewLogisticRegression(),
//	        semi_supervised.WithNumUnlabeled(semi_supervised.Count(2)),
//	        semi_supervised.WithRandomState(42),
//	    )
//	    if err := pnu.Fit(X, y); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    scores, err := metrics.NewMultiScorer().Score(pnu, X, []dataset.Label{1, 1, 0, 0, -1, -1})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println("labeled F1:", scores.Value(metrics.LabeledF1))
//	}
//
// # Packages
//
// The library is organized into several packages:
//
//   - core/dataset: PU labels, datasets and the loader contract
//   - core/model: Estimator capabilities, parameters, fitted state, persistence
//   - core/parallel: Index-keyed worker pool
//   - core/rng: Seed derivation and sampling without replacement
//   - metrics: Metric library, scorers and the multi-metric aggregator
//   - sklearn/semi_supervised: PNUWrapper
//   - sklearn/ensemble: RepeatedRandomSubSampler
//   - sklearn/model_selection: Splitters, parameter search, nested cross-validation
//   - sklearn/linear_model: LogisticRegression base classifier
//   - sklearn/pipeline: Transformer + classifier pipelines
//   - preprocessing: StandardScaler, MaxAbsScaler
//   - experiment: TOML configured end-to-end evaluation runs
//
// # Reproducibility
//
// Every random choice derives from an explicit seed. Parallel work (ensemble
// members, search candidates, outer folds) receives per-task seeds derived
// from the run seed, so results do not depend on the number of workers:
//
//	ncv := model_selection.NewNestedCV(pnu, search,
//	    model_selection.WithRandomState(42),
//	    model_selection.WithNJobs(-1),  // Use all CPU cores
//	)
//
// # Configuration
//
// experiment.Load reads pulearn.toml, applies pulearn.<PULEARN_ENV>.toml on top
// and finally PULEARN_* environment variables.
//
// # License
//
// pulearn is released under the MIT License.
package pulearn
