// Standard attribute keys for pulearn log records.
//
// Keys follow a hierarchical naming convention (e.g. "model.name",
// "data.samples") so that records from the wrapper, the ensemble and the
// nested CV harness can be filtered uniformly.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of estimator.
	// Examples: "PNUWrapper", "RepeatedRandomSubSampler", "LogisticRegression"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "score", "search", "nested_cv"
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is performing the operation.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the evaluation lifecycle.
	PhaseKey = "ml.phase"
)

// Data Shape and PU Label Composition
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"

	// PositiveKey, NegativeKey and UnlabeledKey record label counts.
	PositiveKey  = "data.positive"
	NegativeKey  = "data.negative"
	UnlabeledKey = "data.unlabeled"

	// SampledUnlabeledKey records how many unlabeled rows were drawn as pseudo-negatives.
	SampledUnlabeledKey = "pu.sampled_unlabeled"
)

// Evaluation Harness Context
const (
	// RunIDKey correlates every record emitted by one experiment run.
	RunIDKey = "run.id"

	// FoldKey is the outer (or inner) fold index.
	FoldKey = "cv.fold"

	// CandidateKey is the hyperparameter candidate index within a search.
	CandidateKey = "search.candidate"

	// CandidatesKey is the number of candidates a search evaluated.
	CandidatesKey = "search.candidates"

	// MemberKey is the ensemble member index.
	MemberKey = "ensemble.member"

	// MetricKey names the scoring metric.
	MetricKey = "metrics.name"

	// ScoreKey records a metric value.
	ScoreKey = "metrics.score"
)

// Performance
const (
	DurationMsKey = "perf.duration_ms"
	IterationKey  = "training.iteration"
)

// Decisions and Configuration
const (
	// ThresholdKey records decision thresholds used for classification.
	ThresholdKey = "preds.threshold"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Error Context
const (
	ErrorCodeKey   = "error.code"
	StacktraceKey  = "error.stacktrace"
	HyperParamsKey = "model.hyperparams"
)

// Standard attribute values.
const (
	OperationFit      = "fit"
	OperationPredict  = "predict"
	OperationScore    = "score"
	OperationSearch   = "search"
	OperationNestedCV = "nested_cv"

	PhaseTraining   = "training"
	PhaseValidation = "validation"
	PhaseTesting    = "testing"

	ErrorNotFitted     = "NOT_FITTED"
	ErrorLabelDomain   = "LABEL_DOMAIN"
	ErrorConfiguration = "CONFIGURATION"
)
