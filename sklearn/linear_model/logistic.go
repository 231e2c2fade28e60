// Package linear_model provides the reference logistic regression used as a
// base classifier under the PU wrappers.
package linear_model

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pulearn/core/model"
	"github.com/YuminosukeSato/pulearn/core/parallel"
	"github.com/YuminosukeSato/pulearn/core/rng"
	"github.com/YuminosukeSato/pulearn/pkg/errors"
	"github.com/YuminosukeSato/pulearn/pkg/log"
)

const (
	logisticName = "LogisticRegression"

	// parallelThreshold 未満の行数では PredictProba を逐次処理する
	parallelThreshold = 1000
)

// LogisticRegression implements binary logistic regression trained by gradient descent.
// Labels must be 0 or 1; put it behind a PNUWrapper to train on PU labels.
type LogisticRegression struct {
	state *model.StateManager

	// Hyperparameters
	penalty      string  // Regularization: "l2", "l1", "none"
	C            float64 // Inverse regularization strength
	fitIntercept bool
	classWeight  string // "none" or "balanced"
	randomState  int64
	maxIter      int
	tol          float64
	learningRate float64

	// Model parameters
	coef_      []float64
	intercept_ float64
	nIter_     int
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		state:        model.NewStateManager(),
		penalty:      "l2",
		C:            1.0,
		fitIntercept: true,
		classWeight:  "none",
		randomState:  0,
		maxIter:      100,
		tol:          1e-4,
		learningRate: 1.0,
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRPenalty sets the regularization type
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.penalty = penalty
	}
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.C = c
	}
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.fitIntercept = fit
	}
}

// WithLRClassWeight sets the class weighting ("none" or "balanced")
func WithLRClassWeight(cw string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.classWeight = cw
	}
}

// WithLRMaxIter sets the maximum number of iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.maxIter = maxIter
	}
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.tol = tol
	}
}

// WithLRLearningRate sets the initial step size
func WithLRLearningRate(eta float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.learningRate = eta
	}
}

// WithLRRandomState sets the seed used to initialize the coefficients
func WithLRRandomState(seed int64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.randomState = seed
	}
}

// Name implements model.Named.
func (lr *LogisticRegression) Name() string {
	return logisticName
}

func (lr *LogisticRegression) validateParams() error {
	const op = "LogisticRegression.Fit"
	switch lr.penalty {
	case "l2", "l1", "none":
	default:
		return errors.NewConfigurationError(op, "penalty", "must be one of l2, l1, none", lr.penalty)
	}
	if lr.C <= 0 || math.IsNaN(lr.C) {
		return errors.NewConfigurationError(op, "C", "must be positive", lr.C)
	}
	switch lr.classWeight {
	case "none", "balanced":
	default:
		return errors.NewConfigurationError(op, "class_weight", "must be none or balanced", lr.classWeight)
	}
	if lr.maxIter < 1 {
		return errors.NewConfigurationError(op, "max_iter", "must be at least 1", lr.maxIter)
	}
	if lr.learningRate <= 0 {
		return errors.NewConfigurationError(op, "learning_rate", "must be positive", lr.learningRate)
	}
	return nil
}

// Fit trains the model on X and 0/1 labels y. Each call starts from scratch.
func (lr *LogisticRegression) Fit(X mat.Matrix, y mat.Vector) error {
	const op = "LogisticRegression.Fit"
	if err := lr.validateParams(); err != nil {
		return err
	}
	if X == nil || y == nil {
		return errors.NewValueError(op, "X and y must not be nil")
	}
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.WithStack(errors.ErrEmptyData)
	}
	if y.Len() != nSamples {
		return errors.NewDimensionError(op, nSamples, y.Len(), 0)
	}

	yBin := mat.NewVecDense(nSamples, nil)
	var nPos int
	for i := 0; i < nSamples; i++ {
		switch y.AtVec(i) {
		case 1:
			yBin.SetVec(i, 1)
			nPos++
		case 0:
		default:
			return errors.NewValueError(op, "labels must be 0 or 1")
		}
	}

	lr.state.Reset()
	sw := lr.sampleWeights(yBin, nPos)
	lr.initializeWeights(nFeatures)
	lr.fitBinary(mat.DenseCopyOf(X), yBin, sw)

	if err := errors.CheckNumericalStability("LogisticRegression.coef", lr.coef_, lr.nIter_); err != nil {
		return err
	}
	if err := errors.CheckScalar("LogisticRegression.intercept", lr.intercept_, lr.nIter_); err != nil {
		return err
	}

	lr.state.SetDimensions(nFeatures, nSamples)
	lr.state.SetFitted()

	logger := log.GetLoggerWithName("linear_model")
	logger.Debug("Fit completed",
		log.ModelNameKey, logisticName,
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		log.IterationKey, lr.nIter_,
	)
	return nil
}

// sampleWeights returns per-sample weights normalized to sum to nSamples.
func (lr *LogisticRegression) sampleWeights(y *mat.VecDense, nPos int) *mat.VecDense {
	n := y.Len()
	sw := mat.NewVecDense(n, nil)
	wPos, wNeg := 1.0, 1.0
	if lr.classWeight == "balanced" && nPos > 0 && nPos < n {
		// n_samples / (n_classes * count(class))
		wPos = float64(n) / (2 * float64(nPos))
		wNeg = float64(n) / (2 * float64(n-nPos))
	}
	for i := 0; i < n; i++ {
		if y.AtVec(i) == 1 {
			sw.SetVec(i, wPos)
		} else {
			sw.SetVec(i, wNeg)
		}
	}
	return sw
}

// initializeWeights initializes coefficients with small seeded values
func (lr *LogisticRegression) initializeWeights(nFeatures int) {
	r := rng.New(lr.randomState)
	lr.coef_ = make([]float64, nFeatures)
	for j := range lr.coef_ {
		lr.coef_[j] = r.NormFloat64() * 0.01
	}
	lr.intercept_ = 0
	lr.nIter_ = 0
}

// fitBinary runs proximal gradient descent on the weighted mean log-loss.
// The penalty is scaled by 1/(C·n) so that C has the same meaning as in scikit-learn.
func (lr *LogisticRegression) fitBinary(X *mat.Dense, y, sw *mat.VecDense) {
	nSamples, nFeatures := X.Dims()
	w := mat.NewVecDense(nFeatures, lr.coef_)
	z := mat.NewVecDense(nSamples, nil)
	resid := mat.NewVecDense(nSamples, nil)
	grad := mat.NewVecDense(nFeatures, nil)
	swSum := mat.Sum(sw)
	lambda := 1.0 / (lr.C * float64(nSamples))

	converged := false
	for iter := 0; iter < lr.maxIter; iter++ {
		z.MulVec(X, w)
		for i := 0; i < nSamples; i++ {
			p := sigmoid(z.AtVec(i) + lr.intercept_)
			resid.SetVec(i, sw.AtVec(i)*(p-y.AtVec(i)))
		}

		grad.MulVec(X.T(), resid)
		grad.ScaleVec(1/swSum, grad)
		gradIntercept := mat.Sum(resid) / swSum

		maxGrad := math.Abs(gradIntercept)
		for j := 0; j < nFeatures; j++ {
			g := grad.AtVec(j)
			if lr.penalty == "l2" {
				g += lambda * w.AtVec(j)
			}
			maxGrad = math.Max(maxGrad, math.Abs(g))
		}

		eta := lr.learningRate / (1.0 + 0.1*float64(iter))
		w.AddScaledVec(w, -eta, grad)
		switch lr.penalty {
		case "l2":
			// 正則化項は陰的に更新する
			w.ScaleVec(1/(1+eta*lambda), w)
		case "l1":
			// 近接勾配法（ソフト閾値）
			shrink := eta * lambda
			for j := 0; j < nFeatures; j++ {
				v := w.AtVec(j)
				w.SetVec(j, math.Copysign(math.Max(math.Abs(v)-shrink, 0), v))
			}
		}
		if lr.fitIntercept {
			lr.intercept_ -= eta * gradIntercept
		}
		lr.nIter_ = iter + 1

		if maxGrad < lr.tol {
			converged = true
			break
		}
	}

	if !converged {
		errors.Warn(errors.NewConvergenceWarning(logisticName, lr.maxIter, ""))
	}
}

// PredictProba returns P(positive) for every row of X
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (*mat.VecDense, error) {
	if err := lr.state.RequireFitted(logisticName, "PredictProba"); err != nil {
		return nil, err
	}
	nSamples, nFeatures := X.Dims()
	if err := lr.state.RequireFeatures("LogisticRegression.PredictProba", nFeatures); err != nil {
		return nil, err
	}
	if nSamples == 0 {
		return &mat.VecDense{}, nil
	}

	proba := mat.NewVecDense(nSamples, nil)
	proba.MulVec(X, mat.NewVecDense(nFeatures, lr.coef_))
	// 大きな入力では行を分割して並列に変換する
	parallel.ParallelizeWithThreshold(nSamples, parallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			proba.SetVec(i, sigmoid(proba.AtVec(i)+lr.intercept_))
		}
	})
	return proba, nil
}

// Predict returns hard 0/1 predictions at 0.5
func (lr *LogisticRegression) Predict(X mat.Matrix) (*mat.VecDense, error) {
	return model.Predict(lr, X)
}

// Coef returns a copy of the learned coefficients
func (lr *LogisticRegression) Coef() []float64 {
	out := make([]float64, len(lr.coef_))
	copy(out, lr.coef_)
	return out
}

// Intercept returns the learned intercept
func (lr *LogisticRegression) Intercept() float64 {
	return lr.intercept_
}

// NIter returns the number of iterations run by the last Fit
func (lr *LogisticRegression) NIter() int {
	return lr.nIter_
}

// IsFitted reports whether Fit has completed
func (lr *LogisticRegression) IsFitted() bool {
	return lr.state.IsFitted()
}

// Clone returns an unfitted copy with the same hyperparameters
func (lr *LogisticRegression) Clone() model.Classifier {
	clone := *lr
	clone.state = model.NewStateManager()
	clone.coef_ = nil
	clone.intercept_ = 0
	clone.nIter_ = 0
	return &clone
}

// GetParams returns the model hyperparameters
func (lr *LogisticRegression) GetParams() model.Params {
	return model.Params{
		"penalty":       lr.penalty,
		"C":             lr.C,
		"fit_intercept": lr.fitIntercept,
		"class_weight":  lr.classWeight,
		"random_state":  lr.randomState,
		"max_iter":      lr.maxIter,
		"tol":           lr.tol,
		"learning_rate": lr.learningRate,
	}
}

// SetParams sets the model hyperparameters
func (lr *LogisticRegression) SetParams(params model.Params) error {
	for _, key := range params.Keys() {
		value := params[key]
		var err error
		switch key {
		case "penalty":
			lr.penalty, err = model.ToString(key, value)
		case "C":
			lr.C, err = model.ToFloat(key, value)
		case "fit_intercept":
			lr.fitIntercept, err = model.ToBool(key, value)
		case "class_weight":
			if value == nil {
				lr.classWeight = "none"
				continue
			}
			lr.classWeight, err = model.ToString(key, value)
		case "random_state":
			lr.randomState, err = model.ToInt64(key, value)
		case "max_iter":
			lr.maxIter, err = model.ToInt(key, value)
		case "tol":
			lr.tol, err = model.ToFloat(key, value)
		case "learning_rate":
			lr.learningRate, err = model.ToFloat(key, value)
		default:
			return model.UnknownParam(logisticName, key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ExportWeights implements model.WeightExporter
func (lr *LogisticRegression) ExportWeights() (*model.ModelWeights, error) {
	w := &model.ModelWeights{
		ModelType:       logisticName,
		Version:         model.WeightsVersion,
		Hyperparameters: lr.GetParams(),
		IsFitted:        lr.state.IsFitted(),
	}
	if w.IsFitted {
		nFeatures, nSamples := lr.state.GetDimensions()
		w.Coefficients = lr.Coef()
		w.Intercept = lr.intercept_
		w.Metadata = map[string]interface{}{
			"n_features": nFeatures,
			"n_samples":  nSamples,
			"n_iter":     lr.nIter_,
		}
	}
	return w, nil
}

// ImportWeights implements model.WeightExporter
func (lr *LogisticRegression) ImportWeights(w *model.ModelWeights) error {
	if w == nil {
		return errors.NewValueError("LogisticRegression.ImportWeights", "weights are nil")
	}
	if err := w.Validate(); err != nil {
		return err
	}
	if w.ModelType != logisticName {
		return errors.NewValidationError("model_type", "expected "+logisticName, w.ModelType)
	}
	if err := lr.SetParams(w.Hyperparameters); err != nil {
		return err
	}
	lr.state.Reset()
	if !w.IsFitted {
		lr.coef_ = nil
		lr.intercept_ = 0
		return nil
	}
	lr.coef_ = make([]float64, len(w.Coefficients))
	copy(lr.coef_, w.Coefficients)
	lr.intercept_ = w.Intercept
	nSamples := 0
	if v, ok := w.Metadata["n_samples"]; ok {
		nSamples, _ = model.ToInt("n_samples", v)
	}
	lr.state.SetDimensions(len(lr.coef_), nSamples)
	lr.state.SetFitted()
	return nil
}

// sigmoid computes the logistic function without overflow
func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1.0 / (1.0 + errors.StabilizeExp(-z))
	}
	e := errors.StabilizeExp(z)
	return e / (1.0 + e)
}
