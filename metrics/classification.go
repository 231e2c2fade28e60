// Package metrics は分類の評価指標、PU学習向けの指標、および複数指標を一度に
// 計算するMultiScorerを提供します。
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/pulearn/pkg/errors"
)

// ConfusionMatrix は二値分類の混同行列
type ConfusionMatrix struct {
	TP, FP, TN, FN int
}

// checkPair は入力ベクトルの共通検証を行い、サンプル数を返す
func checkPair(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil {
		return 0, errors.NewValueError(op, "nil vector")
	}
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

func checkBinary(op string, y *mat.VecDense) error {
	for i := 0; i < y.Len(); i++ {
		if v := y.AtVec(i); v != 0 && v != 1 {
			return errors.NewValueError(op, "labels must be 0 or 1")
		}
	}
	return nil
}

// Confusion は二値ラベルと二値予測から混同行列を計算する
func Confusion(yTrue, yPred *mat.VecDense) (ConfusionMatrix, error) {
	n, err := checkPair("Confusion", yTrue, yPred)
	if err != nil {
		return ConfusionMatrix{}, err
	}
	if err := checkBinary("Confusion", yTrue); err != nil {
		return ConfusionMatrix{}, err
	}
	if err := checkBinary("Confusion", yPred); err != nil {
		return ConfusionMatrix{}, err
	}

	var cm ConfusionMatrix
	for i := 0; i < n; i++ {
		t, p := yTrue.AtVec(i) == 1, yPred.AtVec(i) == 1
		switch {
		case t && p:
			cm.TP++
		case !t && p:
			cm.FP++
		case t && !p:
			cm.FN++
		default:
			cm.TN++
		}
	}
	return cm, nil
}

// Accuracy は正解率を計算する（多クラスのラベルも受け付ける）
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// Precision は適合率 TP / (TP + FP) を計算する。
// 予測陽性が一つもない場合は0を返し、UndefinedMetricWarningを発行する
func Precision(yTrue, yPred *mat.VecDense) (float64, error) {
	cm, err := Confusion(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if cm.TP+cm.FP == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("precision", "no predicted samples", 0))
		return 0, nil
	}
	return float64(cm.TP) / float64(cm.TP+cm.FP), nil
}

// Recall は再現率 TP / (TP + FN) を計算する。
// 真の陽性が一つもない場合は0を返し、UndefinedMetricWarningを発行する
func Recall(yTrue, yPred *mat.VecDense) (float64, error) {
	cm, err := Confusion(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if cm.TP+cm.FN == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("recall", "no true samples", 0))
		return 0, nil
	}
	return float64(cm.TP) / float64(cm.TP+cm.FN), nil
}

// FBetaScore は適合率と再現率の重み付き調和平均を計算する。
// beta > 1 で再現率を重視する
func FBetaScore(yTrue, yPred *mat.VecDense, beta float64) (float64, error) {
	if beta <= 0 || math.IsNaN(beta) {
		return 0, errors.NewValueError("FBetaScore", "beta must be positive")
	}
	cm, err := Confusion(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	// F_beta = (1+β²)TP / ((1+β²)TP + β²FN + FP)
	b2 := beta * beta
	num := (1 + b2) * float64(cm.TP)
	den := num + b2*float64(cm.FN) + float64(cm.FP)
	if den == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("f-score", "no true nor predicted samples", 0))
		return 0, nil
	}
	return num / den, nil
}

// F1Score はF1スコアを計算する
func F1Score(yTrue, yPred *mat.VecDense) (float64, error) {
	return FBetaScore(yTrue, yPred, 1)
}

// BrierScore は確率予測の平均二乗誤差を計算する（小さいほど良い）
func BrierScore(yTrue, yProba *mat.VecDense) (float64, error) {
	n, err := checkPair("BrierScore", yTrue, yProba)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("BrierScore", yTrue); err != nil {
		return 0, err
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := yProba.AtVec(i) - yTrue.AtVec(i)
		sum += d * d
	}
	return sum / float64(n), nil
}

// BinaryLogLoss は二値交差エントロピーを計算する。
// log(0) を避けるため確率は [eps, 1-eps] にクリップされる
func BinaryLogLoss(yTrue, yProba *mat.VecDense) (float64, error) {
	n, err := checkPair("BinaryLogLoss", yTrue, yProba)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("BinaryLogLoss", yTrue); err != nil {
		return 0, err
	}
	const eps = 1e-15
	var sum float64
	for i := 0; i < n; i++ {
		p := errors.ClipValue(yProba.AtVec(i), eps, 1-eps)
		if yTrue.AtVec(i) == 1 {
			sum -= errors.StabilizeLog(p)
		} else {
			sum -= errors.StabilizeLog(1 - p)
		}
	}
	return sum / float64(n), nil
}

// AUC はROC曲線下面積をMann-Whitney統計量として計算する。同順位は平均順位で扱う。
// 片方のクラスしか存在しない場合は定義できないため NaN と UndefinedMetricWarning を返す
func AUC(yTrue, yScore *mat.VecDense) (float64, error) {
	n, err := checkPair("AUC", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("AUC", yTrue); err != nil {
		return 0, err
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return yScore.AtVec(order[a]) < yScore.AtVec(order[b])
	})

	var nPos, nNeg int
	var rankSumPos float64
	for i := 0; i < n; {
		j := i
		for j+1 < n && yScore.AtVec(order[j+1]) == yScore.AtVec(order[i]) {
			j++
		}
		// 順位は1始まり、同順位ブロックは平均順位
		avgRank := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			if yTrue.AtVec(order[k]) == 1 {
				nPos++
				rankSumPos += avgRank
			} else {
				nNeg++
			}
		}
		i = j + 1
	}

	if nPos == 0 || nNeg == 0 {
		return math.NaN(), errors.NewUndefinedMetricWarning("auc", "only one class present", math.NaN())
	}
	u := rankSumPos - float64(nPos)*float64(nPos+1)/2
	return u / (float64(nPos) * float64(nNeg)), nil
}
