// Package model_selection provides cross-validation splitters, hyperparameter
// search and the nested cross-validation harness.
package model_selection

import (
	"fmt"
	"math"
	"sort"

	"github.com/YuminosukeSato/pulearn/core/dataset"
	"github.com/YuminosukeSato/pulearn/core/rng"
	"github.com/YuminosukeSato/pulearn/pkg/errors"
)

// DefaultMinPerClass は層化分割で各テストフォールドに必要な最小件数
const DefaultMinPerClass = 2

// Fold は1つの分割（学習行とテスト行、いずれも昇順）
type Fold struct {
	TrainIndices []int
	TestIndices  []int
}

// Splitter は交差検証の分割器インターフェース
type Splitter interface {
	// Split はラベル列を分割する。シャッフルには seed を使う
	Split(y []dataset.Label, seed int64) ([]Fold, error)

	// GetNSplits は分割数を返す
	GetNSplits() int
}

// strataOrder はクラスを処理する固定順序
var strataOrder = []dataset.Label{dataset.Positive, dataset.Negative, dataset.Unlabeled}

// KFold implements k-fold cross-validation splitter
type KFold struct {
	NSplits int
	Shuffle bool
}

// NewKFold creates a new k-fold splitter
func NewKFold(nSplits int, shuffle bool) *KFold {
	return &KFold{NSplits: nSplits, Shuffle: shuffle}
}

// GetNSplits returns the number of splits
func (kf *KFold) GetNSplits() int {
	return kf.NSplits
}

// Split generates train/test indices for each fold
func (kf *KFold) Split(y []dataset.Label, seed int64) ([]Fold, error) {
	n := len(y)
	if err := checkSplits("KFold.Split", kf.NSplits, n); err != nil {
		return nil, err
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if kf.Shuffle {
		indices = rng.Shuffle(rng.New(seed), indices)
	}

	assign := make([]int, n)
	foldSize := n / kf.NSplits
	remainder := n % kf.NSplits
	current := 0
	for f := 0; f < kf.NSplits; f++ {
		testSize := foldSize
		if f < remainder {
			testSize++
		}
		for _, idx := range indices[current : current+testSize] {
			assign[idx] = f
		}
		current += testSize
	}
	return buildFolds(assign, kf.NSplits), nil
}

// StratifiedKFold は POSITIVE / NEGATIVE / UNLABELED の比率を保つ k-fold 分割器。
// 各クラス内でシャッフルした後、全クラス通しで順番にフォールドへ配るため
// フォールドの大きさの差は高々1になる
type StratifiedKFold struct {
	NSplits int
	Shuffle bool
}

// NewStratifiedKFold creates a new stratified k-fold splitter
func NewStratifiedKFold(nSplits int, shuffle bool) *StratifiedKFold {
	return &StratifiedKFold{NSplits: nSplits, Shuffle: shuffle}
}

// GetNSplits returns the number of splits
func (skf *StratifiedKFold) GetNSplits() int {
	return skf.NSplits
}

// Split generates stratified train/test indices for each fold
func (skf *StratifiedKFold) Split(y []dataset.Label, seed int64) ([]Fold, error) {
	n := len(y)
	if err := checkSplits("StratifiedKFold.Split", skf.NSplits, n); err != nil {
		return nil, err
	}
	if err := dataset.ValidateLabels("StratifiedKFold.Split", y); err != nil {
		return nil, err
	}

	r := rng.New(seed)
	assign := make([]int, n)
	next := 0
	for _, label := range strataOrder {
		members := dataset.IndicesOf(y, label)
		if skf.Shuffle {
			members = rng.Shuffle(r, members)
		}
		for _, idx := range members {
			assign[idx] = next
			next = (next + 1) % skf.NSplits
		}
	}
	return buildFolds(assign, skf.NSplits), nil
}

func checkSplits(op string, k, n int) error {
	if k < 2 {
		return errors.NewConfigurationError(op, "n_splits", "must be at least 2", k)
	}
	if k > n {
		return errors.NewConfigurationError(op, "n_splits",
			fmt.Sprintf("cannot exceed the number of samples (%d)", n), k)
	}
	return nil
}

// buildFolds は行ごとのフォールド番号から Fold を作る
func buildFolds(assign []int, k int) []Fold {
	folds := make([]Fold, k)
	for f := range folds {
		folds[f].TrainIndices = []int{}
		folds[f].TestIndices = []int{}
	}
	for idx, f := range assign {
		for g := range folds {
			if g == f {
				folds[g].TestIndices = append(folds[g].TestIndices, idx)
			} else {
				folds[g].TrainIndices = append(folds[g].TrainIndices, idx)
			}
		}
	}
	return folds
}

// ValidateStratifiedFolds は k 分割の層化で、存在する POSITIVE / NEGATIVE の
// 各クラスがどのテストフォールドにも minPerClass 件以上入るかを検査する
func ValidateStratifiedFolds(y []dataset.Label, k, minPerClass int) error {
	const op = "ValidateStratifiedFolds"
	if err := checkSplits(op, k, len(y)); err != nil {
		return err
	}
	counts := dataset.CountLabels(y)
	return checkClassCounts(op, map[dataset.Label]int{
		dataset.Positive: counts.Positive,
		dataset.Negative: counts.Negative,
	}, k, minPerClass)
}

func checkClassCounts(op string, counts map[dataset.Label]int, k, minPerClass int) error {
	for _, label := range []dataset.Label{dataset.Positive, dataset.Negative} {
		c := counts[label]
		if c == 0 {
			continue
		}
		if c/k < minPerClass {
			return errors.NewConfigurationError(op, "n_splits",
				fmt.Sprintf("%d %s examples leave a fold with fewer than %d", c, label, minPerClass), k)
		}
	}
	return nil
}

// ValidateNestedFolds は外側 kOuter 分割の各学習集合を内側 kInner で分割しても
// minPerClass を満たすかを、最も小さくなる学習集合で検査する
func ValidateNestedFolds(y []dataset.Label, kOuter, kInner, minPerClass int) error {
	const op = "ValidateNestedFolds"
	if err := ValidateStratifiedFolds(y, kOuter, minPerClass); err != nil {
		return err
	}
	counts := dataset.CountLabels(y)
	smallest := func(c int) int {
		return c - int(math.Ceil(float64(c)/float64(kOuter)))
	}
	if err := checkSplits(op, kInner, len(y)-int(math.Ceil(float64(len(y))/float64(kOuter)))); err != nil {
		return err
	}
	return checkClassCounts(op, map[dataset.Label]int{
		dataset.Positive: smallest(counts.Positive),
		dataset.Negative: smallest(counts.Negative),
	}, kInner, minPerClass)
}

// TrainTestSplit はクラス比率を保ったまま testSize の割合をテスト側へ分ける。
// 各クラスから round(testSize·件数) 行をシャッフルして取り、両側とも昇順で返す
func TrainTestSplit(y []dataset.Label, testSize float64, seed int64) (train, test []int, err error) {
	const op = "TrainTestSplit"
	if math.IsNaN(testSize) || testSize <= 0 || testSize >= 1 {
		return nil, nil, errors.NewConfigurationError(op, "test_size", "must be in (0, 1)", testSize)
	}
	if err := dataset.ValidateLabels(op, y); err != nil {
		return nil, nil, err
	}

	r := rng.New(seed)
	train, test = []int{}, []int{}
	for _, label := range strataOrder {
		members := rng.Shuffle(r, dataset.IndicesOf(y, label))
		k := int(math.Round(testSize * float64(len(members))))
		test = append(test, members[:k]...)
		train = append(train, members[k:]...)
	}
	if len(train) == 0 || len(test) == 0 {
		return nil, nil, errors.NewConfigurationError(op, "test_size",
			fmt.Sprintf("leaves an empty side with %d samples", len(y)), testSize)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}
