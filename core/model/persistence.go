package model

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/YuminosukeSato/pulearn/pkg/errors"
)

// SaveModel は任意の値（探索結果やネストCVの結果など）をgob形式でファイルに保存する
//
// パラメータ:
//   - model: 保存する値（エクスポートされたフィールドのみ保存される）
//   - filename: 保存先のファイルパス
//
// 使用例:
//
//	result, _ := ncv.Run(ctx, X, y)
//	err := model.SaveModel(result, "nested_cv.gob")
func SaveModel(model interface{}, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer file.Close()

	return SaveModelToWriter(model, file)
}

// LoadModel はファイルから値を読み込む
//
// パラメータ:
//   - model: 読み込み先（ポインタ）
//   - filename: 読み込み元のファイルパス
//
// 使用例:
//
//	var result model_selection.NestedCVResult
//	err := model.LoadModel(&result, "nested_cv.gob")
func LoadModel(model interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	return LoadModelFromReader(model, file)
}

// SaveModelToWriter は値をio.Writerに保存する
func SaveModelToWriter(model interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(model); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader はio.Readerから値を読み込む
func LoadModelFromReader(model interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(model); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}
