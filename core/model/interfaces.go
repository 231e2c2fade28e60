package model

// WeightExporter は重みをエクスポート可能なモデルのインターフェース
type WeightExporter interface {
	// ExportWeights はモデルの重みをエクスポート
	ExportWeights() (*ModelWeights, error)

	// ImportWeights はモデルの重みをインポート
	ImportWeights(weights *ModelWeights) error
}

// Named はログやエラーメッセージに使うモデル名を返す
type Named interface {
	Name() string
}

// NameOf returns m's name, falling back to its Go type.
func NameOf(m interface{}) string {
	if n, ok := m.(Named); ok {
		return n.Name()
	}
	return typeName(m)
}
