package model

import (
	"io"
	"sort"
	"sync"

	"github.com/YuminosukeSato/tabflow/pkg/errors"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Regressor{}
)

// Register はモデル種別名と空のモデルを作る関数を登録する。
// 各モデルのパッケージが init で呼び出す
func Register(modelType string, newFn func() Regressor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[modelType]; dup {
		panic("model: Register called twice for " + modelType)
	}
	registry[modelType] = newFn
}

// RegisteredTypes は登録済みのモデル種別名をソートして返す
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New は登録済みの種別から空のモデルを作成する
func New(modelType string) (Regressor, error) {
	registryMu.RLock()
	newFn, ok := registry[modelType]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.NewValidationError("train.model_type", "unknown model type", modelType)
	}
	return newFn(), nil
}

// Load はメタデータの種別に従ってモデルを復元する
func Load(meta *Metadata, r io.Reader) (Regressor, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	m, err := New(meta.ModelType)
	if err != nil {
		return nil, err
	}
	if err := LoadModelFromReader(m, r); err != nil {
		return nil, err
	}
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError(meta.ModelType, "Load")
	}
	return m, nil
}
