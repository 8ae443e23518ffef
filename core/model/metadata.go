package model

import (
	"encoding/json"
	"time"

	"github.com/YuminosukeSato/tabflow/pkg/errors"
)

// MetadataVersion は成果物メタデータの形式バージョン
const MetadataVersion = "1"

// Metadata はモデル成果物に付随する情報（meta.json として保存）
type Metadata struct {
	// ModelType はモデルの種類（random_forest, linear_regression 等）
	ModelType string `json:"model_type"`

	// Version はメタデータ形式のバージョン（互換性チェック用）
	Version string `json:"version"`

	// Features は学習時の特徴量名（推論時に入力から選択する列）
	Features []string `json:"features"`

	// Label は学習時のラベル列名
	Label string `json:"label"`

	// Hyperparameters はモデルのハイパーパラメータ
	Hyperparameters map[string]interface{} `json:"hyperparameters"`

	// Metadata は追加のメタデータ（学習サンプル数等）
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// IsFitted はモデルが学習済みかどうか
	IsFitted bool `json:"is_fitted"`

	// CreatedAt は成果物の作成時刻
	CreatedAt time.Time `json:"created_at"`
}

// ToJSON はMetadataをJSON形式にシリアライズ
func (m *Metadata) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// FromJSON はJSON形式からMetadataをデシリアライズ
func (m *Metadata) FromJSON(data []byte) error {
	return json.Unmarshal(data, m)
}

// Validate はMetadataの妥当性を検証
func (m *Metadata) Validate() error {
	if m.ModelType == "" {
		return errors.NewValidationError("model_type", "is required", m.ModelType)
	}
	if m.Version != MetadataVersion {
		return errors.NewValidationError("version", "unsupported metadata version", m.Version)
	}
	if !m.IsFitted {
		return errors.NewValidationError("is_fitted", "artifact holds an unfitted model", m.IsFitted)
	}
	if len(m.Features) == 0 {
		return errors.NewValidationError("features", "fitted model must record its features", m.Features)
	}
	return nil
}

// Clone はMetadataのディープコピーを作成
func (m *Metadata) Clone() *Metadata {
	clone := &Metadata{
		ModelType:       m.ModelType,
		Version:         m.Version,
		Label:           m.Label,
		IsFitted:        m.IsFitted,
		CreatedAt:       m.CreatedAt,
		Features:        make([]string, len(m.Features)),
		Hyperparameters: make(map[string]interface{}, len(m.Hyperparameters)),
		Metadata:        make(map[string]interface{}, len(m.Metadata)),
	}
	copy(clone.Features, m.Features)
	for k, v := range m.Hyperparameters {
		clone.Hyperparameters[k] = v
	}
	for k, v := range m.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}
