package modelconfig

import "context"

// #region model-config

// ModelConfig identifies a trainable model variant. It is a comparable value
// type and may be used directly as a map key.
type ModelConfig struct {
	Architecture string `json:"architecture"`
	Dataset      string `json:"dataset"`
	Loss         string `json:"loss"`
	Optimizer    string `json:"optimizer"`
}

// Equal reports whether both configs name the same variant.
func (m ModelConfig) Equal(other ModelConfig) bool {
	return m.Architecture == other.Architecture &&
		m.Dataset == other.Dataset &&
		m.Loss == other.Loss &&
		m.Optimizer == other.Optimizer
}

// IsZero reports whether no field is set.
func (m ModelConfig) IsZero() bool {
	return m.Equal(ModelConfig{})
}

func (m ModelConfig) String() string {
	return m.Architecture + "/" + m.Dataset + "/" + m.Loss + "/" + m.Optimizer
}

// #endregion model-config

// #region source

// Source supplies the ordered worklist of model configurations.
type Source interface {
	// Load fetches the option lists. It must complete before ModelCount or Models are used.
	Load(ctx context.Context) error
	ModelCount() int
	// Models returns a fresh slice on every call.
	Models() []ModelConfig
}

// #endregion source
