package matching

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"defaults", func(c *Config) {}, nil},
		{"threshold zero", func(c *Config) { c.Threshold = 0 }, nil},
		{"threshold one", func(c *Config) { c.Threshold = 1 }, nil},
		{"threshold negative", func(c *Config) { c.Threshold = -0.1 }, ErrInvalidThreshold},
		{"threshold above one", func(c *Config) { c.Threshold = 1.01 }, ErrInvalidThreshold},
		{"negative weight", func(c *Config) { c.Weights[0].Weight = -1 }, ErrInvalidWeight},
		{"all zero weights", func(c *Config) {
			c.Weights = []FieldWeight{{Attribute: "name", Weight: 0}}
		}, ErrNoWeights},
		{"no weights", func(c *Config) { c.Weights = nil }, ErrNoWeights},
		{"duplicate attribute", func(c *Config) {
			c.Weights = append(c.Weights, FieldWeight{Attribute: "name", Weight: 0.2})
		}, ErrDuplicateWeight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfig_Validate_ErrorCause(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = 2

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, ErrInvalidThreshold, errors.Cause(err))
	assert.Contains(t, err.Error(), "got 2")
}

func TestConfig_WithDefaults(t *testing.T) {
	tests := []struct {
		name          string
		config        Config
		wantThreshold float64
		wantWorkers   int
	}{
		{"explicit threshold", Config{Threshold: 0.9}, 0.9, 0},
		{"zero threshold is kept", Config{Workers: 2}, 0, 2},
		{"default config", DefaultConfig(), DefaultThreshold, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config.WithDefaults()

			assert.Equal(t, tt.wantThreshold, cfg.Threshold)
			assert.Equal(t, DefaultWeights(), cfg.Weights)
			assert.Equal(t, DefaultBlockingAttribute, cfg.BlockingAttribute)
			if tt.wantWorkers > 0 {
				assert.Equal(t, tt.wantWorkers, cfg.Workers)
			} else {
				assert.Positive(t, cfg.Workers)
			}
		})
	}
}

func TestLoadWeightsFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("overrides weights and threshold", func(t *testing.T) {
		path := filepath.Join(dir, "weights.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
threshold: 0.9
weights:
  - attribute: email
    weight: 0.7
    comparator: exact
  - attribute: name
    weight: 0.3
    comparator: jaro_winkler
`), 0o600))

		cfg, err := LoadWeightsFile(path, DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, 0.9, cfg.Threshold)
		require.Len(t, cfg.Weights, 2)
		assert.Equal(t, FieldWeight{Attribute: "email", Weight: 0.7, Comparator: ComparatorExact}, cfg.Weights[0])
		assert.Equal(t, ComparatorJaroWinkler, cfg.Weights[1].Comparator)
	})

	t.Run("keeps base threshold when omitted", func(t *testing.T) {
		path := filepath.Join(dir, "weights-only.yaml")
		require.NoError(t, os.WriteFile(path, []byte("weights:\n  - attribute: phone\n    weight: 1\n"), 0o600))

		cfg, err := LoadWeightsFile(path, DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, DefaultThreshold, cfg.Threshold)
		assert.Len(t, cfg.Weights, 1)
	})

	t.Run("rejects invalid table", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("weights:\n  - attribute: phone\n    weight: -1\n"), 0o600))

		_, err := LoadWeightsFile(path, DefaultConfig())
		assert.ErrorIs(t, err, ErrInvalidWeight)
	})

	t.Run("json table", func(t *testing.T) {
		path := filepath.Join(dir, "weights.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"threshold": 0, "weights": [{"attribute": "email", "weight": 1, "comparator": "exact"}]}`), 0o600))

		cfg, err := LoadWeightsFile(path, DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, 0.0, cfg.Threshold)
		assert.Equal(t, []FieldWeight{{Attribute: "email", Weight: 1, Comparator: ComparatorExact}}, cfg.Weights)
	})

	t.Run("no extension reads yaml", func(t *testing.T) {
		path := filepath.Join(dir, "weights")
		require.NoError(t, os.WriteFile(path, []byte("threshold: 0.5\n"), 0o600))

		cfg, err := LoadWeightsFile(path, DefaultConfig())
		require.NoError(t, err)
		assert.Equal(t, 0.5, cfg.Threshold)
		assert.Equal(t, DefaultWeights(), cfg.Weights)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadWeightsFile(filepath.Join(dir, "nope.yaml"), DefaultConfig())
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
