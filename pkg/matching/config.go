package matching

import (
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var (
	// ErrInvalidThreshold is returned when the threshold is outside [0,1]
	ErrInvalidThreshold = errors.New("match threshold must be between 0 and 1")
	// ErrInvalidWeight is returned for a negative attribute weight
	ErrInvalidWeight = errors.New("attribute weight must not be negative")
	// ErrNoWeights is returned when no attribute carries a positive weight
	ErrNoWeights = errors.New("at least one attribute must carry a positive weight")
	// ErrDuplicateWeight is returned when an attribute is weighted twice
	ErrDuplicateWeight = errors.New("attribute weighted more than once")
)

const (
	// DefaultThreshold is the minimum aggregate score for a match candidate
	DefaultThreshold = 0.85
	// DefaultBlockingAttribute is the attribute whose first character forms the block key
	DefaultBlockingAttribute = "name"
)

// FieldWeight weights one attribute in the pairwise score
type FieldWeight struct {
	Attribute  string     `json:"attribute" yaml:"attribute" mapstructure:"attribute" validate:"required"`
	Weight     float64    `json:"weight" yaml:"weight" mapstructure:"weight" validate:"gte=0"`
	Comparator Comparator `json:"comparator,omitempty" yaml:"comparator,omitempty" mapstructure:"comparator"`
}

// Config contains configuration for the batch matcher
type Config struct {
	Threshold         float64       // Minimum score for a candidate (default: 0.85)
	Weights           []FieldWeight // Weighted attributes, scored in order
	BlockingAttribute string        // Attribute used for the block key (default: name)
	Workers           int           // Concurrent block workers (default: NumCPU)
}

// DefaultWeights returns the default attribute weight table
func DefaultWeights() []FieldWeight {
	return []FieldWeight{
		{Attribute: "name", Weight: 0.4, Comparator: ComparatorRatio},
		{Attribute: "email", Weight: 0.4, Comparator: ComparatorRatio},
		{Attribute: "phone", Weight: 0.1, Comparator: ComparatorRatio},
		{Attribute: "address", Weight: 0.1, Comparator: ComparatorRatio},
	}
}

// DefaultConfig returns default matcher configuration
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		Weights:           DefaultWeights(),
		BlockingAttribute: DefaultBlockingAttribute,
		Workers:           runtime.NumCPU(),
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return errors.Wrapf(ErrInvalidThreshold, "got %v", c.Threshold)
	}

	seen := make(map[string]bool, len(c.Weights))
	positive := false
	for _, w := range c.Weights {
		if w.Weight < 0 {
			return errors.Wrapf(ErrInvalidWeight, "%s=%v", w.Attribute, w.Weight)
		}
		if seen[w.Attribute] {
			return errors.Wrap(ErrDuplicateWeight, w.Attribute)
		}
		seen[w.Attribute] = true
		if w.Weight > 0 {
			positive = true
		}
	}
	if !positive {
		return ErrNoWeights
	}
	return nil
}

// WithDefaults fills empty weights, blocking attribute and worker count with
// their defaults. Threshold is kept as given: zero is a valid threshold that
// admits every compared pair. Start from DefaultConfig for DefaultThreshold.
func (c Config) WithDefaults() Config {
	if len(c.Weights) == 0 {
		c.Weights = DefaultWeights()
	}
	if c.BlockingAttribute == "" {
		c.BlockingAttribute = DefaultBlockingAttribute
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	return c
}

// weightsFile is the layout of a weight table file
type weightsFile struct {
	Threshold float64       `mapstructure:"threshold"`
	Weights   []FieldWeight `mapstructure:"weights"`
}

// LoadWeightsFile reads a weight table, optionally carrying a threshold, and
// applies it on top of base. The format follows the file extension (YAML,
// JSON or TOML); files without an extension are read as YAML.
func LoadWeightsFile(path string, base Config) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return base, errors.Wrapf(err, "failed to read weights file %s", path)
	}

	var file weightsFile
	if err := v.Unmarshal(&file); err != nil {
		return base, errors.Wrapf(err, "failed to parse weights file %s", path)
	}

	if v.IsSet("threshold") {
		base.Threshold = file.Threshold
	}
	if len(file.Weights) > 0 {
		base.Weights = file.Weights
	}

	return base, base.Validate()
}
