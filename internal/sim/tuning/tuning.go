package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the configuration surface consumed by the placement environment.
type Config struct {
	MinItemSize int `yaml:"min_item_size" json:"min_item_size"`
	MaxItemSize int `yaml:"max_item_size" json:"max_item_size"`
	MinNumItems int `yaml:"min_num_items" json:"min_num_items"`
	MaxNumItems int `yaml:"max_num_items" json:"max_num_items"`

	MinBinSize int `yaml:"min_bin_size" json:"min_bin_size"`
	MaxBinSize int `yaml:"max_bin_size" json:"max_bin_size"`
	TotalBins  int `yaml:"total_bins" json:"total_bins"`

	NumberOfCopies        int `yaml:"number_of_copies" json:"number_of_copies"`
	NumberOfCriticalItems int `yaml:"number_of_critical_items" json:"number_of_critical_items"`

	// Alpha weighs the occupancy term against the communication term.
	Alpha float64 `yaml:"alpha" json:"alpha"`

	// CommProbability is the chance that two logical items communicate.
	CommProbability float64 `yaml:"comm_probability" json:"comm_probability"`

	// MaxSteps bounds an episode; 0 disables the budget.
	MaxSteps int `yaml:"max_steps" json:"max_steps"`

	Seed     int64 `yaml:"seed" json:"seed"`
	EvalSeed int64 `yaml:"eval_seed" json:"eval_seed"`

	Reward Reward `yaml:"reward" json:"reward"`
}

// Reward holds the fixed values that terminal causes override the shaped reward with.
type Reward struct {
	Success       float64 `yaml:"success_reward" json:"success_reward"`
	Infeasible    float64 `yaml:"infeasible_penalty" json:"infeasible_penalty"`
	InvalidAction float64 `yaml:"invalid_action_penalty" json:"invalid_action_penalty"`
	MaxSteps      float64 `yaml:"max_steps_penalty" json:"max_steps_penalty"`
}

func Defaults() Config {
	return Config{
		MinItemSize:           200,
		MaxItemSize:           800,
		MinNumItems:           10,
		MaxNumItems:           10,
		MinBinSize:            1000,
		MaxBinSize:            2000,
		TotalBins:             4,
		NumberOfCopies:        2,
		NumberOfCriticalItems: 3,
		Alpha:                 0.3,
		CommProbability:       0.3,
		Seed:                  3,
		EvalSeed:              1003,
		Reward: Reward{
			Success:       10,
			Infeasible:    -10,
			InvalidAction: -100,
			MaxSteps:      -10,
		},
	}
}

// Load reads a tuning file on top of Defaults and validates the result.
func Load(path string) (Config, error) {
	c := Defaults()
	if strings.TrimSpace(path) == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("tuning.yaml: %w", err)
	}
	return c, nil
}

// ValidationError lists every problem found in a Config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Validate rejects configurations the generator cannot honor.
func (c Config) Validate() error {
	var probs []string
	positive := func(name string, v int) {
		if v <= 0 {
			probs = append(probs, fmt.Sprintf("%s must be positive (got %d)", name, v))
		}
	}
	ordered := func(lo, hi string, a, b int) {
		if a > b {
			probs = append(probs, fmt.Sprintf("%s > %s (%d > %d)", lo, hi, a, b))
		}
	}

	positive("min_item_size", c.MinItemSize)
	positive("max_item_size", c.MaxItemSize)
	positive("min_num_items", c.MinNumItems)
	positive("max_num_items", c.MaxNumItems)
	positive("min_bin_size", c.MinBinSize)
	positive("max_bin_size", c.MaxBinSize)
	positive("total_bins", c.TotalBins)
	positive("number_of_copies", c.NumberOfCopies)

	ordered("min_item_size", "max_item_size", c.MinItemSize, c.MaxItemSize)
	ordered("min_num_items", "max_num_items", c.MinNumItems, c.MaxNumItems)
	ordered("min_bin_size", "max_bin_size", c.MinBinSize, c.MaxBinSize)

	if c.NumberOfCriticalItems < 0 {
		probs = append(probs, fmt.Sprintf("number_of_critical_items must not be negative (got %d)", c.NumberOfCriticalItems))
	}
	if c.NumberOfCriticalItems > c.MaxNumItems {
		probs = append(probs, fmt.Sprintf("number_of_critical_items exceeds max_num_items (%d > %d)", c.NumberOfCriticalItems, c.MaxNumItems))
	}
	if c.MinNumItems < c.NumberOfCriticalItems {
		probs = append(probs, fmt.Sprintf("min_num_items < number_of_critical_items (%d < %d)", c.MinNumItems, c.NumberOfCriticalItems))
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		probs = append(probs, fmt.Sprintf("alpha must be in [0,1] (got %g)", c.Alpha))
	}
	if c.CommProbability < 0 || c.CommProbability > 1 {
		probs = append(probs, fmt.Sprintf("comm_probability must be in [0,1] (got %g)", c.CommProbability))
	}
	if c.MaxSteps < 0 {
		probs = append(probs, fmt.Sprintf("max_steps must not be negative (got %d)", c.MaxSteps))
	}

	if len(probs) > 0 {
		return &ValidationError{Problems: probs}
	}
	return nil
}

// MaxTasks is the largest number of placement tasks a generated instance can hold.
func (c Config) MaxTasks() int {
	return c.MaxNumItems - c.NumberOfCriticalItems + c.NumberOfCriticalItems*c.NumberOfCopies
}

// Digest is the sha256 of the canonical JSON form.
func (c Config) Digest() string {
	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
