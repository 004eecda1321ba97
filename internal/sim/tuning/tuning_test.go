package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults_Valid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoad_RepoConfig(t *testing.T) {
	c, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load tuning.yaml: %v", err)
	}
	if c.TotalBins != 4 || c.NumberOfCopies != 2 || c.NumberOfCriticalItems != 3 {
		t.Fatalf("unexpected config: %+v", c)
	}
	if c.Reward.InvalidAction >= 0 {
		t.Fatalf("invalid action penalty should be negative: %v", c.Reward.InvalidAction)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(p, []byte("total_bins: 7\nalpha: 0.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.TotalBins != 7 || c.Alpha != 0.5 {
		t.Fatalf("overrides not applied: %+v", c)
	}
	if c.MinItemSize != 200 || c.MaxBinSize != 2000 {
		t.Fatalf("defaults lost: %+v", c)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(p, []byte("min_item_size: 900\nmax_item_size: 100\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(p)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %T: %v", err, err)
	}
}

func TestValidate_Cases(t *testing.T) {
	cases := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{"item range", func(c *Config) { c.MinItemSize = 900 }, "min_item_size > max_item_size"},
		{"bin range", func(c *Config) { c.MinBinSize = 3000 }, "min_bin_size > max_bin_size"},
		{"count range", func(c *Config) { c.MinNumItems = 11 }, "min_num_items > max_num_items"},
		{"zero bins", func(c *Config) { c.TotalBins = 0 }, "total_bins must be positive"},
		{"negative size", func(c *Config) { c.MinItemSize = -1 }, "min_item_size must be positive"},
		{"zero copies", func(c *Config) { c.NumberOfCopies = 0 }, "number_of_copies must be positive"},
		{"too many critical", func(c *Config) { c.NumberOfCriticalItems = 11 }, "exceeds max_num_items"},
		{"min items below critical", func(c *Config) { c.MinNumItems = 2; c.MaxNumItems = 10 }, "min_num_items < number_of_critical_items"},
		{"alpha", func(c *Config) { c.Alpha = 1.5 }, "alpha must be in [0,1]"},
		{"comm prob", func(c *Config) { c.CommProbability = -0.1 }, "comm_probability"},
		{"max steps", func(c *Config) { c.MaxSteps = -3 }, "max_steps"},
	}
	for _, tc := range cases {
		c := Defaults()
		tc.mut(&c)
		err := c.Validate()
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error %q does not mention %q", tc.name, err.Error(), tc.want)
		}
	}
}

func TestMaxTasks(t *testing.T) {
	c := Defaults()
	// 7 plain items + 3 critical items * 2 copies.
	if got := c.MaxTasks(); got != 13 {
		t.Fatalf("MaxTasks=%d want 13", got)
	}
}

func TestDigest_Stable(t *testing.T) {
	a, b := Defaults(), Defaults()
	if a.Digest() != b.Digest() {
		t.Fatalf("digest not stable")
	}
	b.Alpha = 0.9
	if a.Digest() == b.Digest() {
		t.Fatalf("digest should change with config")
	}
}
