package snapshot

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"cades.ai/internal/sim/problem"
	"cades.ai/internal/sim/tuning"
)

func TestScenario_WriteRead(t *testing.T) {
	cfg := tuning.Defaults()
	rng := rand.New(rand.NewSource(9))
	var ins []problem.Instance
	for i := 0; i < 3; i++ {
		in, err := problem.Generate(cfg, rng)
		if err != nil {
			t.Fatal(err)
		}
		ins = append(ins, *in)
	}

	p := filepath.Join(t.TempDir(), "sc", "eval.scenario.zst")
	if err := WriteScenario(p, ScenarioV1{Header: Header{Name: "eval", ConfigDigest: cfg.Digest()}, Instances: ins}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadScenario(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header.Count != 3 || got.Header.Version != Version || got.Header.ConfigDigest != cfg.Digest() {
		t.Fatalf("header: %+v", got.Header)
	}
	for i := range ins {
		a, b := ins[i], got.Instances[i]
		if len(a.Items) != len(b.Items) || len(a.Links) != len(b.Links) || a.BinCapacities[0] != b.BinCapacities[0] {
			t.Fatalf("instance %d differs", i)
		}
		for j := range a.Items {
			if a.Items[j] != b.Items[j] {
				t.Fatalf("instance %d item %d differs", i, j)
			}
		}
	}

	loaded, err := LoadInstances(p)
	if err != nil || len(loaded) != 3 {
		t.Fatalf("LoadInstances: %d %v", len(loaded), err)
	}
}

func TestScenario_RejectsInvalidInstance(t *testing.T) {
	bad := problem.Instance{NumItems: 1, Items: []problem.Item{{ID: 0, Size: 0, GroupID: problem.NoGroup}}, BinCapacities: []int{1}}
	p := filepath.Join(t.TempDir(), "bad.zst")
	if err := WriteScenario(p, ScenarioV1{Instances: []problem.Instance{bad}}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadInstances_JSON(t *testing.T) {
	dir := t.TempDir()
	one := filepath.Join(dir, "one.json")
	_ = os.WriteFile(one, []byte(`{"item_sizes":[10,20],"critical":[1],"number_of_copies":2,"bin_capacities":[50,50]}`), 0o644)
	ins, err := LoadInstances(one)
	if err != nil || len(ins) != 1 || len(ins[0].Items) != 3 {
		t.Fatalf("single spec: %v %v", ins, err)
	}

	many := filepath.Join(dir, "many.json")
	_ = os.WriteFile(many, []byte(`[{"item_sizes":[1],"bin_capacities":[1]},{"item_sizes":[2],"bin_capacities":[2]}]`), 0o644)
	if ins, err = LoadInstances(many); err != nil || len(ins) != 2 {
		t.Fatalf("spec list: %v %v", ins, err)
	}

	broken := filepath.Join(dir, "broken.json")
	_ = os.WriteFile(broken, []byte(`{"item_sizes":[1],"critical":[4],"bin_capacities":[1]}`), 0o644)
	if _, err := LoadInstances(broken); err == nil {
		t.Fatalf("expected bad critical index")
	}
}
