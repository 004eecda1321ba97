// Package snapshot stores problem instances as scenario files: a JSON header line
// followed by a gob payload, zstd-compressed.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"cades.ai/internal/sim/problem"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
	Count   int    `json:"count"`
	// ConfigDigest is the tuning digest the instances were drawn under, if any.
	ConfigDigest string `json:"config_digest,omitempty"`
}

type ScenarioV1 struct {
	Header    Header             `json:"header"`
	Instances []problem.Instance `json:"instances"`
}

func WriteScenario(path string, sc ScenarioV1) (err error) {
	sc.Header.Version = Version
	sc.Header.Count = len(sc.Instances)
	for i := range sc.Instances {
		if verr := sc.Instances[i].Validate(); verr != nil {
			return fmt.Errorf("instance %d: %w", i, verr)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(sc.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&sc); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func ReadScenario(path string) (ScenarioV1, error) {
	var sc ScenarioV1
	f, err := os.Open(path)
	if err != nil {
		return sc, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return sc, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return sc, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return sc, fmt.Errorf("parse header: %w", err)
	}
	if h.Version != Version {
		return sc, fmt.Errorf("unsupported scenario version %d", h.Version)
	}

	if err := gob.NewDecoder(br).Decode(&sc); err != nil {
		return sc, fmt.Errorf("gob decode: %w", err)
	}
	for i := range sc.Instances {
		if err := sc.Instances[i].Validate(); err != nil {
			return sc, fmt.Errorf("instance %d: %w", i, err)
		}
	}
	return sc, nil
}

// LoadInstances reads either a compressed scenario file or a hand-written JSON file
// holding one ScenarioSpec or a list of them.
func LoadInstances(path string) ([]*problem.Instance, error) {
	if !strings.HasSuffix(path, ".json") {
		sc, err := ReadScenario(path)
		if err != nil {
			return nil, err
		}
		out := make([]*problem.Instance, len(sc.Instances))
		for i := range sc.Instances {
			out[i] = sc.Instances[i].Clone()
		}
		return out, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var specs []problem.ScenarioSpec
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(raw, &specs)
	} else {
		var one problem.ScenarioSpec
		err = json.Unmarshal(raw, &one)
		specs = append(specs, one)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	out := make([]*problem.Instance, 0, len(specs))
	for i, s := range specs {
		in, err := problem.FromSpec(s)
		if err != nil {
			return nil, fmt.Errorf("%s: scenario %d: %w", filepath.Base(path), i, err)
		}
		out = append(out, in)
	}
	return out, nil
}
