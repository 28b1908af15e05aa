// Package config loads trackproc.Option sets from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/arkflow/trackproc"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be expressed in YAML as a
// string ("30s", "2m") instead of raw nanoseconds.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string into d.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// File is the on-disk shape of a Processor's non-collaborator
// configuration (spec.md §6 collaborators — TokenStore, MessageSource,
// EventValidator, BatchProcessor — are supplied in code, not YAML).
//
// Grounded on the teacher-adjacent GoCodeAlone-modular config/loader.go,
// narrowed from that package's general multi-source/reflection-based
// loader down to a single YAML file, since trackproc has a small, fixed
// set of scalar settings rather than an open-ended module registry.
type File struct {
	Name                    string   `yaml:"name"`
	InitialSegmentCount     int      `yaml:"initial_segment_count"`
	TailInitialToken        bool     `yaml:"tail_initial_token"`
	ClaimExtensionThreshold Duration `yaml:"claim_extension_threshold"`
	BatchSize               int      `yaml:"batch_size"`
	InboxCapacity           int      `yaml:"inbox_capacity"`
	IdleReadDelay           Duration `yaml:"idle_read_delay"`
}

// Load reads and parses a YAML file at path into a File.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("%w: reading %s: %v", trackproc.ErrConfiguration, path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("%w: parsing %s: %v", trackproc.ErrConfiguration, path, err)
	}
	return f, nil
}

// Options converts f into the subset of trackproc.Option values a YAML
// file can express. Zero-valued scalar fields are skipped so they fall
// through to defaultConfig's defaults rather than overriding them with
// zero.
func (f File) Options() []trackproc.Option {
	var opts []trackproc.Option

	if f.Name != "" {
		opts = append(opts, trackproc.WithName(f.Name))
	}
	if f.InitialSegmentCount > 0 {
		opts = append(opts, trackproc.WithInitialSegmentCount(f.InitialSegmentCount))
	}
	if f.TailInitialToken {
		opts = append(opts, trackproc.WithTailInitialToken())
	}
	if f.ClaimExtensionThreshold > 0 {
		opts = append(opts, trackproc.WithClaimExtensionThreshold(time.Duration(f.ClaimExtensionThreshold)))
	}
	if f.BatchSize > 0 {
		opts = append(opts, trackproc.WithBatchSize(f.BatchSize))
	}
	if f.InboxCapacity > 0 {
		opts = append(opts, trackproc.WithInboxCapacity(f.InboxCapacity))
	}
	if f.IdleReadDelay > 0 {
		opts = append(opts, trackproc.WithIdleReadDelay(time.Duration(f.IdleReadDelay)))
	}

	return opts
}
