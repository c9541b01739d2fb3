// Package config loads pti's YAML configuration file.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ctspti/pti/pkg/buildmgr"
	"github.com/ctspti/pti/pkg/ctsadapter"
	"github.com/ctspti/pti/pkg/sut"
)

// Config is the top-level configuration for a pti run.
type Config struct {
	DeqpVK    string                `yaml:"deqp-vk"`
	DeqpCases string                `yaml:"deqp-cases,omitempty"`
	KeepTemps bool                  `yaml:"keep-temps"`
	Sut       sut.SoftwareUnderTest `yaml:"sut"`
	Builds    buildmgr.Config       `yaml:"builds"`
	Logging   LoggingConfig         `yaml:"logging"`
	Metrics   MetricsConfig         `yaml:"metrics"`
	Sampler   SamplerConfig         `yaml:"sampler"`
	Reports   ReportConfig          `yaml:"reports"`
}

// LoggingConfig controls structured-log verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the optional Prometheus exposition server.
// ListenAddress empty disables it.
type MetricsConfig struct {
	ListenAddress string `yaml:"listen-address,omitempty"`
}

// ReportConfig controls where run reports are stored. OutputDir empty
// disables report persistence entirely.
type ReportConfig struct {
	OutputDir string `yaml:"output-dir,omitempty"`
	KeepLastN int    `yaml:"keep-last-n,omitempty"`
}

// SamplerConfig controls how test paths are split into components.
type SamplerConfig struct {
	Separator string `yaml:"separator"`
}

// CtsOptions adapts this config into the shape ctsadapter.Config expects.
func (c *Config) CtsOptions() ctsadapter.Config {
	return ctsadapter.Config{
		DeqpVK:    c.DeqpVK,
		DeqpCases: c.DeqpCases,
		Options:   ctsadapter.Options{KeepTemps: c.KeepTemps},
	}
}

// DefaultConfig returns a configuration usable as a starting point for Save.
func DefaultConfig() *Config {
	return &Config{
		DeqpVK: "deqp-vk",
		Sut: sut.SoftwareUnderTest{
			Main: sut.Branch{Remote: "origin", Branch: "main"},
		},
		Builds: buildmgr.Config{
			ArtefactPath: "/var/cache/pti/artefacts",
			MaxArtefacts: buildmgr.DefaultMaxArtefacts,
			BuildPath:    "/src/vk-gl-cts",
			BuildScript:  "/src/build.sh",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Sampler: SamplerConfig{Separator: "."},
	}
}

// Load reads and strictly parses the YAML file at path. An unset path
// falls back to "pti.yaml" in the current directory; a missing file
// at that default path yields DefaultConfig() rather than an error,
// since there's nothing wrong with running with defaults by default.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	usedDefault := path == ""
	if usedDefault {
		path = "pti.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && usedDefault {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if v := os.Getenv("PTI_DEQP_VK"); v != "" {
		cfg.DeqpVK = v
	}

	return cfg, nil
}

// Save writes cfg as YAML to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// Validate checks required fields are present.
func (c *Config) Validate() error {
	if c.DeqpVK == "" {
		return fmt.Errorf("config: deqp-vk is required")
	}
	if c.Sut.Source == "" {
		return fmt.Errorf("config: sut.source is required")
	}
	if c.Builds.ArtefactPath == "" {
		return fmt.Errorf("config: builds.artefact-path is required")
	}
	if c.Builds.BuildScript == "" {
		return fmt.Errorf("config: builds.build-script is required")
	}
	if c.Sampler.Separator == "" {
		return fmt.Errorf("config: sampler.separator is required")
	}
	return nil
}
