package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pti.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadMissingDefaultPathReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(cwd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DeqpVK != "deqp-vk" {
		t.Fatalf("DeqpVK = %q, want default", cfg.DeqpVK)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := writeConfig(t, `
deqp-vk: /opt/deqp-vk
sut:
  source: /src/vk-gl-cts
  main:
    remote: origin
    branch: main
builds:
  artefact-path: /var/cache/pti
  max-artefacts: 50
  build-path: /src/vk-gl-cts
  build-script: /src/build.sh
logging:
  level: debug
  format: json
sampler:
  separator: "."
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DeqpVK != "/opt/deqp-vk" {
		t.Fatalf("DeqpVK = %q", cfg.DeqpVK)
	}
	if cfg.Sut.Source != "/src/vk-gl-cts" {
		t.Fatalf("Sut.Source = %q", cfg.Sut.Source)
	}
	if cfg.Builds.MaxArtefacts != 50 {
		t.Fatalf("Builds.MaxArtefacts = %d", cfg.Builds.MaxArtefacts)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Logging.Level = %q", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
deqp-vk: /opt/deqp-vk
not-a-real-field: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for an unknown config field")
	}
}

func TestValidateRequiresArtefactPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sut.Source = "/src"
	cfg.Builds.ArtefactPath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to reject an empty artefact path")
	}
}
