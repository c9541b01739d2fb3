// Package ctsadapter bridges the suite.Suite/sampler.Sampler model to
// the concrete conformance-test binary by discovering its case list and
// registering every listed test path in a Suite.
package ctsadapter

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ctspti/pti/pkg/suite"
)

const testLinePrefix = "TEST: "

// Options controls how the CTS binary is driven.
type Options struct {
	KeepTemps bool
	Verbose   bool
}

// Config names the CTS binary and (optionally) a pre-generated case
// list file to use instead of discovering one.
type Config struct {
	DeqpVK     string `json:"deqp-vk" yaml:"deqp-vk"`
	DeqpCases  string `json:"deqp-cases,omitempty" yaml:"deqp-cases,omitempty"`
	Options    Options
}

// ParseCaselistFile reads a case list file (one "TEST: <name>" line
// per test, as produced by --deqp-caselist-export-file) into s.
func ParseCaselistFile(s *suite.Suite, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ctsadapter: opening case list %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, testLinePrefix) {
			continue
		}
		name := strings.TrimPrefix(line, testLinePrefix)
		if _, err := s.Put(name); err != nil {
			return fmt.Errorf("ctsadapter: registering %q: %w", name, err)
		}
	}
	return scanner.Err()
}

// DiscoverCaselist loads cfg.DeqpCases if set, otherwise runs the CTS
// binary with --deqp-runmode=txt-caselist to generate one, then
// registers every discovered test into s.
func DiscoverCaselist(ctx context.Context, s *suite.Suite, cfg Config) error {
	if cfg.DeqpCases != "" {
		return ParseCaselistFile(s, cfg.DeqpCases)
	}

	dir, err := os.MkdirTemp("", "ctsadapter-caselist-")
	if err != nil {
		return fmt.Errorf("ctsadapter: creating temp dir: %w", err)
	}
	if cfg.Options.KeepTemps {
		fmt.Fprintf(os.Stderr, "ctsadapter: keeping temp dir %s\n", dir)
	} else {
		defer os.RemoveAll(dir)
	}

	logFile := filepath.Join(dir, "log.qpa")

	args := []string{
		"--deqp-runmode=txt-caselist",
		"--deqp-log-filename=" + logFile,
		"--deqp-caselist-export-file=" + dir,
	}

	cmd := exec.CommandContext(ctx, cfg.DeqpVK, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ctsadapter: discovering case list: %w (stderr: %s)", err, stderr.String())
	}
	if stderr.Len() > 0 {
		return fmt.Errorf("ctsadapter: discovering case list: unexpected stderr output: %s", stderr.String())
	}

	// The CTS binary always writes these two fixed filenames into its
	// working directory, regardless of --deqp-caselist-export-file.
	required := filepath.Join(dir, "dEQP-VK-cases.txt")
	if err := ParseCaselistFile(s, required); err != nil {
		return fmt.Errorf("ctsadapter: required case list %s: %w", required, err)
	}

	experimental := filepath.Join(dir, "dEQP-VK-experimental-cases.txt")
	if _, err := os.Stat(experimental); err == nil {
		if err := ParseCaselistFile(s, experimental); err != nil {
			return fmt.Errorf("ctsadapter: optional case list %s: %w", experimental, err)
		}
	}

	return nil
}
