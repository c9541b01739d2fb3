package sut

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Branch names a remote/branch pair to resolve into a revision, e.g.
// the default "origin/main".
type Branch struct {
	Remote string `json:"remote" yaml:"remote"`
	Branch string `json:"branch" yaml:"branch"`
}

// SoftwareUnderTest wraps a git checkout that the build manager drives
// through revision resolution and checkout.
type SoftwareUnderTest struct {
	// Source is the path to the git working tree.
	Source string `json:"source" yaml:"source"`
	// Submodules lists submodule paths that must be updated on checkout.
	Submodules []string `json:"submodules,omitempty" yaml:"submodules,omitempty"`
	// Main names the branch resolved by GetMainRevision.
	Main Branch `json:"main" yaml:"main"`
	// GitWrapper overrides the git binary (and any leading wrapper
	// arguments), split on whitespace the same way a build script is.
	GitWrapper string `json:"git-wrapper,omitempty" yaml:"git-wrapper,omitempty"`
}

func (s *SoftwareUnderTest) gitArgv() []string {
	wrapper := s.GitWrapper
	if wrapper == "" {
		wrapper = "git"
	}
	return strings.Fields(wrapper)
}

// execGit runs `<git-wrapper> <args...>` in the SUT's source tree,
// returning trimmed stdout. A non-zero exit, or any non-empty stderr
// when ignoreStderr is false, is reported as an error.
func (s *SoftwareUnderTest) execGit(ctx context.Context, ignoreStderr bool, args ...string) (string, error) {
	argv := append(append([]string{}, s.gitArgv()...), args...)
	if len(argv) == 0 {
		return "", fmt.Errorf("sut: empty git command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = s.Source

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("sut: running %q: %w (stderr: %s)", strings.Join(argv, " "), err, stderr.String())
	}
	if !ignoreStderr && stderr.Len() > 0 {
		return "", fmt.Errorf("sut: %q wrote to stderr: %s", strings.Join(argv, " "), stderr.String())
	}

	return trimASCIISpace(stdout.String()), nil
}

// trimASCIISpace trims only ASCII whitespace, matching the original's
// trimming of git's textual output (Unicode-aware trimming isn't
// needed here and would be the wrong tool for hash/ref text).
func trimASCIISpace(s string) string {
	isSpace := func(b byte) bool {
		switch b {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			return true
		}
		return false
	}
	start := 0
	for start < len(s) && isSpace(s[start]) {
		start++
	}
	end := len(s)
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

// GetBranchRevision resolves branch to the git hash it currently
// points at.
func (s *SoftwareUnderTest) GetBranchRevision(ctx context.Context, branch Branch) (ModuleRevision, error) {
	ref := fmt.Sprintf("%s/%s", branch.Remote, branch.Branch)
	out, err := s.execGit(ctx, false, "rev-parse", ref)
	if err != nil {
		return ModuleRevision{}, fmt.Errorf("sut: resolving %s: %w", ref, err)
	}
	return ParseGitRevision(out)
}

// GetMainRevision resolves the SUT's configured main branch.
func (s *SoftwareUnderTest) GetMainRevision(ctx context.Context) (ModuleRevision, error) {
	return s.GetBranchRevision(ctx, s.Main)
}

// Checkout switches the working tree to rev. Submodule overrides are
// not implemented: Checkout returns ErrSubmoduleOverridesUnsupported
// if rev names any.
func (s *SoftwareUnderTest) Checkout(ctx context.Context, rev Revision) error {
	if len(rev.SubmoduleOverrides) > 0 {
		return ErrSubmoduleOverridesUnsupported
	}

	if _, err := s.execGit(ctx, false, "switch", "-d", rev.Top.String()[len(gitPrefix):]); err != nil {
		return fmt.Errorf("sut: checking out %s: %w", rev.Top, err)
	}

	if len(s.Submodules) > 0 {
		if _, err := s.execGit(ctx, false, "submodule", "update"); err != nil {
			return fmt.Errorf("sut: updating submodules: %w", err)
		}
	}

	return nil
}
