package main

import (
	"context"
	"fmt"

	"github.com/ctspti/pti/pkg/buildmgr"
	"github.com/ctspti/pti/pkg/config"
	"github.com/ctspti/pti/pkg/ctsadapter"
	"github.com/ctspti/pti/pkg/logging"
	"github.com/ctspti/pti/pkg/report"
	"github.com/ctspti/pti/pkg/sampler"
	"github.com/ctspti/pti/pkg/suite"
)

// app bundles the components every subcommand needs, built from the
// loaded config.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
}

func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	level := logging.Level(cfg.Logging.Level)
	if verbose {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:  level,
		Format: logging.Format(cfg.Logging.Format),
	})

	return &app{cfg: cfg, logger: logger}, nil
}

// discoverSuite runs the configured case-list discovery and returns
// the resulting Suite.
func (a *app) discoverSuite(ctx context.Context) (*suite.Suite, error) {
	s := suite.New(a.cfg.Sampler.Separator)
	if err := ctsadapter.DiscoverCaselist(ctx, s, a.cfg.CtsOptions()); err != nil {
		return nil, fmt.Errorf("discovering case list: %w", err)
	}
	return s, nil
}

// newSampler builds a sampler.Sampler over s, seeded with seed.
func (a *app) newSampler(s *suite.Suite, seed int64) (*sampler.Sampler, error) {
	return sampler.New(s, seed)
}

// newBuildMgr opens the build manager rooted at the configured
// artefact path, using the configured SUT for checkouts.
func (a *app) newBuildMgr() (*buildmgr.BuildMgr, error) {
	return buildmgr.New(a.cfg.Builds, &a.cfg.Sut)
}

// saveReport persists r under the configured reports directory. A
// blank OutputDir disables persistence entirely, so callers can always
// invoke this unconditionally.
func (a *app) saveReport(r *report.Run) error {
	if a.cfg.Reports.OutputDir == "" {
		return nil
	}
	storage, err := report.NewStorage(a.cfg.Reports.OutputDir, a.cfg.Reports.KeepLastN)
	if err != nil {
		return err
	}
	path, err := storage.Save(r)
	if err != nil {
		return err
	}
	a.logger.Info("run report saved", "path", path)
	return nil
}
