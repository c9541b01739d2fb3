package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctspti/pti/pkg/deqprunner"
	"github.com/ctspti/pti/pkg/metrics"
	"github.com/ctspti/pti/pkg/report"
	"github.com/ctspti/pti/pkg/sut"
)

var (
	tryRunCount   int
	tryRunSeed    int64
	tryRunTimeout time.Duration
)

var devTryRunCmd = &cobra.Command{
	Use:   "dev-try-run",
	Short: "Build the main revision, sample a batch of tests, and run them once",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		s, err := a.discoverSuite(ctx)
		if err != nil {
			return err
		}

		samp, err := a.newSampler(s, tryRunSeed)
		if err != nil {
			return fmt.Errorf("building sampler: %w", err)
		}

		names := make([]string, 0, tryRunCount)
		for _, ref := range samp.SampleN(tryRunCount) {
			names = append(names, s.GetName(ref))
		}
		if len(names) == 0 {
			return fmt.Errorf("sampled zero tests from a suite of %d", s.NumTests())
		}

		rev, err := a.cfg.Sut.GetMainRevision(ctx)
		if err != nil {
			return fmt.Errorf("resolving main revision: %w", err)
		}

		mgr, err := a.newBuildMgr()
		if err != nil {
			return fmt.Errorf("opening build manager: %w", err)
		}
		defer mgr.Close()

		buildPath, err := mgr.GetOrMakeBuild(ctx, sut.Revision{Top: rev})
		if err != nil {
			return fmt.Errorf("building %s: %w", rev, err)
		}
		a.logger.Info("built revision", "revision", rev.String(), "path", buildPath)

		caseFile, err := writeCaseListFile(names)
		if err != nil {
			return fmt.Errorf("writing case list: %w", err)
		}
		defer os.Remove(caseFile)

		m := metrics.New()
		go metrics.Serve(ctx, a.cfg.Metrics.ListenAddress, m)
		progress := report.NewProgress(report.FormatText)

		startedAt := time.Now()
		run := report.NewRun(strconv.FormatInt(startedAt.UnixNano(), 10), rev.String(), startedAt)

		runner, err := deqprunner.Run(ctx, []string{
			a.cfg.DeqpVK,
			"--deqp-case-list-file=" + caseFile,
		}, tryRunTimeout)
		if err != nil {
			return fmt.Errorf("starting run: %w", err)
		}
		defer runner.Close()

		var runErr error
		for ev := range runner.Events() {
			switch ev.Kind {
			case deqprunner.EventLaunch:
				a.logger.Info("launched", "argv0", a.cfg.DeqpVK)
			case deqprunner.EventTest:
				m.ObserveTestResult(ev.Test.Variant)
				run.Observe(ev.Test)
				progress.Test(ev.Test)
			case deqprunner.EventFinished:
				if re, ok := ev.Cause.(*deqprunner.RunError); ok {
					m.ObserveRunnerCause(re.Cause)
				}
				runErr = ev.Cause
			}
		}
		run.Finish(time.Now(), runErr)
		progress.Summary(run)

		if err := a.saveReport(run); err != nil {
			a.logger.Warn("saving run report failed", "error", err.Error())
		}

		if runErr != nil {
			return fmt.Errorf("run ended: %w", runErr)
		}
		if !run.Success {
			return fmt.Errorf("run completed with %d failing test(s)", len(run.Failing))
		}
		return nil
	},
}

func init() {
	devTryRunCmd.Flags().IntVar(&tryRunCount, "count", 10, "number of tests to sample and run")
	devTryRunCmd.Flags().Int64Var(&tryRunSeed, "seed", 1, "sampler RNG seed")
	devTryRunCmd.Flags().DurationVar(&tryRunTimeout, "timeout", 30*time.Second, "timeout for the CTS binary, restarted after each reported test result")
}

func writeCaseListFile(names []string) (string, error) {
	f, err := os.CreateTemp("", "pti-devtool-caselist-")
	if err != nil {
		return "", err
	}
	defer f.Close()

	for _, n := range names {
		if _, err := fmt.Fprintln(f, n); err != nil {
			return "", err
		}
	}
	return f.Name(), nil
}
