package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	sampleCount int
	sampleSeed  int64
)

var devSampleCmd = &cobra.Command{
	Use:   "dev-sample",
	Short: "Discover the case list and print a sampled batch of test names",
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
		a.logger.Info("discovered case list", "tests", s.NumTests())

		samp, err := a.newSampler(s, sampleSeed)
		if err != nil {
			return fmt.Errorf("building sampler: %w", err)
		}

		for _, ref := range samp.SampleN(sampleCount) {
			fmt.Println(s.GetName(ref))
		}
		return nil
	},
}

func init() {
	devSampleCmd.Flags().IntVar(&sampleCount, "count", 10, "number of tests to sample")
	devSampleCmd.Flags().Int64Var(&sampleSeed, "seed", 1, "sampler RNG seed")
}
