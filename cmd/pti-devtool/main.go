// Command pti-devtool drives a conformance-test binary against a
// software-under-test checkout: sampling tests, building the SUT, and
// running a batch of samples through the binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ctspti/pti/pkg/ptierr"
)

var (
	cfgFile string
	verbose bool
	version = "dev" // set by build flags
)

var rootCmd = &cobra.Command{
	Use:     "pti-devtool",
	Short:   "Drives a conformance test binary against a sampled, built SUT revision",
	Long:    `pti-devtool samples tests from a conformance test binary's case list, builds a software-under-test revision on demand, and runs sampled batches through the binary, reporting results and classified failures.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./pti.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(devSampleCmd)
	rootCmd.AddCommand(devTryRunCmd)
	rootCmd.AddCommand(devShowMainCmd)
	rootCmd.AddCommand(devBuildMainCmd)
	rootCmd.AddCommand(clearBuildFailCmd)
}

// Subcommands are defined in separate files:
// - devSampleCmd in dev_sample.go
// - devTryRunCmd in dev_try_run.go
// - devShowMainCmd and devBuildMainCmd in dev_main.go
// - clearBuildFailCmd in clear_build_fail.go

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		if kind := ptierr.Classify(err); kind != ptierr.KindUnknown {
			fmt.Printf("pti-devtool: %s: %v\n", kind, err)
		} else {
			fmt.Printf("pti-devtool: %v\n", err)
		}
		os.Exit(1)
	}
}
