package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearFailID uint64

var clearBuildFailCmd = &cobra.Command{
	Use:   "clear-build-fail",
	Short: "Reset a failed build back to pending so it can be retried",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		mgr, err := a.newBuildMgr()
		if err != nil {
			return fmt.Errorf("opening build manager: %w", err)
		}
		defer mgr.Close()

		if err := mgr.ClearFail(clearFailID); err != nil {
			return fmt.Errorf("clearing build %d: %w", clearFailID, err)
		}
		fmt.Printf("build %d cleared\n", clearFailID)
		return nil
	},
}

func init() {
	clearBuildFailCmd.Flags().Uint64Var(&clearFailID, "id", 0, "build id to clear")
	clearBuildFailCmd.MarkFlagRequired("id")
}
