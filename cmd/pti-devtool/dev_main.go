package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctspti/pti/pkg/sut"
)

var devShowMainCmd = &cobra.Command{
	Use:   "dev-show-main",
	Short: "Resolve and print the revision the configured main branch currently points at",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		rev, err := a.cfg.Sut.GetMainRevision(cmd.Context())
		if err != nil {
			return fmt.Errorf("resolving main revision: %w", err)
		}
		fmt.Println(rev)
		return nil
	},
}

var devBuildMainCmd = &cobra.Command{
	Use:   "dev-build-main",
	Short: "Build (or reuse a cached build of) the revision the main branch currently points at",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		rev, err := a.cfg.Sut.GetMainRevision(ctx)
		if err != nil {
			return fmt.Errorf("resolving main revision: %w", err)
		}

		mgr, err := a.newBuildMgr()
		if err != nil {
			return fmt.Errorf("opening build manager: %w", err)
		}
		defer mgr.Close()

		path, err := mgr.GetOrMakeBuild(ctx, sut.Revision{Top: rev})
		if err != nil {
			return fmt.Errorf("building %s: %w", rev, err)
		}
		fmt.Println(path)
		return nil
	},
}
