package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/femtomc/noface/internal/control"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Suspend dispatch of new issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := control.NewClient(flagAddr).Pause(); err != nil {
			return err
		}
		fmt.Println("paused")
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Clear a pause",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := control.NewClient(flagAddr).Resume(); err != nil {
			return err
		}
		fmt.Println("resumed")
		return nil
	},
}

var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Run exactly one iteration while paused",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := control.NewClient(flagAddr).Step(); err != nil {
			return err
		}
		fmt.Println("step queued")
		return nil
	},
}

var interruptCmd = &cobra.Command{
	Use:   "interrupt",
	Short: "Cancel every in-flight worker task immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := control.NewClient(flagAddr).Interrupt(); err != nil {
			return err
		}
		fmt.Println("interrupted")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd, resumeCmd, stepCmd, interruptCmd)
}
