package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/femtomc/noface/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report run state, worker slots and counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := control.NewClient(flagAddr)
		report, err := client.Status()
		if err != nil {
			return err
		}
		if GetOutput() == "json" {
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}
		fmt.Printf("state: %s\n", report.State)
		fmt.Printf("counters: %+v\n", report.Counters)
		for i, slot := range report.Workers {
			issueID := "-"
			if slot.CurrentIssueID != nil {
				issueID = *slot.CurrentIssueID
			}
			fmt.Printf("  worker[%d] status=%-9s issue=%s\n", i, slot.Status, issueID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
