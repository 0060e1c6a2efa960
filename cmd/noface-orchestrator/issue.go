package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/femtomc/noface/internal/control"
	"github.com/femtomc/noface/internal/types"
)

var (
	flagIssueTitle       string
	flagIssueDescription string
	flagIssueType        string
	flagManifestPrimary  []string
	flagManifestRead     []string
	flagManifestForbid   []string
)

func manifestFromFlags() *types.Manifest {
	if len(flagManifestPrimary) == 0 && len(flagManifestRead) == 0 && len(flagManifestForbid) == 0 {
		return nil
	}
	return &types.Manifest{
		PrimaryFiles:   flagManifestPrimary,
		ReadFiles:      flagManifestRead,
		ForbiddenFiles: flagManifestForbid,
	}
}

func contentFromFlags() types.IssueContent {
	return types.IssueContent{
		Title:       flagIssueTitle,
		Description: flagIssueDescription,
		IssueType:   flagIssueType,
	}
}

var fileIssueCmd = &cobra.Command{
	Use:   "file-issue <id>",
	Short: "Create a new pending issue directly in the state store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := control.NewClient(flagAddr).FileIssue(args[0], contentFromFlags(), manifestFromFlags()); err != nil {
			return err
		}
		fmt.Printf("filed %s\n", args[0])
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <id>",
	Short: "Show the full stored record for an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issue, err := control.NewClient(flagAddr).InspectIssue(args[0])
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(issue, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var commentCmd = &cobra.Command{
	Use:   "comment <id> <body>",
	Short: "Append a comment to an issue's thread",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		author := GetCurrentUser()
		if err := control.NewClient(flagAddr).AddComment(args[0], author, args[1]); err != nil {
			return err
		}
		fmt.Println("comment added")
		return nil
	},
}

var updateIssueCmd = &cobra.Command{
	Use:   "update-issue <id>",
	Short: "Replace an issue's content and manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := control.NewClient(flagAddr).UpdateIssueContent(args[0], contentFromFlags(), manifestFromFlags()); err != nil {
			return err
		}
		fmt.Printf("updated %s\n", args[0])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{fileIssueCmd, updateIssueCmd} {
		c.Flags().StringVar(&flagIssueTitle, "title", "", "issue title")
		c.Flags().StringVar(&flagIssueDescription, "description", "", "issue description")
		c.Flags().StringVar(&flagIssueType, "type", "", "issue type")
		c.Flags().StringSliceVar(&flagManifestPrimary, "manifest-primary", nil, "files this issue is primarily responsible for")
		c.Flags().StringSliceVar(&flagManifestRead, "manifest-read", nil, "files this issue may read but not modify")
		c.Flags().StringSliceVar(&flagManifestForbid, "manifest-forbid", nil, "files this issue must not touch")
	}
	rootCmd.AddCommand(fileIssueCmd, inspectCmd, commentCmd, updateIssueCmd)
}
