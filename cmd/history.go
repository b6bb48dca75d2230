package cmd

import (
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/windmill-git-sync/windmill-git-sync/internal/gitsync"
)

func newHistoryCommand(g *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the backup commits of the working directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config(cmd)
			if err != nil {
				return err
			}

			repo, err := gitsync.Open(cfg.WorkspaceDir)
			if err != nil {
				return err
			}

			commits, err := repo.Log(limit)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Commit", "Date", "Author", "Message")
			for _, c := range commits {
				subject, _, _ := strings.Cut(c.Message, "\n")
				if err := table.Append([]string{c.Hash[:12], c.When.UTC().Format(time.RFC3339), c.Author, subject}); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of commits to list, 0 lists all")

	return cmd
}
