package main

import (
	"strconv"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [pr...]",
	Short: "List PR activity entries, newest first",
	Long: `List shows the activity feed: comments, reviews, commits, and CI runs
matching the filter flags. Positional arguments narrow to specific PR
numbers. Comments carry an @xxxxx short ID usable as a target for reply,
resolve, and ack.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := setup()
		if err != nil {
			return err
		}
		defer c.Close()

		repo, err := c.resolveRepo()
		if err != nil {
			return err
		}
		opts := c.queryOptions(repo)
		for _, arg := range args {
			pr, err := strconv.Atoi(arg)
			if err != nil {
				return err
			}
			opts.PRs = append(opts.PRs, pr)
		}

		entries, err := c.app.List(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if c.jsonl {
			emitJSONLSlice(entries)
			return nil
		}
		writeEntries(entries)
		return nil
	},
}

var worklistCmd = &cobra.Command{
	Use:   "worklist",
	Short: "Per-PR activity summary",
	Long: `Worklist aggregates the activity feed into one row per PR: entry
counts by type, review state roll-up, and last activity time. Rows are
ordered by last activity, freshest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := setup()
		if err != nil {
			return err
		}
		defer c.Close()

		repo, err := c.resolveRepo()
		if err != nil {
			return err
		}
		rows, err := c.app.Worklist(cmd.Context(), c.queryOptions(repo))
		if err != nil {
			return err
		}
		if c.jsonl {
			emitJSONLSlice(rows)
			return nil
		}
		writeWorklist(rows)
		return nil
	},
}

var actionableCmd = &cobra.Command{
	Use:   "actionable",
	Short: "What needs attention right now",
	Long: `Actionable classifies PRs into attention categories in priority
order: unaddressed feedback, changes requested, awaiting review, and
stale. --mine restricts to PRs you authored; --reviews to PRs where you
left feedback.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := setup()
		if err != nil {
			return err
		}
		defer c.Close()

		repo, err := c.resolveRepo()
		if err != nil {
			return err
		}

		mine, _ := cmd.Flags().GetBool("mine")
		reviews, _ := cmd.Flags().GetBool("reviews")
		opts := c.queryOptions(repo)
		switch {
		case mine:
			opts.Perspective = "mine"
		case reviews:
			opts.Perspective = "reviews"
		}

		res, err := c.app.Actionable(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if c.jsonl {
			emitJSONLSlice(res.Items())
			return nil
		}
		writeActionable(res)
		return nil
	},
}

func init() {
	actionableCmd.Flags().Bool("mine", false, "only PRs you authored")
	actionableCmd.Flags().Bool("reviews", false, "only PRs where you left feedback")
	rootCmd.AddCommand(listCmd, worklistCmd, actionableCmd)
}
