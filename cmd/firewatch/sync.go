package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync [repo...]",
	Short: "Fetch PR activity into the local cache",
	Long: `Sync pulls PR activity from GitHub into the local cache, one pass per
repository and scope. Incremental by default: only PRs updated since the
last pass are re-fetched. Repos default to --repo, then the config list,
then the git remote of the current directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := setup()
		if err != nil {
			return err
		}
		defer c.Close()

		full, _ := cmd.Flags().GetBool("full")
		scope, _ := cmd.Flags().GetString("scope")

		repos := args
		if len(repos) == 0 && flagRepo != "" {
			repos = []string{flagRepo}
		}
		if len(repos) == 0 && len(c.cfg.Repos) == 0 {
			repo, err := c.resolveRepo()
			if err != nil {
				return err
			}
			repos = []string{repo}
		}

		outcomes, err := c.app.Sync(cmd.Context(), repos, scope, full)
		if err != nil {
			return err
		}

		failed := 0
		for _, o := range outcomes {
			if c.jsonl {
				for _, res := range o.Results {
					emitJSONL(res)
				}
				if o.Err != nil {
					emitJSONL(map[string]interface{}{"ok": false, "repo": o.Repo, "error": o.Err.Error()})
				}
			} else {
				for _, res := range o.Results {
					fmt.Printf("%s %s: %d PRs synced, %d entries (%s, %s)\n",
						res.Repo, res.Scope, res.PRsSynced, res.Entries, res.Mode, res.Duration.Round(timeRound))
					if !res.Clean() {
						fmt.Printf("  %d PRs failed; checkpoint not advanced\n", len(res.Failures))
					}
				}
				if o.Err != nil {
					fmt.Printf("%s: sync failed: %v\n", o.Repo, o.Err)
				}
			}
			if o.Err != nil {
				failed++
				continue
			}
			for _, res := range o.Results {
				if !res.Clean() {
					raiseExitCode(2)
				}
			}
		}

		switch {
		case failed == len(outcomes) && failed > 0:
			raiseExitCode(1)
		case failed > 0:
			raiseExitCode(2)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("full", false, "re-fetch everything instead of changes since the last pass")
	syncCmd.Flags().String("scope", "", "limit to one scope: open or closed")
	rootCmd.AddCommand(syncCmd)
}
