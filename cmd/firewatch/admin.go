package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/firewatch/firewatch/internal/timeutil"
)

var freezeCmd = &cobra.Command{
	Use:   "freeze <pr>",
	Short: "Hide new activity on a PR",
	Long: `Freeze masks activity on a PR newer than a point in time (default:
now) from queries. Sync keeps capturing; unfreeze reveals everything
again.`,
	Args: cobra.ExactArgs(1),
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
		pr, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("freeze expects a PR number: %q", args[0])
		}

		at, _ := cmd.Flags().GetString("at")
		var freezeAt time.Time
		if at != "" {
			freezeAt, err = timeutil.ParseDate(at)
			if err != nil {
				return err
			}
		}

		if err := c.app.Freeze(cmd.Context(), repo, pr, freezeAt); err != nil {
			return err
		}
		if c.jsonl {
			emitJSONL(map[string]interface{}{"ok": true, "repo": repo, "pr": pr, "frozen": true})
		} else {
			fmt.Printf("frozen %s#%d\n", repo, pr)
		}
		return nil
	},
}

var unfreezeCmd = &cobra.Command{
	Use:   "unfreeze <pr>",
	Short: "Lift a freeze from a PR",
	Args:  cobra.ExactArgs(1),
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
		pr, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("unfreeze expects a PR number: %q", args[0])
		}
		if err := c.app.Unfreeze(cmd.Context(), repo, pr); err != nil {
			return err
		}
		if c.jsonl {
			emitJSONL(map[string]interface{}{"ok": true, "repo": repo, "pr": pr, "frozen": false})
		} else {
			fmt.Printf("unfrozen %s#%d\n", repo, pr)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Cache state per repo and scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := setup()
		if err != nil {
			return err
		}
		defer c.Close()

		statuses, frozen, err := c.app.Status(cmd.Context())
		if err != nil {
			return err
		}
		if c.jsonl {
			emitJSONLSlice(statuses)
			emitJSONLSlice(frozen)
			return nil
		}

		if len(statuses) == 0 {
			fmt.Println("cache is empty; run firewatch sync")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "REPO\tSCOPE\tLAST SYNC\tPRS\tENTRIES\tFRESH")
		for _, st := range statuses {
			fresh := "yes"
			if st.Stale {
				fresh = "stale"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				st.Repo, st.Scope, formatTime(st.LastSync), st.PRCount, st.Entries, fresh)
		}
		_ = w.Flush()

		if len(frozen) > 0 {
			fmt.Println()
			fmt.Println("Frozen PRs:")
			for _, f := range frozen {
				fmt.Printf("  %s#%d since %s\n", f.Repo, f.PR, formatTime(f.FrozenAt))
			}
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear <repo>",
	Short: "Delete all cached data for a repo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := setup()
		if err != nil {
			return err
		}
		defer c.Close()

		repo := args[0]
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && !c.jsonl {
			ok, err := confirm(fmt.Sprintf("delete all cached data for %s?", repo))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("cancelled")
				return nil
			}
		}

		if err := c.app.Clear(cmd.Context(), repo); err != nil {
			return err
		}
		if c.jsonl {
			emitJSONL(map[string]interface{}{"ok": true, "repo": repo, "cleared": true})
		} else {
			fmt.Printf("cleared %s\n", repo)
		}
		return nil
	},
}

func init() {
	freezeCmd.Flags().String("at", "", "freeze point as ISO date (default: now)")
	clearCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	rootCmd.AddCommand(freezeCmd, unfreezeCmd, statusCmd, clearCmd)
}
