package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firewatch/firewatch/internal/feedback"
)

var replyCmd = &cobra.Command{
	Use:   "reply <pr|id> <body>",
	Short: "Reply to a comment or a PR",
	Long: `Reply posts a response. A comment short ID (@xxxxx) or node ID
replies in that comment's thread; a PR number posts a top-level PR
comment.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMutation(cmd, func(c *cli, repo string) (*feedback.Result, error) {
			return c.app.Reply(cmd.Context(), repo, args[0], args[1])
		})
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Mark a comment handled",
	Long: `Resolve marks a comment handled: review comments get their thread
resolved on GitHub, issue comments get a thumbs-up reaction. Both record
a local acknowledgement.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMutation(cmd, func(c *cli, repo string) (*feedback.Result, error) {
			return c.app.Resolve(cmd.Context(), repo, args[0])
		})
	},
}

var ackCmd = &cobra.Command{
	Use:   "ack <pr|id>...",
	Short: "Acknowledge comments",
	Long: `Ack acknowledges feedback with a thumbs-up reaction and a local
record. A comment ID acks that comment; a PR number acks every currently
unaddressed comment on the PR.`,
	Args: cobra.MinimumNArgs(1),
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
		for _, target := range args {
			res, err := c.app.Ack(cmd.Context(), repo, target)
			if err != nil {
				if c.jsonl {
					emitJSONL(map[string]interface{}{"ok": false, "repo": repo, "id": target, "error": err.Error()})
				} else {
					fmt.Printf("%s: %v\n", target, err)
				}
				raiseExitCode(1)
				continue
			}
			if c.jsonl {
				emitJSONL(res)
			} else {
				writeFeedbackResult(res)
			}
			feedbackExit(res)
		}
		return nil
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <pr|id>",
	Short: "Close a PR or clear its feedback",
	Long: `Close closes a pull request. With --feedback it instead clears the
PR's outstanding comments: review threads are resolved, unresolvable
comments are acknowledged. A comment ID target resolves or acks that one
comment.`,
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
		feedbackMode, _ := cmd.Flags().GetBool("feedback")
		yes, _ := cmd.Flags().GetBool("yes")

		if !yes && !c.jsonl {
			action := "close"
			if feedbackMode {
				action = "clear feedback on"
			}
			ok, err := confirm(fmt.Sprintf("%s %s %s?", action, repo, args[0]))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("cancelled")
				return nil
			}
		}

		res, err := c.app.Close(cmd.Context(), repo, args[0], feedbackMode)
		if err != nil {
			return err
		}
		if c.jsonl {
			emitJSONL(res)
		} else {
			writeFeedbackResult(res)
		}
		feedbackExit(res)
		return nil
	},
}

// runMutation handles the shared setup, repo resolution, and rendering for
// single-target mutations.
func runMutation(cmd *cobra.Command, run func(c *cli, repo string) (*feedback.Result, error)) error {
	c, err := setup()
	if err != nil {
		return err
	}
	defer c.Close()

	repo, err := c.resolveRepo()
	if err != nil {
		return err
	}
	res, err := run(c, repo)
	if err != nil {
		return err
	}
	if c.jsonl {
		emitJSONL(res)
	} else {
		writeFeedbackResult(res)
	}
	feedbackExit(res)
	return nil
}

func init() {
	closeCmd.Flags().Bool("feedback", false, "clear outstanding feedback instead of closing the PR")
	closeCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	rootCmd.AddCommand(replyCmd, resolveCmd, ackCmd, closeCmd)
}
