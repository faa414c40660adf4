package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/firewatch/firewatch/internal/actionable"
	"github.com/firewatch/firewatch/internal/common/stringutil"
	"github.com/firewatch/firewatch/internal/feedback"
	"github.com/firewatch/firewatch/internal/ids"
	"github.com/firewatch/firewatch/internal/model"
	"github.com/firewatch/firewatch/internal/worklist"
)

// emitJSONL writes one object per line to stdout.
func emitJSONL(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(v)
}

// emitJSONLSlice writes each element of a slice as its own line.
func emitJSONLSlice[T any](items []T) {
	enc := json.NewEncoder(os.Stdout)
	for _, item := range items {
		_ = enc.Encode(item)
	}
}

// confirm asks for a y/N answer on stderr. JSONL mode and --yes skip it.
func confirm(prompt string) (bool, error) {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	choice := strings.ToLower(strings.TrimSpace(line))
	return choice == "y" || choice == "yes", nil
}

// timeRound trims sync durations for display.
const timeRound = time.Second

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}

// writeEntries renders the activity feed as a table.
func writeEntries(entries []*model.Entry) {
	if len(entries) == 0 {
		fmt.Println("no activity")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tPR\tTYPE\tAUTHOR\tID\tDETAIL")
	for _, e := range entries {
		id := "-"
		if e.Type == model.TypeComment {
			id = ids.Display(ids.ShortID(e.ID, e.Repo))
		}
		fmt.Fprintf(w, "%s\t#%d\t%s\t%s\t%s\t%s\n",
			formatTime(e.CreatedAt), e.PR, entryKind(e), e.Author, id, entryDetail(e))
	}
	_ = w.Flush()
}

func entryKind(e *model.Entry) string {
	if e.Subtype != "" && e.Subtype != string(e.Type) {
		return e.Subtype
	}
	return string(e.Type)
}

func entryDetail(e *model.Entry) string {
	switch e.Type {
	case model.TypeReview:
		if e.Body == "" {
			return e.State
		}
		return e.State + ": " + stringutil.Truncate(stringutil.FirstLine(e.Body), 72)
	case model.TypeCI:
		return e.State + " " + stringutil.Truncate(e.Body, 60)
	case model.TypeComment:
		prefix := ""
		if e.File != "" {
			prefix = fmt.Sprintf("%s:%d ", e.File, e.Line)
		}
		return prefix + stringutil.Truncate(stringutil.FirstLine(e.Body), 72)
	default:
		return stringutil.Truncate(stringutil.FirstLine(e.Body), 72)
	}
}

// writeWorklist renders the per-PR aggregate table.
func writeWorklist(rows []*worklist.Entry) {
	if len(rows) == 0 {
		fmt.Println("no open work")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PR\tSTATE\tTITLE\tAUTHOR\tACTIVITY\tREVIEWS\tLAST")
	for _, r := range rows {
		title := stringutil.Truncate(r.PRTitle, 48)
		if r.Graphite != nil {
			title = fmt.Sprintf("%s [stack %d/%d]", title, r.Graphite.StackPosition, r.Graphite.StackSize)
		}
		fmt.Fprintf(w, "#%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.PR, r.PRState, title, r.PRAuthor,
			countsSummary(r.Counts), reviewSummary(r.ReviewStates), formatTime(r.LastActivityAt))
	}
	_ = w.Flush()
}

func countsSummary(c worklist.Counts) string {
	var parts []string
	add := func(n int, label string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
		}
	}
	add(c.Comments, "comments")
	add(c.Reviews, "reviews")
	add(c.Commits, "commits")
	add(c.CI, "ci")
	add(c.Events, "events")
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func reviewSummary(rs worklist.ReviewStates) string {
	var parts []string
	if rs.Approved > 0 {
		parts = append(parts, fmt.Sprintf("%d approved", rs.Approved))
	}
	if rs.ChangesRequested > 0 {
		parts = append(parts, fmt.Sprintf("%d changes", rs.ChangesRequested))
	}
	if rs.Commented > 0 {
		parts = append(parts, fmt.Sprintf("%d commented", rs.Commented))
	}
	if rs.Dismissed > 0 {
		parts = append(parts, fmt.Sprintf("%d dismissed", rs.Dismissed))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

// writeActionable renders the attention categories in priority order.
func writeActionable(res *actionable.Result) {
	sections := []struct {
		title string
		items []*actionable.Item
	}{
		{"Unaddressed feedback", res.Unaddressed},
		{"Changes requested", res.ChangesRequested},
		{"Awaiting review", res.AwaitingReview},
		{"Stale", res.Stale},
	}
	any := false
	for _, sec := range sections {
		if len(sec.items) == 0 {
			continue
		}
		any = true
		fmt.Printf("%s:\n", sec.title)
		for _, item := range sec.items {
			fmt.Printf("  #%d %s (%s): %s\n",
				item.PR, stringutil.Truncate(item.PRTitle, 56), item.PRAuthor, item.Description)
		}
		fmt.Println()
	}
	if !any {
		fmt.Println("nothing needs attention")
	}
}

// writeFeedbackResult renders a mutation outcome as one human line.
func writeFeedbackResult(res *feedback.Result) {
	if !res.OK {
		msg := res.Error
		if msg == "" {
			msg = "failed"
		}
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
		return
	}
	var parts []string
	if res.Closed {
		parts = append(parts, fmt.Sprintf("closed #%d", res.PR))
	}
	if res.ClosedCount > 0 || res.ResolvedCount > 0 || res.AckedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d comments cleared (%d resolved, %d acked)",
			res.ClosedCount, res.ResolvedCount, res.AckedCount))
	}
	if res.Resolved {
		parts = append(parts, "resolved "+res.ID)
	}
	if res.Acked && res.AckedCount == 0 {
		parts = append(parts, "acked "+res.ID)
	}
	if res.URL != "" {
		parts = append(parts, res.URL)
	}
	if len(parts) == 0 {
		parts = append(parts, "ok")
	}
	fmt.Println(strings.Join(parts, " "))
	if res.Warning != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", res.Warning)
	}
}

// feedbackExit maps a mutation outcome to an exit code: full success 0,
// partial 2, failure 1.
func feedbackExit(res *feedback.Result) {
	if res.OK {
		return
	}
	if res.ResolvedCount > 0 || res.AckedCount > 0 || res.ClosedCount > 0 {
		raiseExitCode(2)
		return
	}
	raiseExitCode(1)
}
