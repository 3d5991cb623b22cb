package main

import (
	"fmt"

	"github.com/cleanapp/moltagent/engage"
	"github.com/cleanapp/moltagent/ledger"
	"github.com/cleanapp/moltagent/moltbook"
)

func printSummary(s *engage.CycleSummary) {
	if s.DryRun {
		fmt.Println("[dry-run]")
	}
	for _, mode := range s.Modes {
		t := s.Totals[mode]
		fmt.Printf("%-14s found=%d engaged=%d skipped=%d queued=%d\n", mode, t.Found, t.Engaged, t.Skipped, t.Queued)
	}
	for _, o := range s.Outcomes {
		if o.Action == ledger.ActionSkipped {
			continue
		}
		fmt.Printf("  %-8s %-12s %.2f %s\n", o.Action, o.ThreadID, o.Relevance, o.Title)
	}
	fmt.Printf("today: posts=%d comments=%d\n", s.PostsToday, s.CommentsToday)
}

func printStatus(st *engage.Status) {
	fmt.Printf("day %s (dry-run %v)\n", st.Day, st.DryRun)
	fmt.Printf("posts:    %d/%d\n", st.Posts, st.MaxPosts)
	fmt.Printf("comments: %d/%d\n", st.Comments, st.MaxComments)
	fmt.Printf("outreach: %d/%d\n", st.Outreach, st.MaxOutreach)
	if len(st.Opportunities) > 0 {
		fmt.Println("opportunities:")
		for _, m := range st.Opportunities {
			fmt.Printf("  %-14s %-8s %d\n", m.Mode, m.ActionTaken, m.Total)
		}
	}
	if len(st.Recent) > 0 {
		fmt.Println("recent:")
		for _, e := range st.Recent {
			fmt.Printf("  %s %-7s %-12s %s\n", e.CreatedAt.Format("2006-01-02 15:04"), e.Kind, e.Mode, e.ThreadTitle)
		}
	}
}

func printPostResult(res *engage.PostResult) {
	if !res.Posted {
		fmt.Printf("not posted: %s\n", res.Reason)
		return
	}
	fmt.Printf("posted %q to m/%s (id %s, dry-run %v)\n", res.Title, res.Submolt, res.ID, res.DryRun)
}

func printProfile(p moltbook.Profile) {
	fmt.Printf("agent:    %s\n", p.DisplayName())
	fmt.Printf("karma:    %d\n", p.Karma)
	if p.Description != "" {
		fmt.Printf("about:    %s\n", p.Description)
	}
}
