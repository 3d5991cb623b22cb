package engage

import (
	"context"

	"github.com/cleanapp/moltagent/ledger"
)

type Status struct {
	DryRun        bool
	Day           string
	Posts         int
	MaxPosts      int
	Comments      int
	MaxComments   int
	Outreach      int64
	MaxOutreach   int
	Recent        []ledger.Engagement
	Opportunities []ledger.ModeSummary
}

func (a *Agent) Status(ctx context.Context) (*Status, error) {
	posts, comments, err := a.Ledger.GetTodayCounts(ctx)
	if err != nil {
		return nil, err
	}
	outreach, err := a.Ledger.GetOutreachCountToday(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := a.Ledger.RecentEngagements(ctx, a.Config.RecentLimit)
	if err != nil {
		return nil, err
	}
	summary, err := a.Ledger.OpportunitySummary(ctx)
	if err != nil {
		return nil, err
	}
	limits := a.Policy.Limits
	return &Status{
		DryRun:        a.Config.DryRun,
		Day:           ledger.DayKey(a.Ledger.Now()),
		Posts:         posts,
		MaxPosts:      limits.MaxPostsPerDay,
		Comments:      comments,
		MaxComments:   limits.MaxCommentsPerDay,
		Outreach:      outreach,
		MaxOutreach:   limits.MaxOutreachPerDay,
		Recent:        recent,
		Opportunities: summary,
	}, nil
}
