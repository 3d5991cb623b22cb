package engage

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cleanapp/moltagent/ledger"
	"github.com/cleanapp/moltagent/moltbook"
	"github.com/cleanapp/moltagent/policy/keyword"
	"github.com/cleanapp/moltagent/prompts"
)

// OutreachCandidate is a thread by another agent whose work overlaps ours.
type OutreachCandidate struct {
	Post    moltbook.Post
	Fit     float64
	Signals []string
}

// OutreachAction is one comment the outreach loop wrote.
type OutreachAction struct {
	Agent    string
	ThreadID string
	Title    string
	Fit      float64
	Message  string
	DryRun   bool
}

// outreachFit saturates at three signal hits.
func outreachFit(hits int) float64 {
	return min(float64(hits)/3.0, 1.0)
}

// DiscoverOutreach searches the outreach queries and returns the candidates that pass
// every filter, best fit first.
func (a *Agent) DiscoverOutreach(ctx context.Context) ([]OutreachCandidate, error) {
	seen := map[string]bool{}
	var out []OutreachCandidate
	for _, q := range a.Config.Data.OutreachQueries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		posts, err := a.Source.Search(ctx, q, "posts", a.Config.OutreachSearchLimit)
		if err != nil {
			a.logger.Warn("outreach search failed, skipping query", "query", q, "err", err)
			continue
		}
		for _, p := range posts {
			if p.ID == "" || seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			c, ok, err := a.outreachCandidate(ctx, p)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, c)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Fit > out[j].Fit
	})
	return out, nil
}

func (a *Agent) outreachCandidate(ctx context.Context, p moltbook.Post) (OutreachCandidate, bool, error) {
	logger := a.logger.With("thread", p.ID, "author", p.Author)
	if p.Author == "" || keyword.SlugInSet(p.Author, a.Config.SelfNames) {
		return OutreachCandidate{}, false, nil
	}
	engaged, err := a.Ledger.AlreadyEngaged(ctx, p.ID)
	if err != nil {
		return OutreachCandidate{}, false, err
	}
	if engaged {
		return OutreachCandidate{}, false, nil
	}
	d, err := a.Policy.CanApproachAgent(ctx, p.Author)
	if err != nil {
		return OutreachCandidate{}, false, err
	}
	if !d.Allowed {
		logger.Debug("outreach candidate filtered", "reason", d.Reason)
		return OutreachCandidate{}, false, nil
	}
	signals := keyword.MatchedPhrases(p.Title+" "+p.Content, a.Config.Data.OutreachSignals)
	fit := outreachFit(len(signals))
	if fit < a.Config.MinOutreachFit {
		return OutreachCandidate{}, false, nil
	}
	if a.alreadyInThread(ctx, p.ID) {
		logger.Debug("outreach candidate filtered", "reason", "already commented in thread")
		return OutreachCandidate{}, false, nil
	}
	return OutreachCandidate{Post: p, Fit: fit, Signals: signals}, true, nil
}

// alreadyInThread catches comments we left under another install or before the ledger
// existed. A failed fetch keeps the candidate.
func (a *Agent) alreadyInThread(ctx context.Context, threadID string) bool {
	comments, err := a.Source.GetComments(ctx, threadID)
	if err != nil {
		a.logger.Warn("fetching thread comments failed", "thread", threadID, "err", err)
		return false
	}
	for _, c := range comments {
		if keyword.SlugInSet(c.Author, a.Config.SelfNames) {
			return true
		}
	}
	return false
}

// RunOutreach approaches at most the remaining daily outreach budget of agents. Each
// approach is a comment on the agent's thread, recorded as both an engagement and an
// outreach attempt.
func (a *Agent) RunOutreach(ctx context.Context) ([]OutreachAction, error) {
	ctx, span := tracer.Start(ctx, "RunOutreach")
	defer span.End()

	d, err := a.Policy.CanOutreach(ctx)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		policyDenials.WithLabelValues("outreach_limit").Inc()
		a.logger.Info("outreach skipped", "reason", d.Reason)
		return nil, nil
	}

	candidates, err := a.DiscoverOutreach(ctx)
	if err != nil {
		return nil, err
	}
	done, err := a.Ledger.GetOutreachCountToday(ctx)
	if err != nil {
		return nil, err
	}
	remaining := a.Policy.Limits.MaxOutreachPerDay - int(done)
	if remaining < len(candidates) {
		candidates = candidates[:max(remaining, 0)]
	}
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	var actions []OutreachAction
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return actions, err
		}
		act, ok, err := a.approach(ctx, c)
		if err != nil {
			return actions, err
		}
		if ok {
			actions = append(actions, act)
		}
	}
	return actions, nil
}

func (a *Agent) approach(ctx context.Context, c OutreachCandidate) (OutreachAction, bool, error) {
	p := c.Post
	logger := a.logger.With("thread", p.ID, "author", p.Author, "mode", ModeOutreach)

	// an earlier approach in this run may have used up the agent or the day
	d, err := a.Policy.CanApproachAgent(ctx, p.Author)
	if err != nil {
		return OutreachAction{}, false, err
	}
	if !d.Allowed {
		logger.Info("outreach skipped", "reason", d.Reason)
		return OutreachAction{}, false, nil
	}
	d, err = a.Policy.CanComment(ctx)
	if err != nil {
		return OutreachAction{}, false, err
	}
	if !d.Allowed {
		policyDenials.WithLabelValues("comment_limit").Inc()
		logger.Info("outreach skipped", "reason", d.Reason)
		return OutreachAction{}, false, nil
	}

	prompt, err := a.Prompts.Render(prompts.APIOutreach, prompts.Vars{
		"author":  p.Author,
		"title":   p.Title,
		"content": prompts.Truncate(p.Content, 800),
		"submolt": p.Submolt,
		"signals": c.Signals,
	})
	if err != nil {
		return OutreachAction{}, false, err
	}
	msg, err := a.Oracle.Generate(ctx, prompt)
	if err != nil {
		logger.Warn("outreach generation failed", "err", err)
		return OutreachAction{}, false, nil
	}

	if d := a.Policy.ValidateCommentContent(msg); !d.Allowed {
		policyDenials.WithLabelValues("validation").Inc()
		logger.Info("outreach skipped", "reason", d.Reason)
		return OutreachAction{}, false, nil
	}
	used, err := a.Policy.CheckRepetition(ctx, msg)
	if err != nil {
		return OutreachAction{}, false, err
	}
	dup, err := a.Policy.IsDuplicate(ctx, "", msg)
	if err != nil {
		return OutreachAction{}, false, err
	}
	if used || dup {
		policyDenials.WithLabelValues("duplicate").Inc()
		logger.Info("outreach skipped", "reason", "Duplicate content")
		return OutreachAction{}, false, nil
	}

	if err := a.pacer.Wait(ctx); err != nil {
		return OutreachAction{}, false, err
	}
	res := a.Source.CreateComment(ctx, p.ID, msg, "")
	if !res.Success {
		logger.Warn("outreach write failed", "err", res.Error, "skipped", res.Skipped)
		return OutreachAction{}, false, nil
	}

	err = a.Ledger.Commit(ctx, &ledger.WriteRecord{
		Engagement: ledger.Engagement{
			ThreadID:       p.ID,
			Kind:           ledger.KindComment,
			Mode:           ModeOutreach,
			Content:        msg,
			ThreadTitle:    prompts.Truncate(p.Title, 200),
			ThreadSubmolt:  p.Submolt,
			RelevanceScore: c.Fit,
		},
		Outreach: &ledger.OutreachAttempt{
			AgentName:    p.Author,
			ThreadID:     p.ID,
			Context:      prompts.Truncate(p.Title, 200),
			ApproachType: ApproachAPIIntegration,
			OurMessage:   msg,
		},
	})
	if err != nil {
		return OutreachAction{}, false, fmt.Errorf("recording outreach to %s: %w", p.Author, err)
	}
	engagementsTotal.WithLabelValues(ledger.KindComment, ModeOutreach).Inc()
	logger.Info("outreach sent", "fit", c.Fit, "dry_run", res.DryRun)
	a.notify(ctx, Event{
		Kind:     "outreach",
		Mode:     ModeOutreach,
		ThreadID: p.ID,
		Title:    p.Title,
		Submolt:  p.Submolt,
		Agent:    p.Author,
		Content:  msg,
		DryRun:   res.DryRun,
	})
	return OutreachAction{
		Agent:    p.Author,
		ThreadID: p.ID,
		Title:    p.Title,
		Fit:      c.Fit,
		Message:  msg,
		DryRun:   res.DryRun,
	}, true, nil
}
