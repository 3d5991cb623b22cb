package engage

import (
	"context"
	"fmt"

	"github.com/cleanapp/moltagent/ledger"
	"github.com/cleanapp/moltagent/oracle"
	"github.com/cleanapp/moltagent/policy"
	"github.com/cleanapp/moltagent/prompts"
)

type PostResult struct {
	Posted  bool
	DryRun  bool
	ID      string
	Mode    string
	Submolt string
	Title   string
	Reason  string
}

// PostIntroduction publishes the one-time introduction post.
func (a *Agent) PostIntroduction(ctx context.Context, title, content string) (*PostResult, error) {
	return a.createPost(ctx, ModeIntro, a.Config.IntroSubmolt, title, content)
}

// CreateValuePost drafts and publishes one proactive post for the mode of the day.
func (a *Agent) CreateValuePost(ctx context.Context) (*PostResult, error) {
	ctx, span := tracer.Start(ctx, "CreateValuePost")
	defer span.End()

	cat, ok := a.modeOfDay()
	if !ok {
		return &PostResult{Reason: "No topics configured"}, nil
	}
	res := &PostResult{Mode: cat.Name, Submolt: a.Config.ValuePostSubmolt}

	// refuse early so no generation is spent on a post that cannot go out
	for _, gate := range []func(context.Context) (policy.Decision, error){a.Policy.CanPost, a.Policy.CanPostNow} {
		d, err := gate(ctx)
		if err != nil {
			return nil, err
		}
		if !d.Allowed {
			res.Reason = d.Reason
			return res, nil
		}
	}

	titles, err := a.recentPostTitles(ctx)
	if err != nil {
		return nil, err
	}
	prompt, err := a.Prompts.Render(prompts.ValuePost, prompts.Vars{
		"mode":          cat.Name,
		"submolt":       a.Config.ValuePostSubmolt,
		"topics":        cat.Phrases,
		"recent_titles": titles,
	})
	if err != nil {
		return nil, err
	}
	text, err := a.Oracle.Generate(ctx, prompt)
	if err != nil {
		a.logger.Warn("value post generation failed", "mode", cat.Name, "err", err)
		res.Reason = "Failed to generate post"
		return res, nil
	}
	draft, err := oracle.ParseDraft(text)
	if err != nil {
		a.logger.Warn("value post draft unparseable", "mode", cat.Name, "err", err)
		res.Reason = "Failed to generate post"
		return res, nil
	}
	submolt := a.Config.ValuePostSubmolt
	if draft.Submolt != "" {
		submolt = draft.Submolt
	}
	return a.createPost(ctx, cat.Name, submolt, draft.Title, draft.Content)
}

// modeOfDay rotates through the topic list by day of year so consecutive days cover different modes.
func (a *Agent) modeOfDay() (policy.Category, bool) {
	topics := a.Policy.Topics
	if len(topics) == 0 {
		return policy.Category{}, false
	}
	return topics[a.Ledger.Now().YearDay()%len(topics)], true
}

func (a *Agent) recentPostTitles(ctx context.Context) ([]string, error) {
	recent, err := a.Ledger.RecentEngagements(ctx, a.Config.RecentLimit*3)
	if err != nil {
		return nil, err
	}
	var titles []string
	for _, e := range recent {
		if e.Kind == ledger.KindPost && e.ThreadTitle != "" {
			titles = append(titles, e.ThreadTitle)
		}
		if len(titles) >= a.Config.RecentLimit {
			break
		}
	}
	return titles, nil
}

func (a *Agent) createPost(ctx context.Context, mode, submolt, title, content string) (*PostResult, error) {
	ctx, span := tracer.Start(ctx, "CreatePost")
	defer span.End()

	logger := a.logger.With("mode", mode, "submolt", submolt)
	res := &PostResult{Mode: mode, Submolt: submolt, Title: title}

	refuse := func(gate, reason string) (*PostResult, error) {
		policyDenials.WithLabelValues(gate).Inc()
		logger.Info("post refused", "gate", gate, "reason", reason)
		res.Reason = reason
		return res, nil
	}

	d, err := a.Policy.CanPost(ctx)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return refuse("post_limit", d.Reason)
	}
	d, err = a.Policy.CanPostNow(ctx)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return refuse("post_cooldown", d.Reason)
	}
	d, err = a.Policy.CanPostToSubmolt(ctx, submolt)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return refuse("submolt", d.Reason)
	}
	if d := a.Policy.ValidatePostContent(title, content); !d.Allowed {
		return refuse("validation", d.Reason)
	}
	dup, err := a.Policy.IsDuplicate(ctx, title, content)
	if err != nil {
		return nil, err
	}
	if dup {
		return refuse("duplicate", "Duplicate content")
	}

	if err := a.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	wr := a.Source.CreatePost(ctx, submolt, title, content)
	if !wr.Success {
		res.Reason = "Write failed"
		if wr.Error != "" {
			res.Reason += ": " + wr.Error
		}
		logger.Warn("post write failed", "err", wr.Error, "skipped", wr.Skipped)
		return res, nil
	}

	id := wr.ID
	if id == "" {
		// dry-run and id-less responses still need a stable thread key
		id = "local:" + ledger.HashContent(title, content)[:16]
	}
	err = a.Ledger.Commit(ctx, &ledger.WriteRecord{
		Engagement: ledger.Engagement{
			ThreadID:      id,
			Kind:          ledger.KindPost,
			Mode:          mode,
			Content:       content,
			ThreadTitle:   prompts.Truncate(title, 200),
			ThreadSubmolt: submolt,
		},
		HashTitle: title,
	})
	if err != nil {
		return nil, fmt.Errorf("recording post %s: %w", id, err)
	}
	engagementsTotal.WithLabelValues(ledger.KindPost, mode).Inc()
	logger.Info("post published", "id", id, "dry_run", wr.DryRun)
	a.notify(ctx, Event{
		Kind:     ledger.KindPost,
		Mode:     mode,
		ThreadID: id,
		Title:    title,
		Submolt:  submolt,
		Content:  content,
		DryRun:   wr.DryRun,
	})

	res.Posted = true
	res.DryRun = wr.DryRun
	res.ID = id
	res.Reason = policy.ReasonOK
	return res, nil
}
