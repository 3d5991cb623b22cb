package engage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/cleanapp/moltagent/ledger"
	"github.com/cleanapp/moltagent/moltbook"
	"github.com/cleanapp/moltagent/oracle"
	"github.com/cleanapp/moltagent/policy"
	"github.com/cleanapp/moltagent/prompts"
)

// ContentSource is the subset of the Moltbook client the loops use.
type ContentSource interface {
	Search(ctx context.Context, query, typeFilter string, limit int) ([]moltbook.Post, error)
	GetComments(ctx context.Context, postID string) ([]moltbook.Comment, error)
	CreatePost(ctx context.Context, submolt, title, content string) moltbook.WriteResult
	CreateComment(ctx context.Context, threadID, content, parentID string) moltbook.WriteResult
}

type Renderer interface {
	Render(name string, vars prompts.Vars) (string, error)
	RenderReply(mode string, vars prompts.Vars) (string, error)
}

type Agent struct {
	Config  Config
	Ledger  *ledger.Ledger
	Policy  *policy.Engine
	Source  ContentSource
	Oracle  oracle.Generator
	Prompts Renderer

	logger *slog.Logger
	pacer  *rate.Limiter
}

func NewAgent(cfg Config, led *ledger.Ledger, pol *policy.Engine, src ContentSource, gen oracle.Generator, tpl Renderer) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.WriteDelay > 0 {
		limit = rate.Every(cfg.WriteDelay)
	}
	return &Agent{
		Config:  cfg,
		Ledger:  led,
		Policy:  pol,
		Source:  src,
		Oracle:  gen,
		Prompts: tpl,
		logger:  logger.With("component", "engage"),
		pacer:   rate.NewLimiter(limit, 1),
	}
}

// Outcome is what happened to one candidate thread during a cycle.
type Outcome struct {
	Mode      string
	ThreadID  string
	Title     string
	Author    string
	Relevance float64
	Action    string
	Reason    string
	DryRun    bool
}

type ModeTotals struct {
	Found   int
	Engaged int
	Skipped int
	Queued  int
}

type CycleSummary struct {
	DryRun        bool
	Modes         []string
	Totals        map[string]*ModeTotals
	Outcomes      []Outcome
	PostsToday    int
	CommentsToday int
}

func (s *CycleSummary) add(o Outcome) {
	t, ok := s.Totals[o.Mode]
	if !ok {
		t = &ModeTotals{}
		s.Totals[o.Mode] = t
		s.Modes = append(s.Modes, o.Mode)
	}
	t.Found++
	switch o.Action {
	case ledger.ActionEngaged:
		t.Engaged++
	case ledger.ActionQueued:
		t.Queued++
	default:
		t.Skipped++
	}
	s.Outcomes = append(s.Outcomes, o)
}

// RunCycle searches every mode's queries and takes each returned thread through the
// gate pipeline. Rejections are recorded as opportunities and the cycle moves on; a
// ledger failure aborts it.
func (a *Agent) RunCycle(ctx context.Context) (*CycleSummary, error) {
	ctx, span := tracer.Start(ctx, "RunCycle")
	defer span.End()
	start := time.Now()
	defer func() {
		cycleDuration.Observe(time.Since(start).Seconds())
	}()

	summary := &CycleSummary{DryRun: a.Config.DryRun, Totals: map[string]*ModeTotals{}}
	seen := map[string]bool{}

	for _, mode := range a.Config.Data.ModeNames() {
		for _, q := range a.Config.Data.SearchQueries[mode] {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			posts, err := a.Source.Search(ctx, q, "posts", a.Config.SearchLimit)
			if err != nil {
				a.logger.Warn("search failed, skipping query", "mode", mode, "query", q, "err", err)
				continue
			}
			for _, p := range posts {
				if p.ID == "" {
					a.logger.Debug("search hit without id, skipping", "mode", mode, "query", q, "title", p.Title)
					continue
				}
				if seen[p.ID] {
					continue
				}
				seen[p.ID] = true
				if err := ctx.Err(); err != nil {
					return summary, err
				}
				out, err := a.processThread(ctx, mode, p)
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
					return summary, err
				}
				summary.add(out)
			}
		}
	}

	posts, comments, err := a.Ledger.GetTodayCounts(ctx)
	if err != nil {
		return summary, err
	}
	summary.PostsToday = posts
	summary.CommentsToday = comments
	span.SetAttributes(attribute.Int("outcomes", len(summary.Outcomes)))
	return summary, nil
}

func (a *Agent) processThread(ctx context.Context, mode string, p moltbook.Post) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "ProcessThread")
	defer span.End()
	span.SetAttributes(attribute.String("thread", p.ID), attribute.String("mode", mode))

	logger := a.logger.With("thread", p.ID, "mode", mode, "author", p.Author)
	out := Outcome{Mode: mode, ThreadID: p.ID, Title: p.Title, Author: p.Author, DryRun: a.Config.DryRun}

	record := func(action, reason string) (Outcome, error) {
		out.Action = action
		out.Reason = reason
		opportunitiesTotal.WithLabelValues(action).Inc()
		err := a.Ledger.RecordOpportunity(ctx, &ledger.Opportunity{
			Mode:           mode,
			ThreadID:       p.ID,
			Title:          prompts.Truncate(p.Title, 200),
			Submolt:        p.Submolt,
			Author:         p.Author,
			RelevanceScore: out.Relevance,
			ActionTaken:    action,
			Reason:         reason,
		})
		if err != nil {
			logger.Warn("failed to record opportunity", "err", err)
		}
		logger.Info("candidate processed", "action", action, "reason", reason)
		return out, nil
	}
	deny := func(gate, reason string) (Outcome, error) {
		policyDenials.WithLabelValues(gate).Inc()
		return record(ledger.ActionSkipped, reason)
	}

	engaged, err := a.Ledger.AlreadyEngaged(ctx, p.ID)
	if err != nil {
		return out, err
	}
	if engaged {
		return deny("already_engaged", "Already engaged with this thread")
	}

	if skip, reason := a.Policy.ShouldSkip(p.Title + " " + p.Content); skip {
		return deny("blocklist", reason)
	}

	rel, err := a.scoreRelevance(ctx, p)
	if err != nil {
		logger.Warn("no usable relevance verdict", "err", err)
		return record(ledger.ActionSkipped, "No usable relevance verdict")
	}
	out.Relevance = rel.Score
	if rel.Score < a.Config.RelevanceThreshold {
		return record(ledger.ActionSkipped, fmt.Sprintf("Below threshold (%.2f < %.2f)", rel.Score, a.Config.RelevanceThreshold))
	}
	if !rel.CanAddValue {
		return record(ledger.ActionSkipped, "Cannot add value")
	}

	d, err := a.Policy.CanComment(ctx)
	if err != nil {
		return out, err
	}
	if !d.Allowed {
		policyDenials.WithLabelValues("comment_limit").Inc()
		return record(ledger.ActionQueued, d.Reason)
	}

	reply, err := a.generateReply(ctx, mode, p)
	if err != nil {
		logger.Warn("reply generation failed", "err", err)
		return record(ledger.ActionSkipped, "Failed to generate response")
	}

	if d := a.Policy.ValidateCommentContent(reply); !d.Allowed {
		return deny("validation", d.Reason)
	}
	used, err := a.Policy.CheckRepetition(ctx, reply)
	if err != nil {
		return out, err
	}
	if used {
		return deny("repetition", "Response would be repetitive")
	}
	dup, err := a.Policy.IsDuplicate(ctx, "", reply)
	if err != nil {
		return out, err
	}
	if dup {
		return deny("duplicate", "Duplicate content")
	}

	if err := a.pacer.Wait(ctx); err != nil {
		return out, err
	}
	res := a.Source.CreateComment(ctx, p.ID, reply, "")
	if !res.Success {
		reason := "Write failed"
		if res.Error != "" {
			reason += ": " + res.Error
		}
		return record(ledger.ActionSkipped, reason)
	}

	err = a.Ledger.Commit(ctx, &ledger.WriteRecord{
		Engagement: ledger.Engagement{
			ThreadID:       p.ID,
			Kind:           ledger.KindComment,
			Mode:           mode,
			Content:        reply,
			ThreadTitle:    prompts.Truncate(p.Title, 200),
			ThreadSubmolt:  p.Submolt,
			RelevanceScore: rel.Score,
		},
	})
	if err != nil {
		return out, fmt.Errorf("recording comment on %s: %w", p.ID, err)
	}
	engagementsTotal.WithLabelValues(ledger.KindComment, mode).Inc()
	a.notify(ctx, Event{
		Kind:     ledger.KindComment,
		Mode:     mode,
		ThreadID: p.ID,
		Title:    p.Title,
		Submolt:  p.Submolt,
		Content:  reply,
		DryRun:   res.DryRun,
	})
	return record(ledger.ActionEngaged, fmt.Sprintf("Engaged (relevance %.2f)", rel.Score))
}

func (a *Agent) scoreRelevance(ctx context.Context, p moltbook.Post) (oracle.Relevance, error) {
	prompt, err := a.Prompts.Render(prompts.RelevanceCheck, prompts.Vars{
		"title":   p.Title,
		"content": prompts.Truncate(p.Content, 1500),
		"submolt": p.Submolt,
		"modes":   a.Config.Data.ModeNames(),
	})
	if err != nil {
		return oracle.Relevance{}, err
	}
	text, err := a.Oracle.Generate(ctx, prompt)
	if err != nil {
		return oracle.Relevance{}, err
	}
	return oracle.ParseRelevance(text)
}

func (a *Agent) generateReply(ctx context.Context, mode string, p moltbook.Post) (string, error) {
	prompt, err := a.Prompts.RenderReply(mode, prompts.Vars{
		"title":   p.Title,
		"content": prompts.Truncate(p.Content, 800),
		"submolt": p.Submolt,
		"author":  authorOrUnknown(p.Author),
	})
	if err != nil {
		return "", err
	}
	text, err := a.Oracle.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", oracle.ErrNoOutput
	}
	return text, nil
}

func (a *Agent) notify(ctx context.Context, ev Event) {
	if a.Config.Notifier == nil {
		return
	}
	if err := a.Config.Notifier.Notify(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("notification failed", "kind", ev.Kind, "thread", ev.ThreadID, "err", err)
	}
}

func authorOrUnknown(author string) string {
	if author == "" {
		return "another agent"
	}
	return author
}
