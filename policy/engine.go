package policy

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cleanapp/moltagent/policy/keyword"
)

const ReasonOK = "OK"

// LedgerReader is the read-only query surface the policy decides against.
type LedgerReader interface {
	GetDailyCounts(ctx context.Context, day time.Time) (posts int, comments int, err error)
	GetLastPostTime(ctx context.Context) (time.Time, bool, error)
	GetSubmoltPostCountToday(ctx context.Context, submolt string) (int64, error)
	GetOutreachCountToday(ctx context.Context) (int64, error)
	WasAgentApproachedRecently(ctx context.Context, agent string, cooldownDays int) (bool, error)
	AlreadyEngaged(ctx context.Context, threadID string) (bool, error)
	IsDuplicateContent(ctx context.Context, title, content string) (bool, error)
	ContentAlreadyUsed(ctx context.Context, content string) (bool, error)
}

type Limits struct {
	MaxPostsPerDay       int
	MaxCommentsPerDay    int
	MaxOutreachPerDay    int
	PostCooldown         time.Duration
	OutreachCooldownDays int
	MinPostLength        int
	MaxPostLength        int
	MinCommentLength     int
	MaxCommentLength     int
	MaxTitleLength       int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPostsPerDay:       3,
		MaxCommentsPerDay:    5,
		MaxOutreachPerDay:    3,
		PostCooldown:         30 * time.Minute,
		OutreachCooldownDays: 7,
		MinPostLength:        50,
		MaxPostLength:        10000,
		MinCommentLength:     20,
		MaxCommentLength:     2000,
		MaxTitleLength:       200,
	}
}

// Decision is the outcome of one gate. Reason is "OK" when Allowed.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true, Reason: ReasonOK}
}

func deny(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Evaluation is the composite verdict for a candidate thread.
type Evaluation struct {
	Engage bool
	Reason string
	Mode   string
}

// Engine holds no state of its own: every answer comes from the ledger, the limits, and the clock.
type Engine struct {
	Ledger    LedgerReader
	Limits    Limits
	Topics    []Category
	Blocklist []string
	Now       func() time.Time
}

func NewEngine(ledger LedgerReader, limits Limits, data Data, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		Ledger:    ledger,
		Limits:    limits,
		Topics:    data.Topics,
		Blocklist: data.DoNotEngage,
		Now:       now,
	}
}

func (e *Engine) CanPost(ctx context.Context) (Decision, error) {
	posts, _, err := e.Ledger.GetDailyCounts(ctx, e.Now())
	if err != nil {
		return Decision{}, err
	}
	if posts >= e.Limits.MaxPostsPerDay {
		return deny("Daily post limit reached (%d/%d)", posts, e.Limits.MaxPostsPerDay), nil
	}
	return allow(), nil
}

func (e *Engine) CanComment(ctx context.Context) (Decision, error) {
	_, comments, err := e.Ledger.GetDailyCounts(ctx, e.Now())
	if err != nil {
		return Decision{}, err
	}
	if comments >= e.Limits.MaxCommentsPerDay {
		return deny("Daily comment limit reached (%d/%d)", comments, e.Limits.MaxCommentsPerDay), nil
	}
	return allow(), nil
}

// CanPostNow enforces the minimum gap between posts. Only the reported minutes are rounded.
func (e *Engine) CanPostNow(ctx context.Context) (Decision, error) {
	last, ok, err := e.Ledger.GetLastPostTime(ctx)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return allow(), nil
	}
	elapsed := e.Now().Sub(last)
	if elapsed >= e.Limits.PostCooldown {
		return allow(), nil
	}
	remaining := e.Limits.PostCooldown - elapsed
	return deny("Post cooldown: %d minutes remaining", int(math.Round(remaining.Minutes()))), nil
}

func (e *Engine) CanPostToSubmolt(ctx context.Context, submolt string) (Decision, error) {
	n, err := e.Ledger.GetSubmoltPostCountToday(ctx, submolt)
	if err != nil {
		return Decision{}, err
	}
	if n >= 1 {
		return deny("Already posted to m/%s today", submolt), nil
	}
	return allow(), nil
}

func (e *Engine) CanOutreach(ctx context.Context) (Decision, error) {
	n, err := e.Ledger.GetOutreachCountToday(ctx)
	if err != nil {
		return Decision{}, err
	}
	if n >= int64(e.Limits.MaxOutreachPerDay) {
		return deny("Daily outreach limit reached (%d/%d)", n, e.Limits.MaxOutreachPerDay), nil
	}
	return allow(), nil
}

// CanApproachAgent requires both the per-agent cooldown and the global daily cap to pass.
func (e *Engine) CanApproachAgent(ctx context.Context, agent string) (Decision, error) {
	recent, err := e.Ledger.WasAgentApproachedRecently(ctx, agent, e.Limits.OutreachCooldownDays)
	if err != nil {
		return Decision{}, err
	}
	if recent {
		return deny("Already approached %s within %d days", agent, e.Limits.OutreachCooldownDays), nil
	}
	return e.CanOutreach(ctx)
}

// ValidatePostContent reports the first violated bound. Lengths are counted in characters, not bytes.
func (e *Engine) ValidatePostContent(title, content string) Decision {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return deny("Title is empty")
	}
	if n := utf8.RuneCountInString(trimmed); n > e.Limits.MaxTitleLength {
		return deny("Title too long (%d > %d chars)", n, e.Limits.MaxTitleLength)
	}
	return checkLength(content, e.Limits.MinPostLength, e.Limits.MaxPostLength)
}

func (e *Engine) ValidateCommentContent(content string) Decision {
	return checkLength(content, e.Limits.MinCommentLength, e.Limits.MaxCommentLength)
}

func checkLength(content string, min, max int) Decision {
	n := utf8.RuneCountInString(strings.TrimSpace(content))
	if n < min {
		return deny("Content too short (%d < %d chars)", n, min)
	}
	if n > max {
		return deny("Content too long (%d > %d chars)", n, max)
	}
	return allow()
}

// ClassifyMode returns the category with the most phrase hits. Ties go to the earlier category;
// no hits at all yields ModeNone.
func (e *Engine) ClassifyMode(text string) (string, bool) {
	best := ModeNone
	bestScore := 0
	for _, c := range e.Topics {
		score := keyword.CountPhrases(text, c.Phrases)
		if score > bestScore {
			best = c.Name
			bestScore = score
		}
	}
	return best, bestScore > 0
}

func (e *Engine) ShouldSkip(text string) (bool, string) {
	if phrase, ok := keyword.FirstPhrase(text, e.Blocklist); ok {
		return true, "Matches do-not-engage topic: " + phrase
	}
	return false, ReasonOK
}

// IsDuplicate is the hash check on a normalized (title, content) pair.
func (e *Engine) IsDuplicate(ctx context.Context, title, content string) (bool, error) {
	return e.Ledger.IsDuplicateContent(ctx, title, content)
}

// CheckRepetition is the content-only check used for regenerated replies.
func (e *Engine) CheckRepetition(ctx context.Context, content string) (bool, error) {
	return e.Ledger.ContentAlreadyUsed(ctx, content)
}

// EvaluateThread applies, in order: blocklist, already engaged, classification, comment limit.
func (e *Engine) EvaluateThread(ctx context.Context, title, content, threadID string) (Evaluation, error) {
	combined := title + " " + content

	if skip, reason := e.ShouldSkip(combined); skip {
		return Evaluation{Reason: reason, Mode: ModeNone}, nil
	}

	engaged, err := e.Ledger.AlreadyEngaged(ctx, threadID)
	if err != nil {
		return Evaluation{}, err
	}
	if engaged {
		return Evaluation{Reason: "Already engaged with this thread", Mode: ModeNone}, nil
	}

	mode, ok := e.ClassifyMode(combined)
	if !ok {
		return Evaluation{Reason: "Not relevant to any mode", Mode: ModeNone}, nil
	}

	d, err := e.CanComment(ctx)
	if err != nil {
		return Evaluation{}, err
	}
	if !d.Allowed {
		return Evaluation{Reason: d.Reason, Mode: mode}, nil
	}

	return Evaluation{Engage: true, Reason: "Passes all gates", Mode: mode}, nil
}
