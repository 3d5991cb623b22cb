package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const previewLength = 200

// Ledger is the durable record of everything the agent has done. All rate limit and
// duplicate decisions are answered from here; nothing is cached between calls.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

type Option func(*Ledger)

// WithClock overrides the wall clock used for timestamps and day buckets.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Open migrates the schema and returns a Ledger over db.
func Open(db *gorm.DB, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		db:  db,
		now: time.Now,
	}
	for _, o := range opts {
		o(l)
	}

	if err := db.AutoMigrate(
		&Engagement{},
		&DailyCount{},
		&Opportunity{},
		&ContentHash{},
		&OutreachAttempt{},
	); err != nil {
		return nil, fmt.Errorf("migrating ledger schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) DB() *gorm.DB {
	return l.db
}

// Now returns the ledger clock in UTC.
func (l *Ledger) Now() time.Time {
	return l.now().UTC()
}

// Normalize is the canonical form used for every content comparison.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ContentKey identifies a piece of content independent of case and surrounding whitespace.
func ContentKey(content string) string {
	sum := sha256.Sum256([]byte(Normalize(content)))
	return hex.EncodeToString(sum[:])
}

// HashContent is the dedup key for a (title, content) pair.
func HashContent(title, content string) string {
	sum := sha256.Sum256([]byte(Normalize(title) + "||" + Normalize(content)))
	return hex.EncodeToString(sum[:])
}

// DayKey returns the UTC calendar day of t.
func DayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func (l *Ledger) today() string {
	return DayKey(l.Now())
}

func (l *Ledger) stampEngagement(e *Engagement) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.Day = DayKey(e.CreatedAt)
	e.ContentKey = ContentKey(e.Content)
}

func bumpDailyCount(tx *gorm.DB, day, kind string) error {
	row := DailyCount{Date: day}
	var col string
	switch kind {
	case KindPost:
		row.PostsCount = 1
		col = "posts_count"
	case KindComment:
		row.CommentsCount = 1
		col = "comments_count"
	default:
		return fmt.Errorf("unknown engagement kind: %q", kind)
	}

	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]any{col: gorm.Expr("daily_counts."+col+" + ?", 1)}),
	}).Create(&row).Error
}

func insertEngagement(tx *gorm.DB, e *Engagement) error {
	if err := tx.Create(e).Error; err != nil {
		return fmt.Errorf("inserting engagement: %w", err)
	}
	if err := bumpDailyCount(tx, e.Day, e.Kind); err != nil {
		return fmt.Errorf("updating daily counts: %w", err)
	}
	return nil
}

func (l *Ledger) newContentHash(title, content, threadID string) *ContentHash {
	preview := content
	if utf8.RuneCountInString(preview) > previewLength {
		preview = string([]rune(preview)[:previewLength])
	}
	return &ContentHash{
		Hash:           HashContent(title, content),
		Title:          title,
		ContentPreview: preview,
		ThreadID:       threadID,
		CreatedAt:      l.Now(),
	}
}

func insertContentHash(tx *gorm.DB, h *ContentHash) error {
	// first writer wins
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hash"}},
		DoNothing: true,
	}).Create(h).Error
}

// RecordEngagement inserts e and increments the matching daily counter in one transaction.
// Repeated thread ids are accepted.
func (l *Ledger) RecordEngagement(ctx context.Context, e *Engagement) error {
	l.stampEngagement(e)
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return insertEngagement(tx, e)
	})
}

// Commit persists the outcome of one successful external write: the engagement, its daily
// counter, the content hash, and an optional outreach attempt. Either all of them land or none.
func (l *Ledger) Commit(ctx context.Context, rec *WriteRecord) error {
	e := &rec.Engagement
	l.stampEngagement(e)
	h := l.newContentHash(rec.HashTitle, e.Content, e.ThreadID)

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := insertEngagement(tx, e); err != nil {
			return err
		}
		if err := insertContentHash(tx, h); err != nil {
			return fmt.Errorf("recording content hash: %w", err)
		}
		if rec.Outreach != nil {
			l.stampOutreach(rec.Outreach)
			if err := tx.Create(rec.Outreach).Error; err != nil {
				return fmt.Errorf("recording outreach attempt: %w", err)
			}
		}
		return nil
	})
}

// RecordOpportunity appends an audit row. Callers treat failure as non-fatal.
func (l *Ledger) RecordOpportunity(ctx context.Context, o *Opportunity) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = l.Now()
	}
	return l.db.WithContext(ctx).Create(o).Error
}

func (l *Ledger) IsDuplicateContent(ctx context.Context, title, content string) (bool, error) {
	var n int64
	if err := l.db.WithContext(ctx).Model(&ContentHash{}).Where("hash = ?", HashContent(title, content)).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordContentHash is a no-op if the pair was already recorded.
func (l *Ledger) RecordContentHash(ctx context.Context, title, content, threadID string) error {
	return insertContentHash(l.db.WithContext(ctx), l.newContentHash(title, content, threadID))
}

// GetDailyCounts returns zeros for days with no activity.
func (l *Ledger) GetDailyCounts(ctx context.Context, day time.Time) (posts int, comments int, err error) {
	var rows []DailyCount
	if err := l.db.WithContext(ctx).Where("date = ?", DayKey(day)).Limit(1).Find(&rows).Error; err != nil {
		return 0, 0, err
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}
	return rows[0].PostsCount, rows[0].CommentsCount, nil
}

// GetTodayCounts is GetDailyCounts for the ledger clock's current day.
func (l *Ledger) GetTodayCounts(ctx context.Context) (posts int, comments int, err error) {
	return l.GetDailyCounts(ctx, l.Now())
}

// GetLastPostTime reports the time of the most recent post, if there is one.
func (l *Ledger) GetLastPostTime(ctx context.Context) (time.Time, bool, error) {
	var rows []Engagement
	if err := l.db.WithContext(ctx).Where("kind = ?", KindPost).Order("created_at DESC").Limit(1).Find(&rows).Error; err != nil {
		return time.Time{}, false, err
	}
	if len(rows) == 0 {
		return time.Time{}, false, nil
	}
	return rows[0].CreatedAt.UTC(), true, nil
}

func (l *Ledger) GetSubmoltPostCountToday(ctx context.Context, submolt string) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&Engagement{}).
		Where("kind = ? AND thread_submolt = ? AND day = ?", KindPost, submolt, l.today()).
		Count(&n).Error
	return n, err
}

// WasAgentApproachedRecently counts only attempts strictly after now minus cooldownDays.
func (l *Ledger) WasAgentApproachedRecently(ctx context.Context, agent string, cooldownDays int) (bool, error) {
	cutoff := l.Now().Add(-time.Duration(cooldownDays) * 24 * time.Hour)
	var n int64
	if err := l.db.WithContext(ctx).Model(&OutreachAttempt{}).
		Where("agent_name = ? AND created_at > ?", agent, cutoff).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *Ledger) AlreadyEngaged(ctx context.Context, threadID string) (bool, error) {
	var n int64
	if err := l.db.WithContext(ctx).Model(&Engagement{}).Where("thread_id = ?", threadID).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// ContentAlreadyUsed matches on the normalized content alone, ignoring titles.
func (l *Ledger) ContentAlreadyUsed(ctx context.Context, content string) (bool, error) {
	var n int64
	if err := l.db.WithContext(ctx).Model(&Engagement{}).Where("content_key = ?", ContentKey(content)).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *Ledger) stampOutreach(a *OutreachAttempt) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = l.Now()
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.Day = DayKey(a.CreatedAt)
}

func (l *Ledger) RecordOutreach(ctx context.Context, a *OutreachAttempt) error {
	l.stampOutreach(a)
	return l.db.WithContext(ctx).Create(a).Error
}

func (l *Ledger) GetOutreachCountToday(ctx context.Context) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&OutreachAttempt{}).Where("day = ?", l.today()).Count(&n).Error
	return n, err
}

// RecentEngagements returns up to limit engagements, newest first.
func (l *Ledger) RecentEngagements(ctx context.Context, limit int) ([]Engagement, error) {
	var out []Engagement
	if err := l.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// OpportunitySummary counts opportunities grouped by mode and action.
func (l *Ledger) OpportunitySummary(ctx context.Context) ([]ModeSummary, error) {
	var out []ModeSummary
	err := l.db.WithContext(ctx).Model(&Opportunity{}).
		Select("mode, action_taken, count(*) AS total").
		Group("mode, action_taken").
		Order("mode, action_taken").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
