package ledger

import (
	"time"
)

const (
	KindPost    = "post"
	KindComment = "comment"
)

const (
	ActionEngaged = "engaged"
	ActionSkipped = "skipped"
	ActionQueued  = "queued"
)

// Engagement is a write we performed against the platform. Rows are never updated or deleted.
type Engagement struct {
	ID             uint   `gorm:"primarykey"`
	ThreadID       string `gorm:"index"`
	Kind           string `gorm:"index"`
	Mode           string
	Content        string
	ContentKey     string `gorm:"index"`
	ThreadTitle    string
	ThreadSubmolt  string `gorm:"index"`
	RelevanceScore float64
	// UTC calendar day, "2006-01-02"
	Day       string `gorm:"index"`
	CreatedAt time.Time
}

// DailyCount mirrors the number of post and comment Engagements for one UTC day.
type DailyCount struct {
	Date          string `gorm:"primaryKey"`
	PostsCount    int
	CommentsCount int
}

// Opportunity is an audit record of a candidate thread and what we did with it.
type Opportunity struct {
	ID             uint `gorm:"primarykey"`
	Mode           string
	ThreadID       string `gorm:"index"`
	Title          string
	Submolt        string
	Author         string
	RelevanceScore float64
	ActionTaken    string
	Reason         string
	CreatedAt      time.Time
}

type ContentHash struct {
	ID             uint   `gorm:"primarykey"`
	Hash           string `gorm:"uniqueIndex"`
	Title          string
	ContentPreview string
	ThreadID       string
	CreatedAt      time.Time
}

type OutreachAttempt struct {
	ID               uint   `gorm:"primarykey"`
	AgentName        string `gorm:"index"`
	ThreadID         string
	Context          string
	ApproachType     string
	OurMessage       string
	ResponseReceived bool
	Converted        bool
	Day              string `gorm:"index"`
	CreatedAt        time.Time `gorm:"index"`
}

// ModeSummary is one row of the opportunity rollup shown by status.
type ModeSummary struct {
	Mode        string
	ActionTaken string
	Total       int64
}

// WriteRecord is everything persisted after one successful external write.
type WriteRecord struct {
	Engagement Engagement

	// title half of the dedup hash; empty for comments
	HashTitle string

	Outreach *OutreachAttempt
}
