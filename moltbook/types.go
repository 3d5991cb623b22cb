package moltbook

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cleanapp/moltagent/util"
)

// Post is a thread (or search hit) on Moltbook.
type Post struct {
	ID         string
	Title      string
	Content    string
	Submolt    string
	Author     string
	Upvotes    int
	Similarity float64
	CreatedAt  time.Time
}

type rawPost struct {
	ID         nameOrString `json:"id"`
	Title      string       `json:"title"`
	Content    string       `json:"content"`
	Submolt    nameOrString `json:"submolt"`
	Author     nameOrString `json:"author"`
	Upvotes    int          `json:"upvotes"`
	Similarity float64      `json:"similarity"`
	CreatedAt  string       `json:"created_at"`
}

func (p *Post) UnmarshalJSON(b []byte) error {
	var raw rawPost
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = Post{
		ID:         string(raw.ID),
		Title:      raw.Title,
		Content:    raw.Content,
		Submolt:    string(raw.Submolt),
		Author:     string(raw.Author),
		Upvotes:    raw.Upvotes,
		Similarity: raw.Similarity,
	}
	if raw.CreatedAt != "" {
		// a bad timestamp is not worth dropping the post over
		if ts, err := util.ParseTimestamp(raw.CreatedAt); err == nil {
			p.CreatedAt = ts
		}
	}
	return nil
}

// nameOrString accepts a JSON string, a number, or an object carrying a "name" (or "id") field.
type nameOrString string

func (n *nameOrString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = nameOrString(s)
	case '{':
		var obj struct {
			Name     *string      `json:"name"`
			Username *string      `json:"username"`
			ID       *json.Number `json:"id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		switch {
		case obj.Name != nil:
			*n = nameOrString(*obj.Name)
		case obj.Username != nil:
			*n = nameOrString(*obj.Username)
		case obj.ID != nil:
			*n = nameOrString(obj.ID.String())
		default:
			*n = ""
		}
	default:
		var num json.Number
		if err := json.Unmarshal(b, &num); err != nil {
			// unknown shapes degrade to empty rather than failing the whole listing
			*n = ""
			return nil
		}
		if _, err := strconv.ParseFloat(num.String(), 64); err != nil {
			*n = ""
			return nil
		}
		*n = nameOrString(num.String())
	}
	return nil
}

// Comment on a post, as returned by the comments listing.
type Comment struct {
	ID       string
	Content  string
	Author   string
	ParentID string
	Upvotes  int
}

func (c *Comment) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID       nameOrString `json:"id"`
		Content  string       `json:"content"`
		Author   nameOrString `json:"author"`
		ParentID nameOrString `json:"parent_id"`
		Upvotes  int          `json:"upvotes"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = Comment{
		ID:       string(raw.ID),
		Content:  raw.Content,
		Author:   string(raw.Author),
		ParentID: string(raw.ParentID),
		Upvotes:  raw.Upvotes,
	}
	return nil
}

// Profile is our own agent account.
type Profile struct {
	Name        string `json:"name"`
	Username    string `json:"username"`
	Description string `json:"description"`
	Karma       int    `json:"karma"`
}

func (p Profile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	if p.Username != "" {
		return p.Username
	}
	return "unknown"
}

// Health is the result of probing our own account.
type Health struct {
	OK         bool
	Message    string
	Suspended  bool
	RetryAfter time.Duration
}

// Err is nil when healthy.
func (h Health) Err() error {
	if h.OK {
		return nil
	}
	if h.Suspended {
		return ErrSuspended
	}
	return &APIError{ErrStr: "unhealthy", Message: h.Message}
}

// WriteResult is the uniform outcome of a post or comment write. Failures are
// reported here rather than as Go errors so the caller can log and move on.
type WriteResult struct {
	Success bool
	DryRun  bool
	// write was not attempted because the account is unhealthy
	Skipped bool
	ID      string
	Error   string
	Hint    string
}

type listEnvelope struct {
	Results []Post `json:"results"`
	Data    []Post `json:"data"`
	Posts   []Post `json:"posts"`
}

func (e listEnvelope) items() []Post {
	switch {
	case len(e.Results) > 0:
		return e.Results
	case len(e.Data) > 0:
		return e.Data
	default:
		return e.Posts
	}
}

type createEnvelope struct {
	Success *bool        `json:"success"`
	ID      nameOrString `json:"id"`
	Data    *struct {
		ID nameOrString `json:"id"`
	} `json:"data"`
	Post *struct {
		ID nameOrString `json:"id"`
	} `json:"post"`
	Comment *struct {
		ID nameOrString `json:"id"`
	} `json:"comment"`
	Error string `json:"error"`
	Hint  string `json:"hint"`
}

func (e createEnvelope) id() string {
	switch {
	case e.ID != "":
		return string(e.ID)
	case e.Data != nil && e.Data.ID != "":
		return string(e.Data.ID)
	case e.Post != nil && e.Post.ID != "":
		return string(e.Post.ID)
	case e.Comment != nil:
		return string(e.Comment.ID)
	}
	return ""
}
