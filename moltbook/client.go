package moltbook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/carlmjohnson/versioninfo"

	"github.com/cleanapp/moltagent/util"
)

const (
	DefaultHost = "https://www.moltbook.com/api/v1"

	suspendedError = "Account suspended"
)

var suspensionHours = regexp.MustCompile(`ends in\s+([0-9]+(?:\.[0-9]+)?)`)

type Config struct {
	Host      string
	APIKey    string
	DryRun    bool
	UserAgent string
}

func DefaultConfig() Config {
	return Config{
		Host:      DefaultHost,
		DryRun:    true,
		UserAgent: "moltagent/" + versioninfo.Short(),
	}
}

// Client talks to the Moltbook REST API. Reads are always live; writes are
// replaced by logged no-ops in dry-run mode, and are refused while the account
// is unhealthy.
type Client struct {
	Host      string
	APIKey    string
	DryRun    bool
	UserAgent string

	// HTTP is used for reads and retries transient failures. WriteHTTP only retries throttling.
	HTTP      *http.Client
	WriteHTTP *http.Client

	// HealthTTL is how long a healthy (or open-ended suspended) verdict is trusted before
	// writes check again. UnhealthyTTL is the same for failed checks with no suspension hint.
	HealthTTL    time.Duration
	UnhealthyTTL time.Duration

	logger *slog.Logger
	now    func() time.Time

	lk        sync.Mutex
	health    *Health
	checkedAt time.Time
}

const (
	DefaultHealthTTL    = 15 * time.Minute
	DefaultUnhealthyTTL = time.Minute
)

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "moltbook")
	host := strings.TrimSuffix(cfg.Host, "/")
	if host == "" {
		host = DefaultHost
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "moltagent/" + versioninfo.Short()
	}
	return &Client{
		Host:      host,
		APIKey:    cfg.APIKey,
		DryRun:    cfg.DryRun,
		UserAgent: ua,
		HTTP:      util.RobustHTTPClient(logger),
		WriteHTTP: util.ThrottleOnlyHTTPClient(logger),

		HealthTTL:    DefaultHealthTTL,
		UnhealthyTTL: DefaultUnhealthyTTL,

		logger: logger,
		now:    time.Now,
	}
}

func (c *Client) do(ctx context.Context, httpc *http.Client, method, op, path string, params url.Values, bodyobj any, out any) error {
	var body io.Reader
	if bodyobj != nil {
		b, err := json.Marshal(bodyobj)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	uri := c.Host + path
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return err
	}
	if bodyobj != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.UserAgent)
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := httpc.Do(req)
	if err != nil {
		apiRequests.WithLabelValues(op, "transport").Inc()
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	apiRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae APIError
		if err := json.NewDecoder(resp.Body).Decode(&ae); err != nil || ae.ErrStr == "" {
			return errorFromHTTPResponse(resp, fmt.Errorf("%s %s: %s", method, path, http.StatusText(resp.StatusCode)))
		}
		return errorFromHTTPResponse(resp, &ae)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", op, err)
		}
	}
	return nil
}

// Search runs a semantic search. typeFilter is one of "posts", "comments", or "all".
func (c *Client) Search(ctx context.Context, query, typeFilter string, limit int) ([]Post, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("type", typeFilter)
	params.Set("limit", strconv.Itoa(limit))

	var out listEnvelope
	if err := c.do(ctx, c.HTTP, http.MethodGet, "search", "/search", params, nil, &out); err != nil {
		return nil, err
	}
	return out.items(), nil
}

func (c *Client) GetFeed(ctx context.Context, sort string, limit int) ([]Post, error) {
	params := url.Values{}
	params.Set("sort", sort)
	params.Set("limit", strconv.Itoa(limit))

	var out listEnvelope
	if err := c.do(ctx, c.HTTP, http.MethodGet, "get_feed", "/posts", params, nil, &out); err != nil {
		return nil, err
	}
	return out.items(), nil
}

func (c *Client) GetSubmoltFeed(ctx context.Context, submolt, sort string) ([]Post, error) {
	params := url.Values{}
	params.Set("sort", sort)

	var out listEnvelope
	if err := c.do(ctx, c.HTTP, http.MethodGet, "get_submolt_feed", "/submolts/"+url.PathEscape(submolt)+"/feed", params, nil, &out); err != nil {
		return nil, err
	}
	return out.items(), nil
}

func (c *Client) GetPost(ctx context.Context, id string) (*Post, error) {
	var out struct {
		Data *Post `json:"data"`
		Post *Post `json:"post"`
	}
	if err := c.do(ctx, c.HTTP, http.MethodGet, "get_post", "/posts/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	switch {
	case out.Data != nil:
		return out.Data, nil
	case out.Post != nil:
		return out.Post, nil
	}
	return nil, fmt.Errorf("post %s: empty response", id)
}

func (c *Client) GetComments(ctx context.Context, postID string) ([]Comment, error) {
	params := url.Values{}
	params.Set("sort", "top")

	var out struct {
		Data     []Comment `json:"data"`
		Comments []Comment `json:"comments"`
	}
	if err := c.do(ctx, c.HTTP, http.MethodGet, "get_comments", "/posts/"+url.PathEscape(postID)+"/comments", params, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Data) > 0 {
		return out.Data, nil
	}
	return out.Comments, nil
}

type meResponse struct {
	Success *bool    `json:"success"`
	Error   string   `json:"error"`
	Hint    string   `json:"hint"`
	Agent   *Profile `json:"agent"`
	Profile
}

func (m meResponse) profile() Profile {
	if m.Agent != nil {
		return *m.Agent
	}
	return m.Profile
}

func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var out meResponse
	if err := c.do(ctx, c.HTTP, http.MethodGet, "profile", "/agents/me", nil, nil, &out); err != nil {
		return Profile{}, err
	}
	return out.profile(), nil
}

func suspendedHealth(hint string) Health {
	h := Health{
		OK:        false,
		Message:   hint,
		Suspended: true,
	}
	if h.Message == "" {
		h.Message = suspendedError
	}
	if strings.Contains(hint, "ends in") {
		hours := 24.0
		if m := suspensionHours.FindStringSubmatch(hint); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				hours = v
			}
		}
		h.RetryAfter = time.Duration(hours * float64(time.Hour))
	}
	return h
}

// CheckHealth fetches our own profile to detect suspensions and bad credentials. The result
// is remembered and consulted before writes until it expires.
func (c *Client) CheckHealth(ctx context.Context) Health {
	h := c.checkHealth(ctx)
	c.lk.Lock()
	c.health = &h
	c.checkedAt = c.now()
	c.lk.Unlock()
	return h
}

// healthTTL: a suspension holds until its announced end, other failures are retried soon.
func (c *Client) healthTTL(h Health) time.Duration {
	switch {
	case h.OK:
		return c.HealthTTL
	case h.Suspended && h.RetryAfter > 0:
		return h.RetryAfter
	case h.Suspended:
		return c.HealthTTL
	default:
		return c.UnhealthyTTL
	}
}

// cachedHealth returns the remembered verdict if it has not expired.
func (c *Client) cachedHealth() (Health, bool) {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.health == nil {
		return Health{}, false
	}
	if c.now().Sub(c.checkedAt) >= c.healthTTL(*c.health) {
		return Health{}, false
	}
	return *c.health, true
}

func (c *Client) checkHealth(ctx context.Context) Health {
	var out meResponse
	err := c.do(ctx, c.HTTP, http.MethodGet, "health", "/agents/me", nil, nil, &out)
	if err != nil {
		var ae *APIError
		if errors.As(err, &ae) && ae.ErrStr == suspendedError {
			c.logger.Warn("account suspended", "hint", ae.Hint)
			return suspendedHealth(ae.Hint)
		}
		c.logger.Error("health check failed", "err", err)
		return Health{OK: false, Message: err.Error()}
	}

	if out.Error == suspendedError {
		c.logger.Warn("account suspended", "hint", out.Hint)
		return suspendedHealth(out.Hint)
	}
	if out.Success != nil && !*out.Success {
		msg := out.Error
		if msg == "" {
			msg = "Unknown error"
		}
		c.logger.Error("health check failed", "err", msg)
		return Health{OK: false, Message: msg}
	}

	name := out.profile().DisplayName()
	c.logger.Info("health check OK", "agent", name)
	return Health{OK: true, Message: fmt.Sprintf("Healthy (agent: %s)", name)}
}

// preflight returns a skipped result if writes should not be attempted.
func (c *Client) preflight(ctx context.Context) (WriteResult, bool) {
	h, ok := c.cachedHealth()
	if !ok {
		h = c.CheckHealth(ctx)
	}
	if h.OK {
		return WriteResult{}, false
	}
	msg := "Skipping write: account not healthy (suspended or auth failure)"
	c.logger.Warn(msg, "health", h.Message)
	return WriteResult{Success: false, Skipped: true, Error: msg}, true
}

func writeResult(out createEnvelope, err error) WriteResult {
	if err != nil {
		res := WriteResult{Success: false, Error: err.Error()}
		var ae *APIError
		if errors.As(err, &ae) {
			res.Error = ae.ErrStr
			res.Hint = ae.Hint
		}
		return res
	}
	if out.Success != nil && !*out.Success {
		msg := out.Error
		if msg == "" {
			msg = "write rejected"
		}
		return WriteResult{Success: false, Error: msg, Hint: out.Hint}
	}
	return WriteResult{Success: true, ID: out.id()}
}

func (c *Client) CreatePost(ctx context.Context, submolt, title, content string) WriteResult {
	if c.DryRun {
		c.logger.Info("dry-run: would create post", "submolt", submolt, "title", title)
		return WriteResult{Success: true, DryRun: true}
	}
	if res, blocked := c.preflight(ctx); blocked {
		return res
	}

	body := map[string]string{
		"submolt": submolt,
		"title":   title,
		"content": content,
	}
	var out createEnvelope
	err := c.do(ctx, c.WriteHTTP, http.MethodPost, "create_post", "/posts", nil, body, &out)
	res := writeResult(out, err)
	if !res.Success {
		c.logger.Error("create post failed", "submolt", submolt, "err", res.Error, "hint", res.Hint)
	}
	return res
}

// CreateComment replies to a thread, or to another comment when parentID is set.
func (c *Client) CreateComment(ctx context.Context, threadID, content, parentID string) WriteResult {
	if c.DryRun {
		c.logger.Info("dry-run: would comment", "thread", threadID, "content", truncate(content, 80))
		return WriteResult{Success: true, DryRun: true}
	}
	if res, blocked := c.preflight(ctx); blocked {
		return res
	}

	body := map[string]string{"content": content}
	if parentID != "" {
		body["parent_id"] = parentID
	}
	var out createEnvelope
	err := c.do(ctx, c.WriteHTTP, http.MethodPost, "create_comment", "/posts/"+url.PathEscape(threadID)+"/comments", nil, body, &out)
	res := writeResult(out, err)
	if !res.Success {
		c.logger.Error("create comment failed", "thread", threadID, "err", res.Error, "hint", res.Hint)
	}
	return res
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
