package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/RussellLuo/slidingwindow"
	"google.golang.org/genai"
)

// ModelQuota is one model in the fallback order, with its free-tier request budget.
type ModelQuota struct {
	Name string
	// requests per minute and per day; zero means unlimited
	RPM int64
	RPD int64
}

type GeminiConfig struct {
	APIKey string
	Models []ModelQuota
}

func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		Models: []ModelQuota{
			{Name: "gemini-2.0-flash", RPM: 15, RPD: 1500},
			{Name: "gemini-2.0-flash-lite", RPM: 30, RPD: 1500},
		},
	}
}

// ParseModelList parses a comma separated list of "name" or "name:rpm:rpd" entries. Entries
// without explicit quotas take them from DefaultGeminiConfig when the name matches, else unlimited.
func ParseModelList(s string) ([]ModelQuota, error) {
	known := map[string]ModelQuota{}
	for _, m := range DefaultGeminiConfig().Models {
		known[m.Name] = m
	}

	var out []ModelQuota
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		switch len(fields) {
		case 1:
			m, ok := known[part]
			if !ok {
				m = ModelQuota{Name: part}
			}
			out = append(out, m)
		case 3:
			rpm, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("model %q: bad requests-per-minute: %w", fields[0], err)
			}
			rpd, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("model %q: bad requests-per-day: %w", fields[0], err)
			}
			out = append(out, ModelQuota{Name: fields[0], RPM: rpm, RPD: rpd})
		default:
			return nil, fmt.Errorf("malformed model entry: %q", part)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no models configured")
	}
	return out, nil
}

func windowFunc() (slidingwindow.Window, slidingwindow.StopFunc) {
	return slidingwindow.NewLocalWindow()
}

type model struct {
	name      string
	perMinute *slidingwindow.Limiter
	perDay    *slidingwindow.Limiter
}

// allow records a request against the model's windows. A denial by the minute window still
// spends the daily slot, which only makes the local budget more conservative.
func (m *model) allow() bool {
	now := time.Now()
	if m.perDay != nil && !m.perDay.AllowN(now, 1) {
		return false
	}
	if m.perMinute != nil && !m.perMinute.AllowN(now, 1) {
		return false
	}
	return true
}

type generateFunc func(ctx context.Context, model, prompt string) (string, error)

// Gemini calls Google's Gemini models in order, moving on to the next model when one is over
// its local quota, rate limited upstream, or unavailable.
type Gemini struct {
	models []*model
	call   generateFunc
	logger *slog.Logger
}

func NewGemini(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return newGemini(cfg.Models, genaiCall(client), logger)
}

func newGemini(quotas []ModelQuota, call generateFunc, logger *slog.Logger) (*Gemini, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(quotas) == 0 {
		return nil, fmt.Errorf("no models configured")
	}
	g := &Gemini{
		call:   call,
		logger: logger.With("component", "oracle"),
	}
	for _, q := range quotas {
		m := &model{name: q.Name}
		if q.RPM > 0 {
			lim, _ := slidingwindow.NewLimiter(time.Minute, q.RPM, windowFunc)
			m.perMinute = lim
		}
		if q.RPD > 0 {
			lim, _ := slidingwindow.NewLimiter(24*time.Hour, q.RPD, windowFunc)
			m.perDay = lim
		}
		g.models = append(g.models, m)
	}
	return g, nil
}

func genaiCall(client *genai.Client) generateFunc {
	return func(ctx context.Context, model, prompt string) (string, error) {
		result, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
		if err != nil {
			return "", err
		}
		if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
			return "", nil
		}
		var sb strings.Builder
		for _, part := range result.Candidates[0].Content.Parts {
			if part != nil {
				sb.WriteString(part.Text)
			}
		}
		return sb.String(), nil
	}
}

// isFallbackError reports upstream failures that another model might not share.
func isFallbackError(err error) bool {
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "exhausted") ||
		strings.Contains(errStr, "404") ||
		strings.Contains(errStr, "not found")
}

func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for _, m := range g.models {
		if !m.allow() {
			oracleRequests.WithLabelValues(m.name, "quota").Inc()
			g.logger.Debug("model over local quota", "model", m.name)
			continue
		}

		text, err := g.call(ctx, m.name, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if isFallbackError(err) {
				oracleRequests.WithLabelValues(m.name, "unavailable").Inc()
				g.logger.Warn("model unavailable, falling back", "model", m.name, "err", err)
				lastErr = err
				continue
			}
			oracleRequests.WithLabelValues(m.name, "error").Inc()
			return "", fmt.Errorf("generating with %s: %w", m.name, err)
		}

		text = strings.TrimSpace(text)
		if text == "" {
			oracleRequests.WithLabelValues(m.name, "empty").Inc()
			lastErr = ErrNoOutput
			continue
		}
		oracleRequests.WithLabelValues(m.name, "ok").Inc()
		return text, nil
	}

	if lastErr == nil {
		return "", fmt.Errorf("all models over quota: %w", ErrNoOutput)
	}
	if errors.Is(lastErr, ErrNoOutput) {
		return "", lastErr
	}
	return "", fmt.Errorf("all models failed: %w", errors.Join(ErrNoOutput, lastErr))
}
