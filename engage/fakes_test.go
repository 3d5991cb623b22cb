package engage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cleanapp/moltagent/ledger"
	"github.com/cleanapp/moltagent/moltbook"
	"github.com/cleanapp/moltagent/policy"
	"github.com/cleanapp/moltagent/prompts"
)

var testStart = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type writeCall struct {
	Target  string
	Title   string
	Content string
}

type fakeSource struct {
	mu        sync.Mutex
	results   map[string][]moltbook.Post
	searchErr map[string]error
	failWith  string
	onWrite   func()
	comments  []writeCall
	posts     []writeCall

	threadComments map[string][]moltbook.Comment
	commentsErr    error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		results:        map[string][]moltbook.Post{},
		searchErr:      map[string]error{},
		threadComments: map[string][]moltbook.Comment{},
	}
}

func (s *fakeSource) GetComments(ctx context.Context, postID string) ([]moltbook.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commentsErr != nil {
		return nil, s.commentsErr
	}
	return s.threadComments[postID], nil
}

func (s *fakeSource) Search(ctx context.Context, query, typeFilter string, limit int) ([]moltbook.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.searchErr[query]; err != nil {
		return nil, err
	}
	posts := s.results[query]
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (s *fakeSource) write(list *[]writeCall, c writeCall) moltbook.WriteResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != "" {
		return moltbook.WriteResult{Error: s.failWith}
	}
	*list = append(*list, c)
	if s.onWrite != nil {
		s.onWrite()
	}
	return moltbook.WriteResult{Success: true, DryRun: true}
}

func (s *fakeSource) CreatePost(ctx context.Context, submolt, title, content string) moltbook.WriteResult {
	return s.write(&s.posts, writeCall{Target: submolt, Title: title, Content: content})
}

func (s *fakeSource) CreateComment(ctx context.Context, threadID, content, parentID string) moltbook.WriteResult {
	return s.write(&s.comments, writeCall{Target: threadID, Content: content})
}

func (s *fakeSource) commentTargets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.comments {
		out = append(out, c.Target)
	}
	return out
}

// fakeOracle answers relevance prompts from a table keyed by thread title and writes a
// reply that quotes the title, so each thread gets distinct text.
type fakeOracle struct {
	verdicts map[string]string
	reply    func(title string) (string, error)
	draft    string
	calls    int
}

func relevant(score float64) string {
	return fmt.Sprintf("RELEVANCE: %.2f\nMODE: intake\nCAN_ADD_VALUE: yes\nREASON: on topic", score)
}

func titleOf(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if t, ok := strings.CutPrefix(line, "Title: "); ok {
			return t
		}
	}
	return ""
}

func (o *fakeOracle) Generate(ctx context.Context, prompt string) (string, error) {
	o.calls++
	title := titleOf(prompt)
	switch {
	case strings.Contains(prompt, "CAN_ADD_VALUE:"):
		v, ok := o.verdicts[title]
		if !ok {
			return "", errors.New("no verdict scripted")
		}
		return v, nil
	case strings.Contains(prompt, "TITLE: <"):
		return o.draft, nil
	}
	if o.reply != nil {
		return o.reply(title)
	}
	return fmt.Sprintf("Interesting point about %s. In our pipeline the hard part is deduplicating reports before routing them.", title), nil
}

type testEnv struct {
	agent  *Agent
	src    *fakeSource
	oracle *fakeOracle
	clock  *ledger.FixedClock
	ledger *ledger.Ledger
}

func testData() policy.Data {
	data := policy.DefaultData()
	data.SearchQueries = map[string][]string{
		policy.ModeIntake:   {"q-intake"},
		policy.ModeAnalysis: {"q-analysis"},
	}
	data.OutreachQueries = []string{"q-out-1", "q-out-2"}
	return data
}

func newTestEnv(t *testing.T, limits policy.Limits) *testEnv {
	t.Helper()
	clock := &ledger.FixedClock{T: testStart}
	led := ledger.NewTestLedger(t, clock.Now)
	return newTestEnvWithLedger(t, led, clock, limits, newFakeSource())
}

func newTestEnvWithLedger(t *testing.T, led *ledger.Ledger, clock *ledger.FixedClock, limits policy.Limits, src *fakeSource) *testEnv {
	t.Helper()
	tpl, err := prompts.Load()
	require.NoError(t, err)

	data := testData()
	cfg := DefaultConfig()
	cfg.Data = data
	cfg.WriteDelay = 0

	gen := &fakeOracle{verdicts: map[string]string{}}
	pol := policy.NewEngine(led, limits, data, clock.Now)
	return &testEnv{
		agent:  NewAgent(cfg, led, pol, src, gen, tpl),
		src:    src,
		oracle: gen,
		clock:  clock,
		ledger: led,
	}
}

func outcomeByThread(s *CycleSummary) map[string]Outcome {
	out := map[string]Outcome{}
	for _, o := range s.Outcomes {
		out[o.ThreadID] = o
	}
	return out
}
