package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cleanapp/moltagent/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testEngine(t *testing.T) (*Engine, *ledger.Ledger, *ledger.FixedClock) {
	clock := &ledger.FixedClock{T: testStart}
	l := ledger.NewTestLedger(t, clock.Now)
	return NewEngine(l, DefaultLimits(), DefaultData(), clock.Now), l, clock
}

func TestDailyLimits(t *testing.T) {
	ctx := context.Background()

	for _, max := range []int{1, 3, 5} {
		t.Run(fmt.Sprintf("max_%d", max), func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			eng, l, _ := testEngine(t)
			eng.Limits.MaxPostsPerDay = max
			eng.Limits.MaxCommentsPerDay = max

			for i := 0; i < max; i++ {
				d, err := eng.CanPost(ctx)
				require.NoError(err)
				assert.True(d.Allowed)
				assert.Equal(ReasonOK, d.Reason)
				require.NoError(l.RecordEngagement(ctx, &ledger.Engagement{ThreadID: "p", Kind: ledger.KindPost, Content: "post"}))
				require.NoError(l.RecordEngagement(ctx, &ledger.Engagement{ThreadID: "c", Kind: ledger.KindComment, Content: "comment"}))
			}

			d, err := eng.CanPost(ctx)
			require.NoError(err)
			assert.False(d.Allowed)
			assert.Equal(fmt.Sprintf("Daily post limit reached (%d/%d)", max, max), d.Reason)

			d, err = eng.CanComment(ctx)
			require.NoError(err)
			assert.False(d.Allowed)
			assert.Equal(fmt.Sprintf("Daily comment limit reached (%d/%d)", max, max), d.Reason)
		})
	}
}

func TestCanPostNowBoundary(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	eng, l, clock := testEngine(t)

	d, err := eng.CanPostNow(ctx)
	require.NoError(err)
	assert.True(d.Allowed)

	require.NoError(l.RecordEngagement(ctx, &ledger.Engagement{ThreadID: "p1", Kind: ledger.KindPost, Content: "post"}))

	d, err = eng.CanPostNow(ctx)
	require.NoError(err)
	assert.False(d.Allowed)
	assert.Equal("Post cooldown: 30 minutes remaining", d.Reason)

	clock.Advance(30*time.Minute - time.Second)
	d, err = eng.CanPostNow(ctx)
	require.NoError(err)
	assert.False(d.Allowed)
	// rounding only affects the message
	assert.Equal("Post cooldown: 0 minutes remaining", d.Reason)

	clock.Advance(time.Second)
	d, err = eng.CanPostNow(ctx)
	require.NoError(err)
	assert.True(d.Allowed)
}

func TestCanPostToSubmolt(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	eng, l, clock := testEngine(t)

	d, err := eng.CanPostToSubmolt(ctx, "general")
	require.NoError(err)
	assert.True(d.Allowed)

	require.NoError(l.RecordEngagement(ctx, &ledger.Engagement{ThreadID: "p1", Kind: ledger.KindPost, ThreadSubmolt: "general", Content: "post"}))
	d, err = eng.CanPostToSubmolt(ctx, "general")
	require.NoError(err)
	assert.False(d.Allowed)
	assert.Contains(d.Reason, "general")

	clock.Advance(24 * time.Hour)
	d, err = eng.CanPostToSubmolt(ctx, "general")
	require.NoError(err)
	assert.True(d.Allowed)
}

func TestOutreachGates(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	eng, l, clock := testEngine(t)
	eng.Limits.MaxOutreachPerDay = 2

	d, err := eng.CanApproachAgent(ctx, "mapper")
	require.NoError(err)
	assert.True(d.Allowed)

	require.NoError(l.RecordOutreach(ctx, &ledger.OutreachAttempt{AgentName: "mapper"}))
	d, err = eng.CanApproachAgent(ctx, "mapper")
	require.NoError(err)
	assert.False(d.Allowed)
	assert.Contains(d.Reason, "mapper")

	d, err = eng.CanApproachAgent(ctx, "sensorbot")
	require.NoError(err)
	assert.True(d.Allowed)

	require.NoError(l.RecordOutreach(ctx, &ledger.OutreachAttempt{AgentName: "sensorbot"}))
	// cap reached: a fresh agent is still denied
	d, err = eng.CanApproachAgent(ctx, "newcomer")
	require.NoError(err)
	assert.False(d.Allowed)
	assert.Equal("Daily outreach limit reached (2/2)", d.Reason)

	// cap resets the next day but the per-agent cooldown does not
	clock.Advance(24 * time.Hour)
	d, err = eng.CanOutreach(ctx)
	require.NoError(err)
	assert.True(d.Allowed)
	d, err = eng.CanApproachAgent(ctx, "mapper")
	require.NoError(err)
	assert.False(d.Allowed)

	clock.Advance(6 * 24 * time.Hour)
	d, err = eng.CanApproachAgent(ctx, "mapper")
	require.NoError(err)
	assert.True(d.Allowed)
}

func TestValidateContent(t *testing.T) {
	assert := assert.New(t)
	eng := NewEngine(nil, DefaultLimits(), DefaultData(), nil)

	longPost := strings.Repeat("x", 10001)
	okPost := strings.Repeat("x", 50)

	fixtures := []struct {
		title   string
		content string
		reason  string
	}{
		{title: "", content: okPost, reason: "Title is empty"},
		{title: "   ", content: okPost, reason: "Title is empty"},
		{title: strings.Repeat("t", 201), content: okPost, reason: "Title too long (201 > 200 chars)"},
		{title: "Fine", content: "too short", reason: "Content too short (9 < 50 chars)"},
		{title: "Fine", content: longPost, reason: "Content too long (10001 > 10000 chars)"},
		// the first violation wins
		{title: "", content: "short", reason: "Title is empty"},
		{title: "Fine", content: okPost, reason: ReasonOK},
		// characters, not bytes
		{title: "Fine", content: strings.Repeat("é", 50), reason: ReasonOK},
	}
	for _, fix := range fixtures {
		d := eng.ValidatePostContent(fix.title, fix.content)
		assert.Equal(fix.reason, d.Reason)
		assert.Equal(fix.reason == ReasonOK, d.Allowed)
	}

	d := eng.ValidateCommentContent("short")
	assert.False(d.Allowed)
	assert.Equal("Content too short (5 < 20 chars)", d.Reason)
	d = eng.ValidateCommentContent(strings.Repeat("y", 2001))
	assert.Equal("Content too long (2001 > 2000 chars)", d.Reason)
	d = eng.ValidateCommentContent(strings.Repeat("y", 20))
	assert.True(d.Allowed)
}

func TestClassifyMode(t *testing.T) {
	assert := assert.New(t)
	eng := NewEngine(nil, DefaultLimits(), DefaultData(), nil)

	mode, ok := eng.ClassifyMode("crowdsourcing sensor networks")
	assert.True(ok)
	assert.Equal(ModeIntake, mode)

	mode, ok = eng.ClassifyMode("completely unrelated text")
	assert.False(ok)
	assert.Equal(ModeNone, mode)

	mode, _ = eng.ClassifyMode("Our LLM pipeline does DEDUPLICATION and clustering")
	assert.Equal(ModeAnalysis, mode)

	// one hit each: earliest category wins
	mode, _ = eng.ClassifyMode("dashboards and scraping")
	assert.Equal(ModeIntake, mode)
	eng.Topics = []Category{eng.Topics[2], eng.Topics[0], eng.Topics[1]}
	mode, _ = eng.ClassifyMode("dashboards and scraping")
	assert.Equal(ModeDistribution, mode)
}

func TestShouldSkip(t *testing.T) {
	assert := assert.New(t)
	eng := NewEngine(nil, DefaultLimits(), DefaultData(), nil)

	skip, reason := eng.ShouldSkip("New MEME COIN launching")
	assert.True(skip)
	assert.Equal("Matches do-not-engage topic: meme coin", reason)

	skip, reason = eng.ShouldSkip("sensor calibration for street lamps")
	assert.False(skip)
	assert.Equal(ReasonOK, reason)
}

func TestDuplicateChecks(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	eng, l, clock := testEngine(t)

	dup, err := eng.IsDuplicate(ctx, "Hello", "World of sensors")
	require.NoError(err)
	assert.False(dup)

	require.NoError(l.Commit(ctx, &ledger.WriteRecord{
		Engagement: ledger.Engagement{ThreadID: "p1", Kind: ledger.KindPost, Content: "World of sensors", ThreadTitle: "Hello"},
		HashTitle:  "Hello",
	}))

	// elapsed time does not matter
	clock.Advance(90 * 24 * time.Hour)
	dup, err = eng.IsDuplicate(ctx, "  hello ", "WORLD OF SENSORS")
	require.NoError(err)
	assert.True(dup)

	rep, err := eng.CheckRepetition(ctx, "world of sensors")
	require.NoError(err)
	assert.True(rep)
}

type countingLedger struct {
	LedgerReader
	engagedCalls int
	countCalls   int
	engaged      bool
	comments     int
	err          error
}

func (c *countingLedger) AlreadyEngaged(ctx context.Context, threadID string) (bool, error) {
	c.engagedCalls++
	return c.engaged, c.err
}

func (c *countingLedger) GetDailyCounts(ctx context.Context, day time.Time) (int, int, error) {
	c.countCalls++
	return 0, c.comments, nil
}

func TestEvaluateThreadOrder(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	fake := &countingLedger{}
	eng := NewEngine(fake, DefaultLimits(), DefaultData(), nil)

	// blocklist short-circuits before any ledger query
	ev, err := eng.EvaluateThread(ctx, "crowdsourcing politics", "", "t1")
	require.NoError(err)
	assert.False(ev.Engage)
	assert.Equal("Matches do-not-engage topic: politics", ev.Reason)
	assert.Equal(0, fake.engagedCalls)

	fake.engaged = true
	ev, err = eng.EvaluateThread(ctx, "crowdsourcing", "sensor networks", "t1")
	require.NoError(err)
	assert.False(ev.Engage)
	assert.Equal("Already engaged with this thread", ev.Reason)
	assert.Equal(0, fake.countCalls)

	fake.engaged = false
	ev, err = eng.EvaluateThread(ctx, "weekend", "recipes", "t2")
	require.NoError(err)
	assert.False(ev.Engage)
	assert.Equal(ModeNone, ev.Mode)
	assert.Equal(0, fake.countCalls)

	fake.comments = 5
	ev, err = eng.EvaluateThread(ctx, "Routing alerts", "to decision makers", "t3")
	require.NoError(err)
	assert.False(ev.Engage)
	assert.Equal(ModeDistribution, ev.Mode)
	assert.Equal("Daily comment limit reached (5/5)", ev.Reason)

	fake.comments = 0
	ev, err = eng.EvaluateThread(ctx, "Routing alerts", "to decision makers", "t3")
	require.NoError(err)
	assert.True(ev.Engage)
	assert.Equal(ModeDistribution, ev.Mode)

	fake.err = errors.New("disk on fire")
	_, err = eng.EvaluateThread(ctx, "Routing alerts", "", "t4")
	assert.Error(err)
}

func TestLoadPolicyFile(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	body := `
topics:
  - name: hardware
    phrases: [soldering, firmware]
do_not_engage:
  - gossip
search_queries:
  hardware: [firmware bugs]
`
	require.NoError(os.WriteFile(path, []byte(body), 0o644))

	data, err := LoadPolicyFile(path)
	require.NoError(err)
	assert.Equal([]string{"hardware"}, data.ModeNames())
	assert.Equal([]string{"gossip"}, data.DoNotEngage)
	// untouched sections keep their defaults
	assert.Equal(DefaultData().OutreachSignals, data.OutreachSignals)
	assert.Len(data.OutreachQueries, 8)
	assert.Equal([]string{"firmware bugs"}, data.SearchQueries["hardware"])

	require.NoError(os.WriteFile(path, []byte("topics:\n  - name: none\n"), 0o644))
	_, err = LoadPolicyFile(path)
	assert.Error(err)

	_, err = LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(err)
}

func TestLoadPolicyFileRequiresQueriesPerTopic(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "policy.yaml")

	// new topic, default queries do not cover it
	body := `
topics:
  - name: hardware
    phrases: [soldering]
`
	require.NoError(os.WriteFile(path, []byte(body), 0o644))
	_, err := LoadPolicyFile(path)
	require.Error(err)
	assert.Contains(err.Error(), `"hardware"`)

	// queries present but one topic left out
	body = `
topics:
  - name: hardware
    phrases: [soldering]
  - name: radio
    phrases: [antenna]
search_queries:
  hardware: [firmware bugs]
  radio: []
`
	require.NoError(os.WriteFile(path, []byte(body), 0o644))
	_, err = LoadPolicyFile(path)
	require.Error(err)
	assert.Contains(err.Error(), `"radio"`)
}
