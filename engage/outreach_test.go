package engage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanapp/moltagent/moltbook"
	"github.com/cleanapp/moltagent/policy"
)

func outreachFixture(env *testEnv) {
	env.src.results["q-out-1"] = []moltbook.Post{
		{ID: "o1", Title: "Sensor monitoring for urban hazards", Author: "cleanapp_agent"},
		{ID: "o2", Title: "Sensor monitoring for urban hazard detection", Author: "sensorbot"},
		{ID: "o3", Title: "Waste tracker", Author: "mapbot"},
		{ID: "o4", Title: "Poetry generation", Content: "I write haiku.", Author: "poet"},
	}
	env.src.results["q-out-2"] = []moltbook.Post{
		{ID: "o2", Title: "Sensor monitoring for urban hazard detection", Author: "sensorbot"},
		{ID: "o5", Title: "Broken infrastructure maintenance", Author: "sensorbot"},
		{ID: "o6", Title: "Anonymous hazard sensor", Author: ""},
	}
	env.oracle.reply = func(title string) (string, error) {
		return fmt.Sprintf("Your work on %s looks useful. Detected issues could flow into our report API.", title), nil
	}
}

func TestDiscoverOutreach(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	env := newTestEnv(t, policy.DefaultLimits())
	outreachFixture(env)

	cands, err := env.agent.DiscoverOutreach(context.Background())
	require.NoError(err)

	var ids []string
	for _, c := range cands {
		ids = append(ids, c.Post.ID)
	}
	// self, zero-signal and anonymous posts are dropped; ties keep discovery order
	assert.Equal([]string{"o2", "o5", "o3"}, ids)
	assert.Equal(1.0, cands[0].Fit)
	assert.InDelta(1.0/3.0, cands[2].Fit, 1e-9)
	assert.Equal([]string{"waste"}, cands[2].Signals)
}

func TestDiscoverOutreachSkipsThreadsWeAlreadyJoined(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t, policy.DefaultLimits())
	outreachFixture(env)
	env.src.threadComments["o2"] = []moltbook.Comment{
		{ID: "c1", Author: "someone"},
		{ID: "c2", Author: "CleanApp"},
	}

	cands, err := env.agent.DiscoverOutreach(ctx)
	require.NoError(err)
	var ids []string
	for _, c := range cands {
		ids = append(ids, c.Post.ID)
	}
	assert.Equal([]string{"o5", "o3"}, ids)

	// a failed comment fetch does not drop candidates
	env.src.commentsErr = errors.New("comments unavailable")
	cands, err = env.agent.DiscoverOutreach(ctx)
	require.NoError(err)
	assert.Len(cands, 3)
}

func TestRunOutreach(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	env := newTestEnv(t, policy.DefaultLimits())
	outreachFixture(env)

	actions, err := env.agent.RunOutreach(ctx)
	require.NoError(err)
	require.Len(actions, 2)
	assert.Equal("sensorbot", actions[0].Agent)
	assert.Equal("o2", actions[0].ThreadID)
	// o5 is by the agent just approached, so the next slot goes to mapbot
	assert.Equal("mapbot", actions[1].Agent)
	assert.Equal([]string{"o2", "o3"}, env.src.commentTargets())

	n, err := env.ledger.GetOutreachCountToday(ctx)
	require.NoError(err)
	assert.Equal(int64(2), n)

	recent, err := env.ledger.WasAgentApproachedRecently(ctx, "sensorbot", 7)
	require.NoError(err)
	assert.True(recent)

	_, comments, err := env.ledger.GetTodayCounts(ctx)
	require.NoError(err)
	assert.Equal(2, comments)

	// nobody left to approach within the cooldown
	actions, err = env.agent.RunOutreach(ctx)
	require.NoError(err)
	assert.Empty(actions)
}

func TestRunOutreachDailyCap(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	limits := policy.DefaultLimits()
	limits.MaxOutreachPerDay = 1
	env := newTestEnv(t, limits)
	outreachFixture(env)

	actions, err := env.agent.RunOutreach(ctx)
	require.NoError(err)
	require.Len(actions, 1)
	assert.Equal("sensorbot", actions[0].Agent)

	calls := env.oracle.calls
	actions, err = env.agent.RunOutreach(ctx)
	require.NoError(err)
	assert.Empty(actions)
	// the cap is checked before any search or generation
	assert.Equal(calls, env.oracle.calls)
}

func TestRunOutreachRespectsCommentLimit(t *testing.T) {
	require := require.New(t)

	limits := policy.DefaultLimits()
	limits.MaxCommentsPerDay = 0
	env := newTestEnv(t, limits)
	outreachFixture(env)

	actions, err := env.agent.RunOutreach(context.Background())
	require.NoError(err)
	require.Empty(actions)
	require.Empty(env.src.commentTargets())
}

func TestOutreachFit(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(0.0, outreachFit(0))
	assert.InDelta(0.667, outreachFit(2), 0.001)
	assert.Equal(1.0, outreachFit(3))
	assert.Equal(1.0, outreachFit(7))
}
