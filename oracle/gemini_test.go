package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedCall struct {
	calls   []string
	replies map[string]func() (string, error)
}

func (s *scriptedCall) call(ctx context.Context, model, prompt string) (string, error) {
	s.calls = append(s.calls, model)
	if f, ok := s.replies[model]; ok {
		return f()
	}
	return "", errors.New("unexpected model")
}

func TestGeminiFallback(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	sc := &scriptedCall{replies: map[string]func() (string, error){
		"primary":   func() (string, error) { return "", errors.New("Error 429, RESOURCE_EXHAUSTED") },
		"secondary": func() (string, error) { return "  hello  ", nil },
	}}
	g, err := newGemini([]ModelQuota{{Name: "primary"}, {Name: "secondary"}}, sc.call, nil)
	require.NoError(err)

	out, err := g.Generate(ctx, "prompt")
	require.NoError(err)
	assert.Equal("hello", out)
	assert.Equal([]string{"primary", "secondary"}, sc.calls)
}

func TestGeminiHardErrorStops(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	sc := &scriptedCall{replies: map[string]func() (string, error){
		"primary":   func() (string, error) { return "", errors.New("invalid api key") },
		"secondary": func() (string, error) { return "unused", nil },
	}}
	g, err := newGemini([]ModelQuota{{Name: "primary"}, {Name: "secondary"}}, sc.call, nil)
	assert.NoError(err)

	_, err = g.Generate(ctx, "prompt")
	assert.Error(err)
	assert.Equal([]string{"primary"}, sc.calls)
}

func TestGeminiEmptyAndQuota(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	sc := &scriptedCall{replies: map[string]func() (string, error){
		"only": func() (string, error) { return "   ", nil },
	}}
	g, err := newGemini([]ModelQuota{{Name: "only", RPM: 1, RPD: 10}}, sc.call, nil)
	assert.NoError(err)

	_, err = g.Generate(ctx, "prompt")
	assert.ErrorIs(err, ErrNoOutput)

	// second call within the minute is refused locally, without reaching the model
	_, err = g.Generate(ctx, "prompt")
	assert.ErrorIs(err, ErrNoOutput)
	assert.Len(sc.calls, 1)
}

func TestParseModelList(t *testing.T) {
	assert := assert.New(t)

	models, err := ParseModelList("gemini-2.0-flash, custom-model, tiny:2:20")
	assert.NoError(err)
	assert.Equal([]ModelQuota{
		{Name: "gemini-2.0-flash", RPM: 15, RPD: 1500},
		{Name: "custom-model"},
		{Name: "tiny", RPM: 2, RPD: 20},
	}, models)

	_, err = ParseModelList("a:1")
	assert.Error(err)
	_, err = ParseModelList("a:x:1")
	assert.Error(err)
	_, err = ParseModelList(" , ")
	assert.Error(err)
}
