package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeParsing(t *testing.T) {
	assert := assert.New(t)

	good := []string{
		"2023-07-19T21:54:14.165300Z",
		"2023-07-19T21:54:14.163Z",
		"2023-07-19T21:52:02.000+00:00",
		"2023-07-19T21:52:02.123456+00:00",
		"2023-09-13T11:23:33+09:00",
		"2023-07-19 21:54:14",
		"2023-07-19",
	}
	for _, g := range good {
		ts, err := ParseTimestamp(g)
		assert.NoError(err, g)
		assert.Equal(time.UTC, ts.Location(), g)
	}

	ts, err := ParseTimestamp("2023-09-13T11:23:33+09:00")
	assert.NoError(err)
	assert.Equal(2, ts.Hour())

	_, err = ParseTimestamp("")
	assert.Error(err)
	_, err = ParseTimestamp("???")
	assert.Error(err)
}

func TestParseDay(t *testing.T) {
	assert := assert.New(t)
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	d, err := ParseDay("today", now)
	assert.NoError(err)
	assert.Equal(now, d)

	d, err = ParseDay("Yesterday", now)
	assert.NoError(err)
	assert.Equal(13, d.Day())

	d, err = ParseDay("2026-01-02", now)
	assert.NoError(err)
	assert.Equal(time.January, d.Month())
	assert.Equal(2, d.Day())
}
