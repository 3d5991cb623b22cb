package ledger

import (
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/cleanapp/moltagent/util/cliutil"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// NewTestLedger returns a Ledger over a private in-memory sqlite database which is closed
// when the test finishes. A nil clock means time.Now.
func NewTestLedger(t testing.TB, now func() time.Time) *Ledger {
	t.Helper()

	name := unsafeNameChars.ReplaceAllString(t.Name(), "_")
	dburl := fmt.Sprintf("sqlite://file:%s?mode=memory&cache=shared", name)
	db, err := cliutil.SetupDatabase(dburl, 1)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() {
		_ = cliutil.CloseDatabase(db)
	})

	var opts []Option
	if now != nil {
		opts = append(opts, WithClock(now))
	}
	l, err := Open(db, opts...)
	if err != nil {
		t.Fatalf("opening test ledger: %v", err)
	}
	return l
}

// FixedClock is a settable clock for tests.
type FixedClock struct {
	T time.Time
}

func (c *FixedClock) Now() time.Time {
	return c.T
}

func (c *FixedClock) Advance(d time.Duration) {
	c.T = c.T.Add(d)
}
