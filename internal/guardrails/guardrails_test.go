package guardrails

import (
	"testing"

	"github.com/example/taskforge/internal/models"
)

func intp(v int) *int    { return &v }
func boolp(v bool) *bool { return &v }

func TestResolveDefaults(t *testing.T) {
	got := Resolve(nil)
	want := models.DefaultConstraints()
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestResolvePatchOverrides(t *testing.T) {
	got := Resolve(&ConstraintPatch{
		MaxSteps:     intp(3),
		AllowBrowser: boolp(false),
	})
	if got.MaxSteps != 3 {
		t.Errorf("max steps %d", got.MaxSteps)
	}
	if got.AllowBrowser {
		t.Errorf("browser should be disabled")
	}
	// untouched fields keep their defaults
	if got.MaxSeconds != 600 || !got.AllowTerminal || got.AllowWeb {
		t.Errorf("defaults disturbed: %+v", got)
	}
}

func TestGuardHoldAndSettle(t *testing.T) {
	credits := NewSeededLedger(100)
	active := NewMemoryLedger()
	g := NewGuard(credits, active, 2, 1)

	c := models.DefaultConstraints() // 12 steps -> hold of 12
	r, err := g.Begin("alice", c)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if got := credits.Get("alice"); got != 88 {
		t.Errorf("credits after hold: %d", got)
	}
	if got := active.Get("alice"); got != 1 {
		t.Errorf("active after begin: %d", got)
	}

	r.Settle(5)
	if got := credits.Get("alice"); got != 95 {
		t.Errorf("credits after settle: %d, want 95", got)
	}
	if got := active.Get("alice"); got != 0 {
		t.Errorf("active after settle: %d", got)
	}

	// settle is idempotent
	r.Settle(5)
	if got := credits.Get("alice"); got != 95 {
		t.Errorf("double settle changed balance: %d", got)
	}
}

func TestGuardRejectsInsufficientCredits(t *testing.T) {
	g := NewGuard(NewSeededLedger(5), NewMemoryLedger(), 0, 1)
	if _, err := g.Begin("bob", models.DefaultConstraints()); err == nil {
		t.Fatalf("5 credits cannot cover a 12-step hold")
	}
}

func TestGuardActiveCeiling(t *testing.T) {
	g := NewGuard(NewSeededLedger(1000), NewMemoryLedger(), 1, 1)
	c := models.DefaultConstraints()

	first, err := g.Begin("carol", c)
	if err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	if _, err := g.Begin("carol", c); err == nil {
		t.Fatalf("second concurrent run must be rejected")
	}

	first.Settle(0)
	if _, err := g.Begin("carol", c); err != nil {
		t.Fatalf("after settle a new run is admitted: %v", err)
	}
}

func TestSeededLedger(t *testing.T) {
	l := NewSeededLedger(50)
	if got := l.Get("new-user"); got != 50 {
		t.Fatalf("unseen user balance: %d", got)
	}
	l.Increment("new-user", -20)
	if got := l.Get("new-user"); got != 30 {
		t.Fatalf("after spend: %d", got)
	}
}
