// Package guardrails enforces per-user ceilings before a task run starts and
// resolves task constraints over the fixed defaults. The ledger is an
// injected interface so checks stay testable and a multi-process deployment
// can back it with a shared store.
package guardrails

import (
	"fmt"
	"sync"

	"github.com/example/taskforge/internal/models"
)

// ConstraintPatch is a partial override; nil fields keep the default.
type ConstraintPatch struct {
	MaxSteps      *int  `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
	MaxSeconds    *int  `json:"max_seconds,omitempty" yaml:"max_seconds,omitempty"`
	AllowTerminal *bool `json:"allow_terminal,omitempty" yaml:"allow_terminal,omitempty"`
	AllowBrowser  *bool `json:"allow_browser,omitempty" yaml:"allow_browser,omitempty"`
	AllowWeb      *bool `json:"allow_web,omitempty" yaml:"allow_web,omitempty"`
}

// Resolve merges a patch over the fixed defaults.
func Resolve(patch *ConstraintPatch) models.TaskConstraints {
	c := models.DefaultConstraints()
	if patch == nil {
		return c
	}
	if patch.MaxSteps != nil && *patch.MaxSteps > 0 {
		c.MaxSteps = *patch.MaxSteps
	}
	if patch.MaxSeconds != nil && *patch.MaxSeconds > 0 {
		c.MaxSeconds = *patch.MaxSeconds
	}
	if patch.AllowTerminal != nil {
		c.AllowTerminal = *patch.AllowTerminal
	}
	if patch.AllowBrowser != nil {
		c.AllowBrowser = *patch.AllowBrowser
	}
	if patch.AllowWeb != nil {
		c.AllowWeb = *patch.AllowWeb
	}
	return c
}

// Ledger is a per-user counter store.
type Ledger interface {
	Get(user string) int64
	Increment(user string, delta int64) int64
}

// MemoryLedger is the process-local default.
type MemoryLedger struct {
	mu      sync.Mutex
	counts  map[string]int64
	initial int64
}

// NewSeededLedger returns an in-memory ledger where unseen users start at
// the given balance instead of zero.
func NewSeededLedger(initial int64) *MemoryLedger {
	l := NewMemoryLedger()
	l.initial = initial
	return l
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{counts: map[string]int64{}}
}

func (l *MemoryLedger) Get(user string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seed(user)
	return l.counts[user]
}

func (l *MemoryLedger) Increment(user string, delta int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seed(user)
	l.counts[user] += delta
	return l.counts[user]
}

func (l *MemoryLedger) seed(user string) {
	if _, ok := l.counts[user]; !ok {
		l.counts[user] = l.initial
	}
}

// Guard gates task admission: an active-task ceiling and a credit hold sized
// to the step budget. Unused credits are refunded at settle time.
type Guard struct {
	Credits  Ledger
	Active   Ledger
	MaxTasks int64
	StepCost int64
}

func NewGuard(credits, active Ledger, maxTasks, stepCost int64) *Guard {
	return &Guard{Credits: credits, Active: active, MaxTasks: maxTasks, StepCost: stepCost}
}

// Reservation is an admitted run's pre-auth hold.
type Reservation struct {
	guard *Guard
	user  string
	hold  int64
	done  bool
}

// Begin admits a run or rejects it. The hold covers the worst case
// (constraints.MaxSteps steps) and is released by Settle.
func (g *Guard) Begin(user string, c models.TaskConstraints) (*Reservation, error) {
	if g.MaxTasks > 0 && g.Active.Get(user) >= g.MaxTasks {
		return nil, fmt.Errorf("user %s already has %d active tasks", user, g.MaxTasks)
	}
	hold := g.StepCost * int64(c.MaxSteps)
	if hold > 0 && g.Credits.Get(user) < hold {
		return nil, fmt.Errorf("insufficient credits for user %s: need %d", user, hold)
	}
	g.Active.Increment(user, 1)
	if hold > 0 {
		g.Credits.Increment(user, -hold)
	}
	return &Reservation{guard: g, user: user, hold: hold}, nil
}

// Settle charges for the steps actually executed and refunds the rest.
// Safe to call once; later calls are no-ops.
func (r *Reservation) Settle(stepsUsed int) {
	if r == nil || r.done {
		return
	}
	r.done = true
	r.guard.Active.Increment(r.user, -1)
	if r.hold > 0 {
		spent := r.guard.StepCost * int64(stepsUsed)
		if spent > r.hold {
			spent = r.hold
		}
		r.guard.Credits.Increment(r.user, r.hold-spent)
	}
}
