// internal/trigger/trigger_test.go
package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/FairForge/failoverd/internal/health"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func status(score float64) health.Status {
	return health.NewStatus("db", score, time.Now())
}

func TestEvaluator_CooldownPerTarget(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := NewEvaluator(ModeAutomatic, []Rule{
		{Type: TypeHealthCheck, Threshold: 50, CooldownSeconds: 60},
	}, nil, WithClock(clock.now))

	assert.True(t, e.ShouldFailover("db", status(40)))
	assert.False(t, e.ShouldFailover("db", status(30)), "second firing inside cooldown")

	// Other targets have their own window
	assert.True(t, e.ShouldFailover("cache", status(30)))

	clock.advance(59 * time.Second)
	assert.False(t, e.ShouldFailover("db", status(30)))

	clock.advance(time.Second)
	assert.True(t, e.ShouldFailover("db", status(30)))
}

func TestEvaluator_ModeGate(t *testing.T) {
	rules := []Rule{{Type: TypeHealthCheck, Threshold: 50}}

	tests := []struct {
		mode     Mode
		expected bool
	}{
		{ModeManual, false},
		{ModeAutomatic, true},
		{ModeHybrid, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			e := NewEvaluator(tt.mode, rules, nil)
			assert.Equal(t, tt.expected, e.ShouldFailover("db", status(10)))
		})
	}
}

func TestEvaluator_InFlightBlocks(t *testing.T) {
	inFlight := true
	e := NewEvaluator(ModeAutomatic, []Rule{{Type: TypeHealthCheck, Threshold: 50}},
		func() bool { return inFlight })

	assert.False(t, e.ShouldFailover("db", status(10)))
	_, fired := e.LastFired(TypeHealthCheck, "db")
	assert.False(t, fired, "no bookkeeping when not firing")

	inFlight = false
	assert.True(t, e.ShouldFailover("db", status(10)))
}

func TestEvaluator_ManualAndScheduledNeverFire(t *testing.T) {
	e := NewEvaluator(ModeAutomatic, []Rule{
		{Type: TypeManual, Threshold: 100},
		{Type: TypeScheduled, Threshold: 100},
	}, nil)

	assert.False(t, e.ShouldFailover("db", status(0)))
}

func TestEvaluator_FirstMatchingRuleWins(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	e := NewEvaluator(ModeHybrid, []Rule{
		{Type: TypeManual, Threshold: 100},
		{Type: TypePerformance, Threshold: 70, CooldownSeconds: 300},
		{Type: TypeHealthCheck, Threshold: 50, CooldownSeconds: 300},
	}, nil, WithClock(clock.now))

	assert.True(t, e.ShouldFailover("db", status(40)))
	_, perf := e.LastFired(TypePerformance, "db")
	_, hc := e.LastFired(TypeHealthCheck, "db")
	assert.True(t, perf)
	assert.False(t, hc, "later rules are not evaluated once one fires")

	// Performance rule is cooling down, so the health-check rule fires next
	assert.True(t, e.ShouldFailover("db", status(40)))
	_, hc = e.LastFired(TypeHealthCheck, "db")
	assert.True(t, hc)

	assert.False(t, e.ShouldFailover("db", status(40)))
}

func TestEvaluator_ScoreAtThresholdDoesNotFire(t *testing.T) {
	e := NewEvaluator(ModeAutomatic, []Rule{{Type: TypeHealthCheck, Threshold: 50}}, nil)
	assert.False(t, e.ShouldFailover("db", status(50)))
}

func TestEvaluator_ConfigureResetsCooldowns(t *testing.T) {
	e := NewEvaluator(ModeAutomatic, []Rule{{Type: TypeHealthCheck, Threshold: 50, CooldownSeconds: 3600}}, nil)
	assert.True(t, e.ShouldFailover("db", status(10)))
	assert.False(t, e.ShouldFailover("db", status(10)))

	e.Configure(ModeAutomatic, []Rule{{Type: TypeHealthCheck, Threshold: 50, CooldownSeconds: 3600}})
	assert.True(t, e.ShouldFailover("db", status(10)))

	e.Configure(ModeManual, nil)
	assert.Equal(t, ModeManual, e.Mode())
	assert.False(t, e.ShouldFailover("db", status(10)))
}

func TestRule_Validate(t *testing.T) {
	assert.NoError(t, Rule{Type: TypeHealthCheck, Threshold: 50, CooldownSeconds: 60}.Validate())
	assert.Error(t, Rule{Type: "bogus", Threshold: 50}.Validate())
	assert.Error(t, Rule{Type: TypePerformance, Threshold: 101}.Validate())
	assert.Error(t, Rule{Type: TypePerformance, Threshold: 10, CooldownSeconds: -1}.Validate())
}

func TestEvaluator_FireClaim(t *testing.T) {
	e := NewEvaluator(ModeAutomatic, []Rule{
		{Type: TypeHealthCheck, Threshold: 50, CooldownSeconds: 300},
	}, nil)

	claims := 0
	refuse := func() bool { claims++; return false }
	assert.False(t, e.Fire("db", status(10), refuse))
	assert.Equal(t, 1, claims)
	_, ok := e.LastFired(TypeHealthCheck, "db")
	assert.False(t, ok, "refused claim leaves no cooldown")

	assert.False(t, e.Fire("db", status(90), refuse), "healthy score never claims")
	assert.Equal(t, 1, claims)

	assert.True(t, e.Fire("db", status(10), func() bool { return true }))
	_, ok = e.LastFired(TypeHealthCheck, "db")
	assert.True(t, ok)
}
