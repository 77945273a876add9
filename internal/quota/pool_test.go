package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func TestUpdateFromQuotaActiveEntry(t *testing.T) {
	p := NewPool()
	p.UpdateFromQuota("sess-1", []GroupUpdate{{GroupName: GroupClaudeGPT, RemainingFraction: f64(0.5)}})
	sid, ok := p.SelectExcluding(GroupClaudeGPT, nil)
	require.True(t, ok)
	require.Equal(t, "sess-1", sid)
}

func TestUpdateFromQuotaZeroFractionFutureResetMovesToCooldown(t *testing.T) {
	p := NewPool()
	reset := time.Now().Add(time.Hour)
	p.UpdateFromQuota("sess-1", []GroupUpdate{{GroupName: GroupClaudeGPT, RemainingFraction: f64(0), ResetTime: &reset}})

	_, ok := p.SelectExcluding(GroupClaudeGPT, nil)
	require.False(t, ok, "zero-fraction account with a future reset must not be selectable")

	due := p.DueCooldownSessions()
	require.Empty(t, due, "reset time is in the future, not yet due")
}

func TestUpdateFromQuotaMissingFractionWithResetIsCooldown(t *testing.T) {
	p := NewPool()
	reset := time.Now().Add(-time.Minute) // already due
	p.UpdateFromQuota("sess-1", []GroupUpdate{{GroupName: GroupGemini25, ResetTime: &reset}})

	_, ok := p.SelectExcluding(GroupGemini25, nil)
	require.False(t, ok)
	require.Contains(t, p.DueCooldownSessions(), "sess-1")
}

func TestSyncValidSessionsDropsStaleEntries(t *testing.T) {
	p := NewPool()
	p.UpdateFromQuota("sess-1", []GroupUpdate{{GroupName: GroupClaudeGPT, RemainingFraction: f64(0.9)}})
	p.UpdateFromQuota("sess-2", []GroupUpdate{{GroupName: GroupClaudeGPT, RemainingFraction: f64(0.9)}})

	p.SyncValidSessions(map[string]struct{}{"sess-1": {}})

	sid, ok := p.SelectExcluding(GroupClaudeGPT, map[string]struct{}{"sess-1": {}})
	require.False(t, ok, "sess-2 should have been dropped by SyncValidSessions")
	_ = sid
}

func TestSelectExcludingSkipsExcludedSession(t *testing.T) {
	p := NewPool()
	p.UpdateFromQuota("sess-1", []GroupUpdate{{GroupName: GroupClaudeGPT, RemainingFraction: f64(0.9)}})
	_, ok := p.SelectExcluding(GroupClaudeGPT, map[string]struct{}{"sess-1": {}})
	require.False(t, ok)
}

// TestPowerOfTwoChoicesPrefersHigherFraction is the §8 two-choice property:
// with one dominant account at 0.9 against four at lower fractions, over
// many draws the dominant account wins the large majority of the time.
func TestPowerOfTwoChoicesPrefersHigherFraction(t *testing.T) {
	p := NewPool()
	p.UpdateFromQuota("best", []GroupUpdate{{GroupName: GroupClaudeGPT, RemainingFraction: f64(0.9)}})
	fractions := []float64{0.1, 0.2, 0.15, 0.05}
	for i, f := range fractions {
		sid := "other-" + string(rune('a'+i))
		p.UpdateFromQuota(sid, []GroupUpdate{{GroupName: GroupClaudeGPT, RemainingFraction: f64(f)}})
	}

	const draws = 1000
	wins := 0
	for i := 0; i < draws; i++ {
		sid, ok := p.SelectExcluding(GroupClaudeGPT, nil)
		require.True(t, ok)
		if sid == "best" {
			wins++
		}
	}
	uniformMean := 1.0 / 5.0
	empiricalMean := float64(wins) / draws
	require.Greater(t, empiricalMean, uniformMean, "power-of-two-choices must beat uniform selection")
}

// TestTwoAccountPolicyLowerBound mirrors the §8 end-to-end scenario: two
// accounts at 0.9 and 0.1, the 0.9 account should win over 70% of 10,000
// draws.
func TestTwoAccountPolicyLowerBound(t *testing.T) {
	p := NewPool()
	p.UpdateFromQuota("high", []GroupUpdate{{GroupName: GroupClaudeGPT, RemainingFraction: f64(0.9)}})
	p.UpdateFromQuota("low", []GroupUpdate{{GroupName: GroupClaudeGPT, RemainingFraction: f64(0.1)}})

	const draws = 10_000
	wins := 0
	for i := 0; i < draws; i++ {
		sid, ok := p.SelectExcluding(GroupClaudeGPT, nil)
		require.True(t, ok)
		if sid == "high" {
			wins++
		}
	}
	require.Greater(t, float64(wins)/draws, 0.70)
}

func TestSessionQuotaGroupsUnknownSessionIsAllZero(t *testing.T) {
	p := NewPool()
	views := p.SessionQuotaGroups("never-seen")
	require.Len(t, views, len(GroupOrder))
	for _, v := range views {
		require.Equal(t, 0.0, v.RemainingFraction)
	}
}
