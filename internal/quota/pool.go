package quota

import (
	"strings"
	"sync"
	"time"
)

// Pool is the manager described in §4.4: one RWMutex-guarded set of named
// groups, each holding active/cooldown account state. It satisfies
// account.PoolLookup via SelectExcluding without importing the account
// package.
type Pool struct {
	mu     sync.RWMutex
	groups map[string]*group
}

// NewPool constructs a Pool pre-seeded with the closed set of group names.
func NewPool() *Pool {
	p := &Pool{groups: make(map[string]*group, len(GroupOrder))}
	for _, name := range GroupOrder {
		p.groups[name] = newGroup()
	}
	return p
}

func (p *Pool) groupLocked(name string) *group {
	g, ok := p.groups[name]
	if !ok {
		g = newGroup()
		p.groups[name] = g
	}
	return g
}

// GroupUpdate is one group's freshly-fetched quota reading for a session.
type GroupUpdate struct {
	GroupName         string
	RemainingFraction *float64 // nil if upstream omitted it
	ResetTime         *time.Time
}

// UpdateFromQuota applies a batch of per-group readings for one session.
func (p *Pool) UpdateFromQuota(sessionID string, updates []GroupUpdate) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return
	}
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range updates {
		name := strings.TrimSpace(u.GroupName)
		if name == "" {
			continue
		}
		g := p.groupLocked(name)

		if u.RemainingFraction == nil {
			if u.ResetTime != nil {
				delete(g.active, sessionID)
				g.cooldown[sessionID] = *u.ResetTime
			}
			continue
		}

		frac := clamp01(*u.RemainingFraction)
		shouldCooldown := frac <= 0 && u.ResetTime != nil && u.ResetTime.After(now)
		if shouldCooldown {
			delete(g.active, sessionID)
			g.cooldown[sessionID] = *u.ResetTime
			continue
		}

		delete(g.cooldown, sessionID)
		e := entry{remainingFraction: frac, lastUpdated: now}
		if u.ResetTime != nil {
			e.resetTime = *u.ResetTime
		}
		g.active[sessionID] = e
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// SelectExcluding picks a session id from the named group's active set via
// power-of-two-choices, skipping any id in exclude.
func (p *Pool) SelectExcluding(groupName string, exclude map[string]struct{}) (string, bool) {
	groupName = strings.TrimSpace(groupName)
	if groupName == "" {
		return "", false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, ok := p.groups[groupName]
	if !ok {
		return "", false
	}
	return selectWeightedExcluding(g.active, exclude)
}

// RemoveSession drops sessionID from every group's active/cooldown state.
// Used when an account is deleted or disabled outright.
func (p *Pool) RemoveSession(sessionID string) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range p.groups {
		delete(g.active, sessionID)
		delete(g.cooldown, sessionID)
	}
}

// SyncValidSessions retains only the listed sessions across every group,
// called by the refresher after each fetch of the credential list so
// disabled/deleted accounts never linger.
func (p *Pool) SyncValidSessions(valid map[string]struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range p.groups {
		for sid := range g.active {
			if _, ok := valid[sid]; !ok {
				delete(g.active, sid)
			}
		}
		for sid := range g.cooldown {
			if _, ok := valid[sid]; !ok {
				delete(g.cooldown, sid)
			}
		}
	}
}

// DueCooldownSessions returns, deduplicated across groups, every session
// whose cooldown reset_time has already passed.
func (p *Pool) DueCooldownSessions() []string {
	now := time.Now()
	p.mu.RLock()
	defer p.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, g := range p.groups {
		for sid, rt := range g.cooldown {
			if !rt.After(now) {
				seen[sid] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for sid := range seen {
		out = append(out, sid)
	}
	return out
}

// SessionQuotaGroups returns a snapshot of every predefined group's state
// for one session, used by the admin quota-view callable. Unknown sessions
// get all-zero groups rather than a 404, matching upstream UI expectations.
func (p *Pool) SessionQuotaGroups(sessionID string) []QuotaGroupView {
	sessionID = strings.TrimSpace(sessionID)
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]QuotaGroupView, 0, len(GroupOrder))
	for _, name := range GroupOrder {
		view := QuotaGroupView{GroupName: name, RemainingFraction: 0}
		g, ok := p.groups[name]
		if !ok {
			out = append(out, view)
			continue
		}
		if e, ok := g.active[sessionID]; ok {
			view.RemainingFraction = e.remainingFraction
			if !e.resetTime.IsZero() {
				rt := e.resetTime
				view.ResetTime = &rt
			}
		} else if rt, ok := g.cooldown[sessionID]; ok {
			rtCopy := rt
			view.ResetTime = &rtCopy
		}
		out = append(out, view)
	}
	return out
}
