// Package quota implements the Quota Pool: per-group active/cooldown
// account state with a power-of-two-choices selector, fed by a background
// refresher that polls the upstream's model-list endpoint for embedded
// quota data.
package quota

import "time"

// Closed set of quota group keys, in their canonical display/route order.
const (
	GroupClaudeGPT       = "Claude/GPT"
	GroupGemini3Pro      = "Gemini 3 Pro"
	GroupGemini3Flash    = "Gemini 3 Flash"
	GroupGemini3ProImage = "Gemini 3 Pro Image"
	GroupGemini25        = "Gemini 2.5 Pro/Flash/Lite"
)

// GroupOrder is the standard display/route order for the closed group set.
var GroupOrder = []string{
	GroupClaudeGPT,
	GroupGemini3Pro,
	GroupGemini3Flash,
	GroupGemini3ProImage,
	GroupGemini25,
}

// entry is one account's state within a single group's active set.
type entry struct {
	remainingFraction float64
	resetTime         time.Time // zero if unknown
	lastUpdated       time.Time
}

// group holds the active/cooldown state for one quota group. An account is
// never present in both maps at once.
type group struct {
	active   map[string]entry
	cooldown map[string]time.Time
}

func newGroup() *group {
	return &group{active: make(map[string]entry), cooldown: make(map[string]time.Time)}
}

// ModelQuota is one model's parsed quota reading, extracted from the
// upstream's fetchAvailableModels response (quotaInfo/quota subkeys).
type ModelQuota struct {
	ModelID           string
	RemainingFraction *float64
	ResetTime         *time.Time
}

// QuotaGroupView summarises one group's state for a single session, used by
// the admin quota-view callable.
type QuotaGroupView struct {
	GroupName         string
	RemainingFraction float64
	ResetTime         *time.Time
	ModelList         []string
}
