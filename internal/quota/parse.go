package quota

import (
	"sort"
	"strings"
	"time"

	"github.com/arcrelay/cagateway/internal/modelid"
	"github.com/tidwall/gjson"
)

// ParseModelsResponse groups a fetchAvailableModels response's per-model
// quota readings (embedded under quotaInfo or quota) by quota group key,
// mirroring group_quota_groups: each group picks up the first non-nil
// reading it encounters and accumulates a sorted model list.
func ParseModelsResponse(body []byte) []GroupUpdate {
	models := gjson.GetBytes(body, "models")
	if !models.Exists() {
		models = gjson.ParseBytes(body)
	}

	type accum struct {
		frac      *float64
		resetTime *time.Time
		modelSet  map[string]struct{}
	}
	byGroup := make(map[string]*accum)

	visit := func(modelID string, data gjson.Result) {
		modelID = strings.TrimSpace(modelID)
		if modelID == "" {
			return
		}
		canonical := modelid.Canonical(modelID)
		groupName := modelid.GroupKey(canonical)
		a, ok := byGroup[groupName]
		if !ok {
			a = &accum{modelSet: make(map[string]struct{})}
			byGroup[groupName] = a
		}
		a.modelSet[canonical] = struct{}{}

		frac, reset := parseModelQuota(data)
		if a.frac == nil && frac != nil {
			a.frac = frac
		}
		if a.resetTime == nil && reset != nil {
			a.resetTime = reset
		}
	}

	if models.IsObject() {
		models.ForEach(func(key, value gjson.Result) bool {
			visit(key.String(), value)
			return true
		})
	} else if models.IsArray() {
		models.ForEach(func(_, value gjson.Result) bool {
			visit(value.Get("id").String(), value)
			return true
		})
	}

	out := make([]GroupUpdate, 0, len(byGroup))
	for name, a := range byGroup {
		out = append(out, GroupUpdate{GroupName: name, RemainingFraction: a.frac, ResetTime: a.resetTime})
	}
	return out
}

// ListModelIDs extracts the sorted, de-duplicated set of canonical model ids
// a fetchAvailableModels response advertises, using the same traversal as
// ParseModelsResponse so both stay in sync on nesting conventions.
func ListModelIDs(body []byte) []string {
	models := gjson.GetBytes(body, "models")
	if !models.Exists() {
		models = gjson.ParseBytes(body)
	}

	seen := make(map[string]struct{})
	visit := func(modelID string) {
		modelID = strings.TrimSpace(modelID)
		if modelID == "" {
			return
		}
		seen[modelid.Canonical(modelID)] = struct{}{}
	}

	if models.IsObject() {
		models.ForEach(func(key, _ gjson.Result) bool {
			visit(key.String())
			return true
		})
	} else if models.IsArray() {
		models.ForEach(func(_, value gjson.Result) bool {
			visit(value.Get("id").String())
			return true
		})
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// parseModelQuota extracts remainingFraction/resetTime from a model entry,
// trying the entry itself, then its quotaInfo subobject, then its quota
// subobject — the upstream has been observed to nest the fields either way.
func parseModelQuota(v gjson.Result) (*float64, *time.Time) {
	if frac, reset, ok := parseQuotaFields(v); ok {
		return frac, reset
	}
	if qi := v.Get("quotaInfo"); qi.Exists() {
		if frac, reset, ok := parseQuotaFields(qi); ok {
			return frac, reset
		}
	}
	if q := v.Get("quota"); q.Exists() {
		if frac, reset, ok := parseQuotaFields(q); ok {
			return frac, reset
		}
	}
	return nil, nil
}

func parseQuotaFields(v gjson.Result) (*float64, *time.Time, bool) {
	fracField := v.Get("remainingFraction")
	hasFrac := fracField.Exists()
	resetField := v.Get("resetTime")
	var reset *time.Time
	if resetField.Exists() && resetField.String() != "" {
		if t, err := time.Parse(time.RFC3339, resetField.String()); err == nil {
			reset = &t
		}
	}

	var frac *float64
	if hasFrac {
		f := clamp01(fracField.Float())
		frac = &f
	} else if reset != nil {
		// Upstream omits remainingFraction entirely when quota is fully
		// exhausted; treat that as zero rather than "unknown".
		zero := 0.0
		frac = &zero
	}

	if frac == nil && reset == nil {
		return nil, nil, false
	}
	return frac, reset, true
}
