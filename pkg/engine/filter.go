package engine

import (
	"maps"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

// Exclusion reasons reported by Evaluate.
const (
	ReasonStatus   = "status"
	ReasonType     = "type"
	ReasonProfile  = "profile"
	ReasonExcluded = "exclude_names"
	ReasonTag      = "tag"
)

// Verdict is the outcome of running the filter pipeline on an instance.
type Verdict struct {
	Included bool
	Reason   string
	Detail   string
}

// Include reports whether an instance passes every filter.
func Include(inst *Instance, f *Filters) bool {
	return Evaluate(inst, f).Included
}

// Evaluate runs the filter pipeline in order and stops at the first failing
// predicate: status, type, profiles, exclude_names, tags.
func Evaluate(inst *Instance, f *Filters) Verdict {
	if !matchesStatus(inst.Status, f.Status) {
		return Verdict{Reason: ReasonStatus, Detail: inst.Status}
	}

	if !matchesType(inst.Type, f.Type) {
		return Verdict{Reason: ReasonType, Detail: inst.Type}
	}

	if !matchesProfiles(inst.Profiles, f.Profiles) {
		return Verdict{Reason: ReasonProfile, Detail: strings.Join(inst.Profiles, ",")}
	}

	if p, ok := FirstMatch(f.ExcludeNames, inst.Name, inst.Project); ok {
		return Verdict{Reason: ReasonExcluded, Detail: p.String()}
	}

	for _, key := range slices.Sorted(maps.Keys(f.Tags)) {
		if !f.Tags[key].Holds(inst, key) {
			return Verdict{Reason: ReasonTag, Detail: key}
		}
	}

	return Verdict{Included: true}
}

// LogVerdict writes a debug line describing why an instance was excluded.
func LogVerdict(logger zerolog.Logger, inst *Instance, v Verdict) {
	if v.Included {
		return
	}
	logger.Debug().
		Str("instance", inst.Name).
		Str("project", inst.Project).
		Str("endpoint", inst.Endpoint).
		Str("reason", v.Reason).
		Str("detail", v.Detail).
		Msg("Instance filtered out")
}

func matchesStatus(status string, allowed []string) bool {
	s := strings.ToLower(status)
	for _, a := range allowed {
		a = strings.ToLower(a)
		if a == FilterAll || a == s {
			return true
		}
	}
	return false
}

func matchesType(typ string, allowed []string) bool {
	return slices.Contains(allowed, FilterAll) || slices.Contains(allowed, typ)
}

// matchesProfiles requires at least one of the wanted profiles when any are configured.
func matchesProfiles(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, p := range want {
		if slices.Contains(have, p) {
			return true
		}
	}
	return false
}

// LookupTag returns the value of a config key, preferring expanded_config
// (which carries profile-inherited values) over the instance's own config.
func LookupTag(inst *Instance, key string) (string, bool) {
	if v, ok := inst.ExpandedConfig[key]; ok {
		return v, true
	}
	v, ok := inst.Config[key]
	return v, ok
}

// Holds evaluates the predicate for key against an instance.
func (p TagPredicate) Holds(inst *Instance, key string) bool {
	value, present := LookupTag(inst, key)

	if p.Expected == nil {
		if p.Negate {
			return !present
		}
		return present
	}

	equal := present && value == *p.Expected
	if p.Negate {
		return !equal
	}
	return equal
}
