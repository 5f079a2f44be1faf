package engine

import (
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

// Lookup finds the hosts answering to a requested name.
//
// An exact hostname match wins. Otherwise every host whose lxd_name equals
// the request is returned, sorted by hostname; several matches are logged
// with each candidate's project and endpoint. A nil result means not found.
func (inv *Inventory) Lookup(name string, logger zerolog.Logger) []*ResolvedHost {
	if host, ok := inv.Hostvars[name]; ok {
		return []*ResolvedHost{host}
	}

	var matches []*ResolvedHost
	for _, host := range inv.Hostvars {
		if host.Name == name {
			matches = append(matches, host)
		}
	}
	slices.SortFunc(matches, func(a, b *ResolvedHost) int {
		return strings.Compare(a.Hostname, b.Hostname)
	})

	if len(matches) > 1 {
		arr := zerolog.Arr()
		for _, m := range matches {
			arr.Dict(zerolog.Dict().
				Str("hostname", m.Hostname).
				Str("project", m.Project).
				Str("endpoint", m.Endpoint))
		}
		logger.Warn().
			Str("name", name).
			Array("candidates", arr).
			Msg("Instance name is ambiguous, returning all matches")
	}
	return matches
}

// HostInventory renders the single-host query result:
// {"_meta": {"hostvars": {...}}} or an empty map when hosts is empty.
func HostInventory(hosts []*ResolvedHost) map[string]interface{} {
	if len(hosts) == 0 {
		return map[string]interface{}{}
	}
	hostvars := make(map[string]*ResolvedHost, len(hosts))
	for _, h := range hosts {
		hostvars[h.Hostname] = h
	}
	return map[string]interface{}{
		"_meta": map[string]interface{}{"hostvars": hostvars},
	}
}
