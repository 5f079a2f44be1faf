package engine

import "slices"

// ResolveAddresses picks the connection address of an instance.
//
// Interfaces are walked in the order the server reported them, skipping
// ignored ones; only global-scope addresses are candidates. primary is the
// first address of the preferred family (inet6 when PreferIPv6, else inet),
// falling back to the other family, and is empty when there is none. ordered
// lists every candidate, preferred family first.
func ResolveAddresses(inst *Instance, f *Filters) (primary string, ordered []string) {
	var v4, v6 []string

	for _, iface := range inst.Interfaces() {
		if slices.Contains(f.IgnoreInterfaces, iface.Name) {
			continue
		}
		for _, addr := range iface.Addresses {
			if addr.Scope != ScopeGlobal || addr.Address == "" {
				continue
			}
			switch addr.Family {
			case FamilyInet:
				v4 = append(v4, addr.Address)
			case FamilyInet6:
				v6 = append(v6, addr.Address)
			}
		}
	}

	preferred, other := v4, v6
	if f.PreferIPv6 {
		preferred, other = v6, v4
	}

	ordered = append(append(ordered, preferred...), other...)
	if len(ordered) > 0 {
		primary = ordered[0]
	}
	return primary, ordered
}
