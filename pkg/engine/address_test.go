package engine

import (
	"encoding/json"
	"slices"
	"testing"
)

func decodeInstance(t *testing.T, raw string) *Instance {
	t.Helper()

	var inst Instance
	if err := json.Unmarshal([]byte(raw), &inst); err != nil {
		t.Fatalf("failed to decode instance: %v", err)
	}
	return &inst
}

func TestResolveAddresses(t *testing.T) {
	raw := `{
		"name": "web1",
		"state": {"network": {
			"eth1": {"addresses": [
				{"family": "inet6", "address": "fd00::2", "scope": "global"},
				{"family": "inet", "address": "10.0.1.5", "scope": "global"}
			]},
			"lo": {"addresses": [
				{"family": "inet", "address": "127.0.0.1", "scope": "local"},
				{"family": "inet6", "address": "::1", "scope": "local"}
			]},
			"docker0": {"addresses": [
				{"family": "inet", "address": "172.17.0.1", "scope": "global"}
			]},
			"eth0": {"addresses": [
				{"family": "inet", "address": "10.0.0.5", "scope": "global"},
				{"family": "inet6", "address": "fe80::1", "scope": "link"},
				{"family": "inet6", "address": "fd00::1", "scope": "global"}
			]}
		}}
	}`
	inst := decodeInstance(t, raw)

	tests := []struct {
		name        string
		filters     Filters
		wantPrimary string
		wantOrdered []string
	}{
		{
			name:        "ipv4 preferred in document order",
			filters:     Filters{IgnoreInterfaces: []string{"lo", "docker0"}},
			wantPrimary: "10.0.1.5",
			wantOrdered: []string{"10.0.1.5", "10.0.0.5", "fd00::2", "fd00::1"},
		},
		{
			name:        "ipv6 preferred",
			filters:     Filters{IgnoreInterfaces: []string{"lo", "docker0"}, PreferIPv6: true},
			wantPrimary: "fd00::2",
			wantOrdered: []string{"fd00::2", "fd00::1", "10.0.1.5", "10.0.0.5"},
		},
		{
			name:        "ignored interfaces skipped only when listed",
			filters:     Filters{IgnoreInterfaces: []string{"eth1", "lo"}},
			wantPrimary: "172.17.0.1",
			wantOrdered: []string{"172.17.0.1", "10.0.0.5", "fd00::1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary, ordered := ResolveAddresses(inst, &tt.filters)
			if primary != tt.wantPrimary {
				t.Errorf("primary = %q, want %q", primary, tt.wantPrimary)
			}
			if !slices.Equal(ordered, tt.wantOrdered) {
				t.Errorf("ordered = %v, want %v", ordered, tt.wantOrdered)
			}
		})
	}
}

func TestResolveAddressesFallsBackToOtherFamily(t *testing.T) {
	inst := decodeInstance(t, `{
		"name": "v6only",
		"state": {"network": {"eth0": {"addresses": [
			{"family": "inet6", "address": "fd00::1", "scope": "global"}
		]}}}
	}`)

	primary, ordered := ResolveAddresses(inst, &Filters{PreferIPv6: false})
	if primary != "fd00::1" {
		t.Errorf("primary = %q, want fd00::1", primary)
	}
	if !slices.Equal(ordered, []string{"fd00::1"}) {
		t.Errorf("ordered = %v, want [fd00::1]", ordered)
	}
}

func TestResolveAddressesWithoutState(t *testing.T) {
	inst := &Instance{Name: "stopped"}

	primary, ordered := ResolveAddresses(inst, &Filters{})
	if primary != "" || len(ordered) != 0 {
		t.Errorf("ResolveAddresses() = %q, %v, want empty", primary, ordered)
	}
}

func TestNetworkInterfacesKeepOrder(t *testing.T) {
	inst := decodeInstance(t, `{"state": {"network": {"z": {}, "a": {}, "m": {"addresses": null}}}}`)

	var names []string
	for _, iface := range inst.Interfaces() {
		names = append(names, iface.Name)
	}
	if !slices.Equal(names, []string{"z", "a", "m"}) {
		t.Errorf("interface order = %v, want [z a m]", names)
	}
}

func TestNetworkInterfacesNull(t *testing.T) {
	inst := decodeInstance(t, `{"state": {"network": null}}`)
	if len(inst.Interfaces()) != 0 {
		t.Errorf("expected no interfaces, got %v", inst.Interfaces())
	}

	inst = decodeInstance(t, `{"state": null}`)
	if inst.Interfaces() != nil {
		t.Errorf("expected nil interfaces without state")
	}
}
