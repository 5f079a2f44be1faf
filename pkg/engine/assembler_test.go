package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestAssemblerGroups(t *testing.T) {
	cfg := testEndpoint("lab")
	a := NewAssembler(zerolog.Nop(), nil)

	instances := []*Instance{
		{Name: "web1", Type: InstanceTypeContainer, Status: "Running", Profiles: []string{"default", "web"}, Project: DefaultProject},
		{Name: "db1", Type: InstanceTypeVirtualMachine, Status: "Stopped", Profiles: []string{"default"}, Project: "data"},
		{Name: "cache", Type: InstanceTypeContainer, Status: "Frozen", Project: DefaultProject},
		{Name: "broken", Type: InstanceTypeContainer, Status: "Error", Project: DefaultProject},
		{Name: "boot", Type: InstanceTypeContainer, Status: "Starting", Project: DefaultProject},
	}
	for _, inst := range instances {
		a.Add(inst, &cfg)
	}

	inv := a.Inventory()

	want := map[string][]string{
		GroupAll:              {"web1", "db1", "cache", "broken", "boot"},
		GroupContainers:       {"web1", "cache", "broken", "boot"},
		GroupVMs:              {"db1"},
		GroupRunning:          {"web1"},
		GroupStopped:          {"db1"},
		GroupFrozen:           {"cache"},
		GroupError:            {"broken"},
		"lxd_endpoint_lab":    {"web1", "db1", "cache", "broken", "boot"},
		"lxd_profile_default": {"web1", "db1"},
		"lxd_profile_web":     {"web1"},
		"lxd_project_default": {"web1", "cache", "broken", "boot"},
		"lxd_project_data":    {"db1"},
	}

	if len(inv.Groups) != len(want) {
		t.Errorf("got %d groups, want %d: %v", len(inv.Groups), len(want), inv.Groups)
	}
	for name, hosts := range want {
		if !slices.Equal(inv.Groups[name], hosts) {
			t.Errorf("group %s = %v, want %v", name, inv.Groups[name], hosts)
		}
	}
}

func TestAssemblerStatusGroupsExclusive(t *testing.T) {
	cfg := testEndpoint("lab")
	a := NewAssembler(zerolog.Nop(), nil)

	for i, status := range []string{"Running", "Stopped", "Frozen", "Error", "Running", "Unknown"} {
		a.Add(&Instance{
			Name:    fmt.Sprintf("i%d", i),
			Type:    InstanceTypeContainer,
			Status:  status,
			Project: DefaultProject,
		}, &cfg)
	}

	inv := a.Inventory()
	for hostname, host := range inv.Hostvars {
		var member []string
		for _, g := range []string{GroupRunning, GroupStopped, GroupFrozen, GroupError} {
			if slices.Contains(inv.Groups[g], hostname) {
				member = append(member, g)
			}
		}

		wantGroup, known := statusGroups[strings.ToLower(host.Status)]
		switch {
		case known && (len(member) != 1 || member[0] != wantGroup):
			t.Errorf("%s (%s) in %v, want [%s]", hostname, host.Status, member, wantGroup)
		case !known && len(member) != 0:
			t.Errorf("%s (%s) should join no status group, got %v", hostname, host.Status, member)
		}
	}
}

func TestAssemblerDropsEmptyGroups(t *testing.T) {
	cfg := testEndpoint("lab")
	a := NewAssembler(zerolog.Nop(), nil)
	a.Add(&Instance{Name: "vm", Type: InstanceTypeVirtualMachine, Status: "Running", Project: DefaultProject}, &cfg)

	inv := a.Inventory()
	for _, g := range []string{GroupContainers, GroupStopped, GroupFrozen, GroupError} {
		if _, ok := inv.Groups[g]; ok {
			t.Errorf("empty group %s should be dropped", g)
		}
	}
	for name, hosts := range inv.Groups {
		if len(hosts) == 0 {
			t.Errorf("group %s is empty", name)
		}
	}
}

func TestAssemblerCollisionAcrossProjects(t *testing.T) {
	cfg := testEndpoint("lab")
	rec := newRecordingRecorder()
	a := NewAssembler(zerolog.Nop(), rec)

	first := a.Add(&Instance{Name: "web", Type: InstanceTypeContainer, Status: "Running", Project: "a"}, &cfg)
	second := a.Add(&Instance{Name: "web", Type: InstanceTypeContainer, Status: "Running", Project: "b"}, &cfg)

	if first.Hostname != "web" || second.Hostname != "web-1" {
		t.Errorf("hostnames = %q, %q, want web, web-1", first.Hostname, second.Hostname)
	}
	if second.Name != "web" {
		t.Errorf("lxd_name = %q, want web", second.Name)
	}
	if rec.collisions != 1 {
		t.Errorf("collisions = %d, want 1", rec.collisions)
	}
}

func TestAssemblerTemplateErrorRecorded(t *testing.T) {
	cfg := testEndpoint("lab")
	cfg.HostnameFormat = "{name}-{zone}"
	rec := newRecordingRecorder()
	a := NewAssembler(zerolog.Nop(), rec)

	host := a.Add(&Instance{Name: "web1", Type: InstanceTypeContainer, Status: "Running", Project: DefaultProject}, &cfg)
	if host.Hostname != "web1" {
		t.Errorf("hostname = %q, want web1", host.Hostname)
	}
	if !slices.Equal(rec.errors, []string{"template/" + ErrCodeUnknownVariable}) {
		t.Errorf("errors = %v", rec.errors)
	}
}

func TestResolvedHostVariables(t *testing.T) {
	cfg := testEndpoint("lab")
	a := NewAssembler(zerolog.Nop(), nil)

	withAddr := decodeInstance(t, instanceJSON("web1", InstanceTypeContainer, "Running", []string{"default"}, "10.0.0.5", "fd00::5"))
	withAddr.Project = DefaultProject
	bare := &Instance{Name: "bare", Type: InstanceTypeContainer, Status: "Stopped", Project: DefaultProject}

	a.Add(withAddr, &cfg)
	a.Add(bare, &cfg)

	data, err := json.Marshal(a.Inventory())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var out struct {
		Meta struct {
			Hostvars map[string]map[string]interface{} `json:"hostvars"`
		} `json:"_meta"`
		All struct {
			Hosts []string `json:"hosts"`
		} `json:"all"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	web := out.Meta.Hostvars["web1"]
	if web["ansible_host"] != "10.0.0.5" {
		t.Errorf("ansible_host = %v", web["ansible_host"])
	}
	if ips, _ := web["lxd_ip"].([]interface{}); len(ips) != 2 || ips[1] != "fd00::5" {
		t.Errorf("lxd_ip = %v", web["lxd_ip"])
	}
	for _, key := range []string{
		"lxd_name", "lxd_hostname", "lxd_type", "lxd_status", "lxd_architecture",
		"lxd_profiles", "lxd_project", "lxd_endpoint", "lxd_endpoint_url",
		"lxd_config", "lxd_expanded_config",
	} {
		if _, ok := web[key]; !ok {
			t.Errorf("web1 missing host variable %s", key)
		}
	}

	b := out.Meta.Hostvars["bare"]
	for _, key := range []string{"ansible_host", "lxd_ip", "lxd_config", "lxd_expanded_config"} {
		if _, ok := b[key]; ok {
			t.Errorf("bare should not carry %s", key)
		}
	}
	if profiles, ok := b["lxd_profiles"].([]interface{}); !ok || len(profiles) != 0 {
		t.Errorf("lxd_profiles = %#v, want empty list", b["lxd_profiles"])
	}
	if !slices.Equal(out.All.Hosts, []string{"web1", "bare"}) {
		t.Errorf("all = %v", out.All.Hosts)
	}
}

func TestEmptyInventoryHasMeta(t *testing.T) {
	data, err := json.Marshal(NewAssembler(zerolog.Nop(), nil).Inventory())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if got, want := string(data), `{"_meta":{"hostvars":{}}}`; got != want {
		t.Errorf("Marshal() = %s, want %s", got, want)
	}
}

func TestInventoryLookup(t *testing.T) {
	cfg := testEndpoint("lab")
	other := testEndpoint("edge")
	a := NewAssembler(zerolog.Nop(), nil)
	a.Add(&Instance{Name: "web", Type: InstanceTypeContainer, Status: "Running", Project: "a"}, &cfg)
	a.Add(&Instance{Name: "web", Type: InstanceTypeContainer, Status: "Running", Project: "b"}, &other)
	a.Add(&Instance{Name: "db", Type: InstanceTypeContainer, Status: "Running", Project: "a"}, &cfg)
	inv := a.Inventory()

	tests := []struct {
		query string
		want  []string
	}{
		{"web-1", []string{"web-1"}},
		{"db", []string{"db"}},
		{"web", []string{"web"}},
		{"missing", nil},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var got []string
			for _, h := range inv.Lookup(tt.query, zerolog.Nop()) {
				got = append(got, h.Hostname)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Lookup(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestInventoryLookupByInstanceName(t *testing.T) {
	cfg := testEndpoint("lab")
	cfg.HostnameFormat = "{name}.{project}"
	a := NewAssembler(zerolog.Nop(), nil)
	a.Add(&Instance{Name: "web", Type: InstanceTypeContainer, Status: "Running", Project: "b"}, &cfg)
	a.Add(&Instance{Name: "web", Type: InstanceTypeContainer, Status: "Running", Project: "a"}, &cfg)
	inv := a.Inventory()

	var buf bytes.Buffer
	hosts := inv.Lookup("web", zerolog.New(&buf))
	if len(hosts) != 2 || hosts[0].Hostname != "web.a" || hosts[1].Hostname != "web.b" {
		t.Fatalf("Lookup(web) = %v", hosts)
	}

	var entry struct {
		Level      string `json:"level"`
		Name       string `json:"name"`
		Candidates []struct {
			Hostname string `json:"hostname"`
			Project  string `json:"project"`
			Endpoint string `json:"endpoint"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("ambiguity warning is not a single JSON entry: %v\n%s", err, buf.String())
	}
	if entry.Level != "warn" || entry.Name != "web" || len(entry.Candidates) != 2 {
		t.Fatalf("warning = %+v", entry)
	}
	for i, want := range []string{"a", "b"} {
		c := entry.Candidates[i]
		if c.Project != want || c.Endpoint != "lab" || c.Hostname != "web."+want {
			t.Errorf("candidate %d = %+v", i, c)
		}
	}

	buf.Reset()
	if hosts := inv.Lookup("web.a", zerolog.New(&buf)); len(hosts) != 1 {
		t.Errorf("Lookup(web.a) = %v", hosts)
	}
	if buf.Len() != 0 {
		t.Errorf("exact hostname match should not warn: %s", buf.String())
	}

	out := HostInventory(hosts)
	meta := out["_meta"].(map[string]interface{})
	if hv := meta["hostvars"].(map[string]*ResolvedHost); len(hv) != 2 {
		t.Errorf("hostvars = %v", hv)
	}

	if empty := HostInventory(nil); len(empty) != 0 {
		t.Errorf("HostInventory(nil) = %v, want empty", empty)
	}
}
