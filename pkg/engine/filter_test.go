package engine

import "testing"

func baseInstance() *Instance {
	return &Instance{
		Name:     "web1",
		Type:     InstanceTypeContainer,
		Status:   "Running",
		Profiles: []string{"default"},
		Project:  DefaultProject,
		Config:   map[string]string{"user.role": "web"},
		ExpandedConfig: map[string]string{
			"user.role": "web",
			"user.env":  "prod",
		},
	}
}

func TestEvaluateOrder(t *testing.T) {
	tests := []struct {
		name    string
		filters Filters
		mutate  func(*Instance)
		want    Verdict
	}{
		{
			name:    "running container included",
			filters: Filters{Status: []string{"running"}, Type: []string{InstanceTypeContainer}},
			want:    Verdict{Included: true},
		},
		{
			name:    "status case insensitive",
			filters: Filters{Status: []string{"RUNNING"}, Type: []string{FilterAll}},
			want:    Verdict{Included: true},
		},
		{
			name:    "status mismatch",
			filters: Filters{Status: []string{"stopped"}, Type: []string{FilterAll}},
			want:    Verdict{Reason: ReasonStatus, Detail: "Running"},
		},
		{
			name:    "type mismatch",
			filters: Filters{Status: []string{FilterAll}, Type: []string{InstanceTypeVirtualMachine}},
			want:    Verdict{Reason: ReasonType, Detail: InstanceTypeContainer},
		},
		{
			name:    "status checked before type",
			filters: Filters{Status: []string{"frozen"}, Type: []string{InstanceTypeVirtualMachine}},
			want:    Verdict{Reason: ReasonStatus, Detail: "Running"},
		},
		{
			name: "profiles use OR semantics",
			filters: Filters{
				Status:   []string{FilterAll},
				Type:     []string{FilterAll},
				Profiles: []string{"gpu", "default"},
			},
			want: Verdict{Included: true},
		},
		{
			name: "no matching profile",
			filters: Filters{
				Status:   []string{FilterAll},
				Type:     []string{FilterAll},
				Profiles: []string{"gpu"},
			},
			want: Verdict{Reason: ReasonProfile, Detail: "default"},
		},
		{
			name: "excluded by name",
			filters: Filters{
				Status:       []string{FilterAll},
				Type:         []string{FilterAll},
				ExcludeNames: []Pattern{MustParseNamePattern("db1"), MustParseNamePattern("web1")},
			},
			want: Verdict{Reason: ReasonExcluded, Detail: "web1"},
		},
		{
			name: "tag on expanded config",
			filters: Filters{
				Status: []string{FilterAll},
				Type:   []string{FilterAll},
				Tags:   map[string]TagPredicate{"user.env": TagEquals("prod")},
			},
			want: Verdict{Included: true},
		},
		{
			name: "tags evaluated in key order",
			filters: Filters{
				Status: []string{FilterAll},
				Type:   []string{FilterAll},
				Tags: map[string]TagPredicate{
					"user.zone": TagPresent(),
					"user.env":  TagEquals("dev"),
				},
			},
			want: Verdict{Reason: ReasonTag, Detail: "user.env"},
		},
		{
			name: "unknown status joins nothing but may be included by all",
			filters: Filters{
				Status: []string{FilterAll},
				Type:   []string{FilterAll},
			},
			mutate: func(i *Instance) { i.Status = "Starting" },
			want:   Verdict{Included: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := baseInstance()
			if tt.mutate != nil {
				tt.mutate(inst)
			}
			got := Evaluate(inst, &tt.filters)
			if got != tt.want {
				t.Errorf("Evaluate() = %+v, want %+v", got, tt.want)
			}
			if Include(inst, &tt.filters) != tt.want.Included {
				t.Errorf("Include() disagrees with Evaluate()")
			}
		})
	}
}

func TestTagPredicateHolds(t *testing.T) {
	inst := &Instance{
		Config:         map[string]string{"user.role": "db", "user.local": "yes"},
		ExpandedConfig: map[string]string{"user.role": "web"},
	}

	tests := []struct {
		name string
		key  string
		pred TagPredicate
		want bool
	}{
		{"expanded config wins", "user.role", TagEquals("web"), true},
		{"config value shadowed", "user.role", TagEquals("db"), false},
		{"falls back to config", "user.local", TagEquals("yes"), true},
		{"not equals mismatch includes", "user.role", TagNotEquals("db"), true},
		{"not equals match excludes", "user.role", TagNotEquals("web"), false},
		{"not equals on missing key includes", "user.missing", TagNotEquals("x"), true},
		{"equals on missing key excludes", "user.missing", TagEquals("x"), false},
		{"presence", "user.local", TagPresent(), true},
		{"presence on missing key excludes", "user.missing", TagPresent(), false},
		{"absence on present key excludes", "user.role", TagAbsent(), false},
		{"absence on missing key includes", "user.missing", TagAbsent(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred.Holds(inst, tt.key); got != tt.want {
				t.Errorf("Holds(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestPresenceTagExcludesInstanceWithoutKey(t *testing.T) {
	inst := &Instance{Name: "bare", Type: InstanceTypeContainer, Status: "Running"}
	f := &Filters{
		Status: []string{FilterAll},
		Type:   []string{FilterAll},
		Tags:   map[string]TagPredicate{"user.managed": TagPresent()},
	}

	if Include(inst, f) {
		t.Fatal("instance lacking the tag key should be excluded")
	}
}

func TestProjectScopedExclusion(t *testing.T) {
	scoped := &Filters{
		Status:       []string{FilterAll},
		Type:         []string{FilterAll},
		ExcludeNames: []Pattern{MustParseNamePattern("proj/vm1")},
	}
	bare := &Filters{
		Status:       []string{FilterAll},
		Type:         []string{FilterAll},
		ExcludeNames: []Pattern{MustParseNamePattern("vm1")},
	}

	for _, project := range []string{"proj", "other", DefaultProject} {
		inst := &Instance{Name: "vm1", Type: InstanceTypeVirtualMachine, Status: "Running", Project: project}

		if got, want := Include(inst, scoped), project != "proj"; got != want {
			t.Errorf("scoped pattern in project %q: Include() = %v, want %v", project, got, want)
		}
		if Include(inst, bare) {
			t.Errorf("bare pattern should exclude vm1 in project %q", project)
		}
	}
}
