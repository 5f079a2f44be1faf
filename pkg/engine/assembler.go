package engine

import (
	"maps"
	"strings"

	"github.com/rs/zerolog"
)

// Static inventory groups.
const (
	GroupAll        = "all"
	GroupContainers = "lxd_containers"
	GroupVMs        = "lxd_vms"
	GroupRunning    = "lxd_running"
	GroupStopped    = "lxd_stopped"
	GroupFrozen     = "lxd_frozen"
	GroupError      = "lxd_error"
)

// Prefixes of dynamic groups.
const (
	EndpointGroupPrefix = "lxd_endpoint_"
	ProfileGroupPrefix  = "lxd_profile_"
	ProjectGroupPrefix  = "lxd_project_"
)

var statusGroups = map[string]string{
	"running": GroupRunning,
	"stopped": GroupStopped,
	"frozen":  GroupFrozen,
	"error":   GroupError,
}

// StaticGroups lists the groups every inventory considers, in output order.
var StaticGroups = []string{
	GroupAll, GroupContainers, GroupVMs,
	GroupRunning, GroupStopped, GroupFrozen, GroupError,
}

// group keeps hosts in insertion order without duplicates.
type group struct {
	hosts []string
	seen  map[string]struct{}
}

func (g *group) add(host string) {
	if _, ok := g.seen[host]; ok {
		return
	}
	g.seen[host] = struct{}{}
	g.hosts = append(g.hosts, host)
}

// Assembler accumulates resolved hosts and group memberships for one run.
// It is not safe for concurrent use.
type Assembler struct {
	logger    zerolog.Logger
	recorder  Recorder
	hostnames *HostnameSet
	hostvars  map[string]*ResolvedHost
	groups    map[string]*group
}

// NewAssembler creates an empty assembler with all static groups registered.
func NewAssembler(logger zerolog.Logger, recorder Recorder) *Assembler {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	a := &Assembler{
		logger:    logger.With().Str("component", "assembler").Logger(),
		recorder:  recorder,
		hostnames: NewHostnameSet(),
		hostvars:  make(map[string]*ResolvedHost),
		groups:    make(map[string]*group),
	}
	for _, name := range StaticGroups {
		a.groupFor(name)
	}
	return a
}

// groupFor returns the named group, creating it on first use.
func (a *Assembler) groupFor(name string) *group {
	g, ok := a.groups[name]
	if !ok {
		g = &group{seen: make(map[string]struct{})}
		a.groups[name] = g
	}
	return g
}

// Add resolves the hostname and addresses of an included instance and
// records it in its groups.
func (a *Assembler) Add(inst *Instance, cfg *EndpointConfig) *ResolvedHost {
	candidate, err := FormatHostname(inst, cfg)
	if err != nil {
		a.recorder.RecordError(string(ClassOf(err)), codeOf(err))
		a.logger.Warn().
			Err(err).
			Str("instance", inst.Name).
			Str("endpoint", cfg.Name).
			Msg("Invalid hostname template, using instance name")
	}

	hostname, collided, exhausted := a.hostnames.Claim(candidate)
	if collided {
		a.recorder.RecordHostnameCollision(cfg.Name)
		a.logger.Debug().
			Str("candidate", candidate).
			Str("hostname", hostname).
			Str("project", inst.Project).
			Str("endpoint", cfg.Name).
			Msg("Hostname collision resolved with suffix")
	}
	if exhausted {
		a.logger.Warn().
			Str("candidate", candidate).
			Str("hostname", hostname).
			Int("attempts", MaxCollisionSuffix).
			Msg("Hostname still collides after maximum suffix attempts, accepting")
	}

	host := newResolvedHost(inst, cfg, hostname)
	a.hostvars[hostname] = host

	a.groupFor(GroupAll).add(hostname)
	switch inst.Type {
	case InstanceTypeContainer:
		a.groupFor(GroupContainers).add(hostname)
	case InstanceTypeVirtualMachine:
		a.groupFor(GroupVMs).add(hostname)
	}
	if g, ok := statusGroups[strings.ToLower(inst.Status)]; ok {
		a.groupFor(g).add(hostname)
	}
	a.groupFor(EndpointGroupPrefix + cfg.Name).add(hostname)
	for _, profile := range inst.Profiles {
		a.groupFor(ProfileGroupPrefix + profile).add(hostname)
	}
	a.groupFor(ProjectGroupPrefix + inst.Project).add(hostname)

	return host
}

func newResolvedHost(inst *Instance, cfg *EndpointConfig, hostname string) *ResolvedHost {
	profiles := inst.Profiles
	if profiles == nil {
		profiles = []string{}
	}

	host := &ResolvedHost{
		Name:         inst.Name,
		Hostname:     hostname,
		Type:         inst.Type,
		Status:       inst.Status,
		Architecture: inst.Architecture,
		Profiles:     profiles,
		Project:      inst.Project,
		Endpoint:     cfg.Name,
		EndpointURL:  cfg.Endpoint,
	}

	primary, ordered := ResolveAddresses(inst, &cfg.Filters)
	if primary != "" {
		host.AnsibleHost = primary
		host.IPs = ordered
	}
	if len(inst.Config) > 0 {
		host.Config = maps.Clone(inst.Config)
	}
	if len(inst.ExpandedConfig) > 0 {
		host.ExpandedConfig = maps.Clone(inst.ExpandedConfig)
	}
	return host
}

// Len returns the number of hosts added so far.
func (a *Assembler) Len() int {
	return len(a.hostvars)
}

// Inventory returns the assembled inventory with empty groups dropped.
func (a *Assembler) Inventory() *Inventory {
	inv := &Inventory{
		Hostvars: maps.Clone(a.hostvars),
		Groups:   make(map[string][]string, len(a.groups)),
	}
	for name, g := range a.groups {
		if len(g.hosts) == 0 {
			continue
		}
		inv.Groups[name] = append([]string(nil), g.hosts...)
	}
	return inv
}
