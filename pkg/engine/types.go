package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Instance types reported by LXD.
const (
	InstanceTypeContainer      = "container"
	InstanceTypeVirtualMachine = "virtual-machine"
)

// FilterAll is the sentinel that disables a status, type or project filter.
const FilterAll = "all"

// DefaultProject is the project every LXD server has.
const DefaultProject = "default"

// Address families reported by LXD.
const (
	FamilyInet  = "inet"
	FamilyInet6 = "inet6"
)

// ScopeGlobal is the only address scope considered for inventory addresses.
const ScopeGlobal = "global"

// EndpointConfig is the fully resolved configuration of one LXD endpoint.
// It is built once per run by the config resolver and never mutated afterwards.
type EndpointConfig struct {
	// Name is the endpoint key from the configuration (or "default").
	Name string `json:"name" yaml:"name" validate:"required"`

	// Endpoint is the connection address (unix:///path or https://host:port).
	Endpoint string `json:"endpoint" yaml:"endpoint" validate:"required,lxd_endpoint"`

	// CertPath is the client certificate used for TLS authentication.
	CertPath string `json:"cert_path,omitempty" yaml:"cert_path,omitempty" validate:"required_with=KeyPath"`

	// KeyPath is the client private key used for TLS authentication.
	KeyPath string `json:"key_path,omitempty" yaml:"key_path,omitempty" validate:"required_with=CertPath"`

	// CACertPath pins the server certificate authority.
	CACertPath string `json:"ca_cert_path,omitempty" yaml:"ca_cert_path,omitempty"`

	// VerifySSL controls server certificate verification when no CA is pinned.
	VerifySSL bool `json:"verify_ssl" yaml:"verify_ssl"`

	// HostnameFormat is the inventory hostname template, e.g. "{name}-{project}".
	HostnameFormat string `json:"hostname_format" yaml:"hostname_format" validate:"required"`

	// Filters decides which instances of this endpoint are included.
	Filters Filters `json:"filters" yaml:"filters"`
}

// Filters is the resolved filter block of an endpoint.
type Filters struct {
	Status           []string                `json:"status" yaml:"status" validate:"min=1,dive,required"`
	Type             []string                `json:"type" yaml:"type" validate:"min=1,dive,oneof=all container virtual-machine"`
	Projects         ProjectSelector         `json:"projects" yaml:"projects"`
	Profiles         []string                `json:"profiles" yaml:"profiles"`
	IgnoreInterfaces []string                `json:"ignore_interfaces" yaml:"ignore_interfaces"`
	PreferIPv6       bool                    `json:"prefer_ipv6" yaml:"prefer_ipv6"`
	ExcludeNames     []Pattern               `json:"exclude_names" yaml:"exclude_names"`
	ExcludeProjects  []Pattern               `json:"exclude_projects" yaml:"exclude_projects"`
	Tags             map[string]TagPredicate `json:"tags" yaml:"tags"`
}

// ProjectSelector is either the "all" sentinel or an explicit project list.
type ProjectSelector struct {
	All   bool
	Names []string
}

// AllProjects returns a selector matching every project of an endpoint.
func AllProjects() ProjectSelector {
	return ProjectSelector{All: true}
}

// Projects returns a selector for the named projects.
func Projects(names ...string) ProjectSelector {
	return ProjectSelector{Names: names}
}

// String renders the selector for logs.
func (p ProjectSelector) String() string {
	if p.All {
		return FilterAll
	}
	return strings.Join(p.Names, ",")
}

// MarshalJSON renders "all" or the project list.
func (p ProjectSelector) MarshalJSON() ([]byte, error) {
	if p.All {
		return json.Marshal(FilterAll)
	}
	return json.Marshal(p.Names)
}

// MarshalYAML renders "all" or the project list.
func (p ProjectSelector) MarshalYAML() (interface{}, error) {
	if p.All {
		return FilterAll, nil
	}
	return p.Names, nil
}

// TagPredicate is a single tag condition evaluated against instance config.
// A nil Expected value turns the predicate into a key presence check.
type TagPredicate struct {
	Expected *string `json:"value" yaml:"value"`
	Negate   bool    `json:"negate" yaml:"negate"`
}

// TagEquals returns a predicate requiring key == value.
func TagEquals(value string) TagPredicate {
	return TagPredicate{Expected: &value}
}

// TagNotEquals returns a predicate requiring key != value.
func TagNotEquals(value string) TagPredicate {
	return TagPredicate{Expected: &value, Negate: true}
}

// TagPresent returns a predicate requiring the key to be set.
func TagPresent() TagPredicate {
	return TagPredicate{}
}

// TagAbsent returns a predicate requiring the key to be unset.
func TagAbsent() TagPredicate {
	return TagPredicate{Negate: true}
}

// Instance is an instance record as returned by /1.0/instances?recursion=2,
// stamped with the project and endpoint it was collected from.
type Instance struct {
	Name           string            `json:"name"`
	Type           string            `json:"type"`
	Status         string            `json:"status"`
	Architecture   string            `json:"architecture"`
	Profiles       []string          `json:"profiles"`
	Config         map[string]string `json:"config"`
	ExpandedConfig map[string]string `json:"expanded_config"`
	State          *InstanceState    `json:"state"`

	// Project is the lxd_project the instance was fetched from.
	Project string `json:"-"`

	// Endpoint is the lxd_endpoint name the instance was fetched from.
	Endpoint string `json:"-"`
}

// InstanceState is the subset of the instance state used by the engine.
type InstanceState struct {
	Network NetworkInterfaces `json:"network"`
}

// NetworkInterfaces keeps interfaces in the order the server reported them.
type NetworkInterfaces []NetworkInterface

// NetworkInterface is one entry of state.network.
type NetworkInterface struct {
	Name      string    `json:"-"`
	Addresses []Address `json:"addresses"`
}

// Address is a single interface address.
type Address struct {
	Family  string `json:"family"`
	Address string `json:"address"`
	Netmask string `json:"netmask"`
	Scope   string `json:"scope"`
}

// UnmarshalJSON decodes the state.network object without losing key order.
func (n *NetworkInterfaces) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*n = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("network: expected object, got %v", tok)
	}

	var out NetworkInterfaces
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("network: unexpected key %v", keyTok)
		}

		var iface NetworkInterface
		if err := dec.Decode(&iface); err != nil {
			return fmt.Errorf("network: interface %s: %w", name, err)
		}
		iface.Name = name
		out = append(out, iface)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*n = out
	return nil
}

// Interfaces returns the instance network interfaces, or nil when the
// instance carries no state (e.g. stopped instances).
func (i *Instance) Interfaces() NetworkInterfaces {
	if i.State == nil {
		return nil
	}
	return i.State.Network
}

// ResolvedHost holds the host variables of one inventory entry.
type ResolvedHost struct {
	Name           string            `json:"lxd_name" yaml:"lxd_name"`
	Hostname       string            `json:"lxd_hostname" yaml:"lxd_hostname"`
	Type           string            `json:"lxd_type" yaml:"lxd_type"`
	Status         string            `json:"lxd_status" yaml:"lxd_status"`
	Architecture   string            `json:"lxd_architecture" yaml:"lxd_architecture"`
	Profiles       []string          `json:"lxd_profiles" yaml:"lxd_profiles"`
	Project        string            `json:"lxd_project" yaml:"lxd_project"`
	Endpoint       string            `json:"lxd_endpoint" yaml:"lxd_endpoint"`
	EndpointURL    string            `json:"lxd_endpoint_url" yaml:"lxd_endpoint_url"`
	AnsibleHost    string            `json:"ansible_host,omitempty" yaml:"ansible_host,omitempty"`
	IPs            []string          `json:"lxd_ip,omitempty" yaml:"lxd_ip,omitempty"`
	Config         map[string]string `json:"lxd_config,omitempty" yaml:"lxd_config,omitempty"`
	ExpandedConfig map[string]string `json:"lxd_expanded_config,omitempty" yaml:"lxd_expanded_config,omitempty"`
}

// Inventory is the result of one inventory generation.
type Inventory struct {
	// Hostvars maps each unique hostname to its variables.
	Hostvars map[string]*ResolvedHost

	// Groups maps a group name to its hosts. Empty groups are never present.
	Groups map[string][]string
}

// Hosts returns the number of hosts in the inventory.
func (inv *Inventory) Hosts() int {
	return len(inv.Hostvars)
}

// AsMap renders the inventory in the Ansible dynamic inventory layout.
func (inv *Inventory) AsMap() map[string]interface{} {
	out := make(map[string]interface{}, len(inv.Groups)+1)

	hostvars := inv.Hostvars
	if hostvars == nil {
		hostvars = map[string]*ResolvedHost{}
	}
	out["_meta"] = map[string]interface{}{"hostvars": hostvars}

	for name, hosts := range inv.Groups {
		out[name] = map[string]interface{}{"hosts": hosts}
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (inv *Inventory) MarshalJSON() ([]byte, error) {
	return json.Marshal(inv.AsMap())
}

// MarshalYAML implements yaml.Marshaler.
func (inv *Inventory) MarshalYAML() (interface{}, error) {
	return inv.AsMap(), nil
}
