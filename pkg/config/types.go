package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/lxd-inventory/pkg/engine"
)

// RawConfig is the decoded configuration file tree.
// Recognized top-level keys are global_defaults, lxd_endpoints and the flat
// single-endpoint keys (endpoint, verify_ssl, filters, cert_path, key_path,
// ca_cert_path, hostname_format).
type RawConfig map[string]interface{}

// IsEmpty reports whether no configuration was provided.
func (r RawConfig) IsEmpty() bool {
	return len(r) == 0
}

// Overrides holds command-line settings. Zero values mean "not given".
type Overrides struct {
	// Endpoints restricts the run to the named endpoints.
	Endpoints []string

	// Status replaces the merged status filter.
	Status []string

	// Type replaces the merged type filter.
	Type []string

	// Projects replaces the merged project selection.
	Projects []string

	// AllProjects forces projects to "all".
	AllProjects bool

	// Profiles replaces the merged profile filter.
	Profiles []string

	// Tags are "k=v", "k!=v", "k" or "!k" expressions, possibly comma separated.
	Tags []string

	// IgnoreInterfaces replaces the merged interface ignore-list.
	IgnoreInterfaces []string

	// PreferIPv6 overrides the address family preference when set.
	PreferIPv6 *bool

	// HostnameFormat overrides the hostname template when non-empty.
	HostnameFormat string
}

// fileConfig is the typed view of a RawConfig.
type fileConfig struct {
	GlobalDefaults *fragment            `yaml:"global_defaults"`
	Endpoints      map[string]*fragment `yaml:"lxd_endpoints"`

	fragment `yaml:",inline"`
}

// fragment is one configuration layer for an endpoint. Nil fields are unset
// and fall through to the next layer.
type fragment struct {
	Endpoint       *string          `yaml:"endpoint"`
	CertPath       *string          `yaml:"cert_path"`
	KeyPath        *string          `yaml:"key_path"`
	CACertPath     *string          `yaml:"ca_cert_path"`
	VerifySSL      *bool            `yaml:"verify_ssl"`
	HostnameFormat *string          `yaml:"hostname_format"`
	Filters        *filtersFragment `yaml:"filters"`
}

// filtersFragment is the filters block of one layer.
type filtersFragment struct {
	Status           StringList `yaml:"status"`
	Type             StringList `yaml:"type"`
	Projects         StringList `yaml:"projects"`
	Profiles         StringList `yaml:"profiles"`
	IgnoreInterfaces StringList `yaml:"ignore_interfaces"`
	PreferIPv6       *bool      `yaml:"prefer_ipv6"`
	ExcludeNames     StringList `yaml:"exclude_names"`
	ExcludeProjects  StringList `yaml:"exclude_projects"`
	Tags             TagSpec    `yaml:"tags"`
}

// isZero reports whether the fragment sets nothing.
func (f *fragment) isZero() bool {
	return f == nil || (f.Endpoint == nil && f.CertPath == nil && f.KeyPath == nil &&
		f.CACertPath == nil && f.VerifySSL == nil && f.HostnameFormat == nil && f.Filters == nil)
}

// filters returns the filters block, never nil.
func (f *fragment) filters() *filtersFragment {
	if f == nil || f.Filters == nil {
		return &filtersFragment{}
	}
	return f.Filters
}

// StringList accepts a YAML scalar or sequence. It stays nil when the key
// is absent so that lower layers apply; an explicit empty list is non-nil.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil
		}
		*s = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		out := make(StringList, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected a string list item", item.Line)
			}
			out = append(out, item.Value)
		}
		*s = out
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
	}
}

// TagSpec is a set of tag predicates in any of the accepted encodings:
//
//	tags:                       tags:
//	  user.role: web              - user.role=web
//	  user.env: {value: dev,      - user.env!=dev
//	             negate: true}    - user.managed
//	  user.managed: null          - "!user.legacy"
//	  user.legacy: {negate: true}
type TagSpec map[string]engine.TagPredicate

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *TagSpec) UnmarshalYAML(node *yaml.Node) error {
	out := make(TagSpec)

	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil
		}
		return t.fromExpressions([]string{node.Value})
	case yaml.SequenceNode:
		exprs := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: tag list items must be strings", item.Line)
			}
			exprs = append(exprs, item.Value)
		}
		return t.fromExpressions(exprs)
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i].Value, node.Content[i+1]
			pred, err := tagPredicateFromNode(value)
			if err != nil {
				return fmt.Errorf("tag %q: %w", key, err)
			}
			out[key] = pred
		}
		*t = out
		return nil
	default:
		return fmt.Errorf("line %d: tags must be a mapping or a list", node.Line)
	}
}

func (t *TagSpec) fromExpressions(exprs []string) error {
	out := make(TagSpec, len(exprs))
	for _, expr := range exprs {
		key, pred, err := ParseTagExpr(expr)
		if err != nil {
			return err
		}
		out[key] = pred
	}
	*t = out
	return nil
}

func tagPredicateFromNode(node *yaml.Node) (engine.TagPredicate, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return engine.TagPresent(), nil
		}
		return engine.TagEquals(node.Value), nil
	case yaml.MappingNode:
		var pred engine.TagPredicate
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			switch key.Value {
			case "value":
				if val.Tag == "!!null" {
					continue
				}
				if val.Kind != yaml.ScalarNode {
					return engine.TagPredicate{}, fmt.Errorf("line %d: value must be a scalar", val.Line)
				}
				v := val.Value
				pred.Expected = &v
			case "negate":
				if err := val.Decode(&pred.Negate); err != nil {
					return engine.TagPredicate{}, fmt.Errorf("line %d: negate must be a boolean", val.Line)
				}
			}
		}
		return pred, nil
	default:
		return engine.TagPredicate{}, fmt.Errorf("line %d: expected a value or {value, negate}", node.Line)
	}
}

// splitList splits comma separated values, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
