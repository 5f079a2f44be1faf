package config

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/lxd-inventory/pkg/engine"
)

// Built-in defaults.
const (
	DefaultEndpoint     = "unix:///var/lib/lxd/unix.socket"
	DefaultEndpointName = "default"
)

// DefaultIgnoreInterfaces are never used for inventory addresses.
var DefaultIgnoreInterfaces = []string{"lo", "docker0"}

// typeAliases maps short instance type names to LXD's.
var typeAliases = map[string]string{
	"vm":        engine.InstanceTypeVirtualMachine,
	"lxc":       engine.InstanceTypeContainer,
	"ct":        engine.InstanceTypeContainer,
	"container": engine.InstanceTypeContainer,
}

// Environment variables read into the lowest configured layer.
const (
	EnvEndpoint       = "LXD_ENDPOINT"
	EnvCertPath       = "LXD_CERT_PATH"
	EnvKeyPath        = "LXD_KEY_PATH"
	EnvCACertPath     = "LXD_CA_CERT_PATH"
	EnvVerifySSL      = "LXD_VERIFY_SSL"
	EnvFilterStatus   = "LXD_FILTER_STATUS"
	EnvFilterType     = "LXD_FILTER_TYPE"
	EnvFilterProject  = "LXD_FILTER_PROJECT"
	EnvFilterProfiles = "LXD_FILTER_PROFILES"
	EnvHostnameFormat = "LXD_HOSTNAME_FORMAT"
	EnvExcludeNames   = "LXD_EXCLUDE_NAMES"
)

// Resolver turns a RawConfig and command-line overrides into one
// EndpointConfig per endpoint.
//
// Per field the first layer that sets it wins:
// command line, endpoint, global_defaults, environment, built-in.
type Resolver struct {
	logger   zerolog.Logger
	validate *validator.Validate
	getenv   func(string) string
}

// NewResolver creates a resolver reading the process environment.
func NewResolver(logger zerolog.Logger) *Resolver {
	return &Resolver{
		logger:   logger.With().Str("component", "config-resolver").Logger(),
		validate: NewValidator(),
		getenv:   os.Getenv,
	}
}

// WithEnv replaces the environment lookup.
func (r *Resolver) WithEnv(getenv func(string) string) *Resolver {
	r.getenv = getenv
	return r
}

// NewValidator returns a validator with the lxd_endpoint rule registered.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("lxd_endpoint", validateEndpointURL); err != nil {
		panic(err)
	}
	return v
}

// validateEndpointURL accepts unix:///path, http://host and https://host.
func validateEndpointURL(fl validator.FieldLevel) bool {
	return ValidEndpointURL(fl.Field().String())
}

// ValidEndpointURL reports whether s is a usable LXD endpoint address.
func ValidEndpointURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "unix":
		return u.Path != ""
	case "http", "https":
		return u.Host != ""
	default:
		return false
	}
}

// Resolve produces the endpoint mapping. Only configuration errors are
// returned; invalid exclude patterns and environment values are logged and
// skipped.
func (r *Resolver) Resolve(raw RawConfig, o Overrides) (map[string]engine.EndpointConfig, error) {
	fc, err := decodeFileConfig(raw)
	if err != nil {
		return nil, err
	}

	fragments := r.endpointFragments(fc)

	names := slices.Sorted(maps.Keys(fragments))
	if len(o.Endpoints) > 0 {
		var missing []string
		for _, name := range o.Endpoints {
			if _, ok := fragments[name]; !ok {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("unknown endpoint(s) %s; available: %s",
					strings.Join(missing, ", "), strings.Join(names, ", ")), nil).
				WithCode(engine.ErrCodeUnknownEndpoint).
				WithDetail("available", names)
		}
		names = slices.Compact(slices.Sorted(slices.Values(o.Endpoints)))
	}

	cli, err := overridesFragment(o)
	if err != nil {
		return nil, err
	}
	env := r.envFragment()

	out := make(map[string]engine.EndpointConfig, len(names))
	for _, name := range names {
		cfg := r.resolveEndpoint(name, []*fragment{cli, fragments[name], fc.GlobalDefaults, env}, o.AllProjects)
		if err := r.validate.Struct(cfg); err != nil {
			return nil, validationError(name, err)
		}
		out[name] = cfg
	}
	return out, nil
}

// decodeFileConfig converts the raw tree into typed fragments.
func decodeFileConfig(raw RawConfig) (*fileConfig, error) {
	fc := &fileConfig{}
	if raw.IsEmpty() {
		return fc, nil
	}

	data, err := yaml.Marshal(map[string]interface{}(raw))
	if err != nil {
		return nil, engine.NewConfigurationError("cannot re-encode configuration", err).
			WithCode(engine.ErrCodeMalformedConfig)
	}
	if err := yaml.Unmarshal(data, fc); err != nil {
		return nil, engine.NewConfigurationError("malformed configuration", err).
			WithCode(engine.ErrCodeMalformedConfig)
	}
	return fc, nil
}

// endpointFragments returns the per-endpoint layers: lxd_endpoints when
// present, otherwise the flat tree, otherwise a single empty "default".
func (r *Resolver) endpointFragments(fc *fileConfig) map[string]*fragment {
	if len(fc.Endpoints) > 0 {
		if !fc.fragment.isZero() {
			r.logger.Warn().Msg("Top-level endpoint settings are ignored when lxd_endpoints is set")
		}
		out := make(map[string]*fragment, len(fc.Endpoints))
		for name, f := range fc.Endpoints {
			if f == nil {
				f = &fragment{}
			}
			out[name] = f
		}
		return out
	}

	flat := fc.fragment
	return map[string]*fragment{DefaultEndpointName: &flat}
}

// overridesFragment expresses command-line overrides as the top layer.
func overridesFragment(o Overrides) (*fragment, error) {
	tags, err := ParseTagArgs(o.Tags)
	if err != nil {
		return nil, engine.NewConfigurationError("invalid --tag", err).
			WithCode(engine.ErrCodeValidation)
	}

	f := &fragment{
		Filters: &filtersFragment{
			Status:           nonEmpty(o.Status),
			Type:             nonEmpty(o.Type),
			Projects:         nonEmpty(o.Projects),
			Profiles:         nonEmpty(o.Profiles),
			IgnoreInterfaces: nonEmpty(o.IgnoreInterfaces),
			PreferIPv6:       o.PreferIPv6,
			Tags:             tags,
		},
	}
	if o.HostnameFormat != "" {
		f.HostnameFormat = &o.HostnameFormat
	}
	return f, nil
}

// envFragment reads the LXD_* environment variables.
func (r *Resolver) envFragment() *fragment {
	f := &fragment{Filters: &filtersFragment{}}

	str := func(key string) *string {
		if v := strings.TrimSpace(r.getenv(key)); v != "" {
			return &v
		}
		return nil
	}
	list := func(key string) StringList {
		return nonEmpty(splitList(r.getenv(key)))
	}

	f.Endpoint = str(EnvEndpoint)
	f.CertPath = str(EnvCertPath)
	f.KeyPath = str(EnvKeyPath)
	f.CACertPath = str(EnvCACertPath)
	f.HostnameFormat = str(EnvHostnameFormat)

	if v := str(EnvVerifySSL); v != nil {
		b, err := strconv.ParseBool(*v)
		if err != nil {
			r.logger.Warn().Str("variable", EnvVerifySSL).Str("value", *v).Msg("Ignoring invalid boolean")
		} else {
			f.VerifySSL = &b
		}
	}

	f.Filters.Status = list(EnvFilterStatus)
	f.Filters.Type = list(EnvFilterType)
	f.Filters.Projects = list(EnvFilterProject)
	f.Filters.Profiles = list(EnvFilterProfiles)
	f.Filters.ExcludeNames = list(EnvExcludeNames)
	return f
}

// resolveEndpoint merges layers, highest precedence first, over the built-ins.
func (r *Resolver) resolveEndpoint(name string, layers []*fragment, allProjects bool) engine.EndpointConfig {
	logger := r.logger.With().Str("endpoint", name).Logger()

	filters := make([]*filtersFragment, len(layers))
	for i, l := range layers {
		filters[i] = l.filters()
	}

	cfg := engine.EndpointConfig{
		Name:           name,
		Endpoint:       firstString(layers, func(f *fragment) *string { return f.Endpoint }, DefaultEndpoint),
		CertPath:       firstString(layers, func(f *fragment) *string { return f.CertPath }, ""),
		KeyPath:        firstString(layers, func(f *fragment) *string { return f.KeyPath }, ""),
		CACertPath:     firstString(layers, func(f *fragment) *string { return f.CACertPath }, ""),
		VerifySSL:      firstBool(layers, func(f *fragment) *bool { return f.VerifySSL }, false),
		HostnameFormat: firstString(layers, func(f *fragment) *string { return f.HostnameFormat }, engine.DefaultHostnameFormat),
	}

	status := firstList(filters, func(f *filtersFragment) StringList { return f.Status }, []string{engine.FilterAll})
	types := firstList(filters, func(f *filtersFragment) StringList { return f.Type }, []string{engine.FilterAll})
	projects := firstList(filters, func(f *filtersFragment) StringList { return f.Projects }, []string{engine.DefaultProject})

	cfg.Filters = engine.Filters{
		Status:           normalizeStatus(status),
		Type:             normalizeTypes(types),
		Projects:         projectSelector(projects, allProjects),
		Profiles:         firstList(filters, func(f *filtersFragment) StringList { return f.Profiles }, []string{}),
		IgnoreInterfaces: firstList(filters, func(f *filtersFragment) StringList { return f.IgnoreInterfaces }, DefaultIgnoreInterfaces),
		PreferIPv6:       firstBoolFilter(filters, false),
		Tags:             mergeTags(filters),
	}

	// Exclusions come from configuration and environment, never from the command line.
	configured := filters[1:]
	cfg.Filters.ExcludeNames = parsePatterns(logger,
		firstList(configured, func(f *filtersFragment) StringList { return f.ExcludeNames }, nil),
		engine.ParseNamePattern)
	cfg.Filters.ExcludeProjects = parsePatterns(logger,
		firstList(configured, func(f *filtersFragment) StringList { return f.ExcludeProjects }, nil),
		engine.ParseProjectPattern)

	return cfg
}

func firstString(layers []*fragment, get func(*fragment) *string, def string) string {
	for _, l := range layers {
		if l == nil {
			continue
		}
		if v := get(l); v != nil {
			return *v
		}
	}
	return def
}

func firstBool(layers []*fragment, get func(*fragment) *bool, def bool) bool {
	for _, l := range layers {
		if l == nil {
			continue
		}
		if v := get(l); v != nil {
			return *v
		}
	}
	return def
}

func firstBoolFilter(layers []*filtersFragment, def bool) bool {
	for _, l := range layers {
		if l.PreferIPv6 != nil {
			return *l.PreferIPv6
		}
	}
	return def
}

// firstList returns a copy of the first list set by any layer. Lists are
// replaced as a whole, never appended.
func firstList(layers []*filtersFragment, get func(*filtersFragment) StringList, def []string) []string {
	for _, l := range layers {
		if v := get(l); v != nil {
			return slices.Clone([]string(v))
		}
	}
	return slices.Clone(def)
}

// mergeTags merges tag predicates key-wise, higher layers winning per key.
func mergeTags(layers []*filtersFragment) map[string]engine.TagPredicate {
	out := make(map[string]engine.TagPredicate)
	for i := len(layers) - 1; i >= 0; i-- {
		maps.Copy(out, layers[i].Tags)
	}
	return out
}

func normalizeStatus(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}

func normalizeTypes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if alias, ok := typeAliases[t]; ok {
			t = alias
		}
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func projectSelector(projects []string, all bool) engine.ProjectSelector {
	if all || slices.Contains(projects, engine.FilterAll) {
		return engine.AllProjects()
	}
	if len(projects) == 0 {
		return engine.Projects(engine.DefaultProject)
	}
	return engine.Projects(projects...)
}

// parsePatterns compiles patterns in order, skipping invalid ones.
func parsePatterns(logger zerolog.Logger, raw []string, parse func(string) (engine.Pattern, error)) []engine.Pattern {
	if len(raw) == 0 {
		return nil
	}
	out := make([]engine.Pattern, 0, len(raw))
	for _, s := range raw {
		p, err := parse(s)
		if err != nil {
			logger.Warn().Err(err).Str("pattern", s).Msg("Skipping invalid exclude pattern")
			continue
		}
		out = append(out, p)
	}
	return out
}

func nonEmpty(in []string) StringList {
	if len(in) == 0 {
		return nil
	}
	return StringList(in)
}

// validationError converts validator errors into a configuration error.
func validationError(endpoint string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return engine.NewConfigurationError("invalid endpoint configuration", err).
			WithEndpoint(endpoint).
			WithCode(engine.ErrCodeValidation)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return engine.NewConfigurationError(strings.Join(msgs, "; "), err).
		WithEndpoint(endpoint).
		WithCode(engine.ErrCodeValidation)
}
