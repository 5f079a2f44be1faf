package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultHostnameFormat names hosts after their instance.
const DefaultHostnameFormat = "{name}"

// MaxCollisionSuffix bounds the "-N" suffixes tried for a colliding hostname.
const MaxCollisionSuffix = 100

var (
	invalidHostnameChars = regexp.MustCompile(`[^A-Za-z0-9.-]`)
	repeatedDashes       = regexp.MustCompile(`-{2,}`)
)

// TemplateVars returns the variables available to hostname templates.
func TemplateVars(inst *Instance, cfg *EndpointConfig) map[string]string {
	return map[string]string{
		"name":     inst.Name,
		"project":  inst.Project,
		"endpoint": cfg.Name,
		"type":     inst.Type,
		"status":   strings.ToLower(inst.Status),
	}
}

// RenderTemplate substitutes {var} placeholders. "{{" and "}}" produce
// literal braces. Unknown variables and unbalanced braces are errors.
func RenderTemplate(format string, vars map[string]string) (string, error) {
	var b strings.Builder

	for i := 0; i < len(format); i++ {
		ch := format[i]
		switch ch {
		case '{':
			if i+1 < len(format) && format[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(format[i+1:], '}')
			if end < 0 {
				return "", NewTemplateError(fmt.Sprintf("unclosed '{' at offset %d in %q", i, format), nil).
					WithCode(ErrCodeMalformedFormat)
			}
			key := format[i+1 : i+1+end]
			value, ok := vars[key]
			if !ok {
				return "", NewTemplateError(fmt.Sprintf("unknown variable %q in %q", key, format), nil).
					WithCode(ErrCodeUnknownVariable)
			}
			b.WriteString(value)
			i += end + 1
		case '}':
			if i+1 < len(format) && format[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", NewTemplateError(fmt.Sprintf("single '}' at offset %d in %q", i, format), nil).
				WithCode(ErrCodeMalformedFormat)
		default:
			b.WriteByte(ch)
		}
	}

	return b.String(), nil
}

// SanitizeHostname replaces characters outside [A-Za-z0-9.-] with '-',
// collapses runs of '-' and trims leading and trailing '-'.
func SanitizeHostname(s string) string {
	s = invalidHostnameChars.ReplaceAllString(s, "-")
	s = repeatedDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// FormatHostname renders the endpoint's hostname template for an instance.
// On a template error the sanitized instance name is returned together with
// the error, which callers treat as a warning. A name with no usable
// characters is returned unsanitized so every host keeps a non-empty key.
func FormatHostname(inst *Instance, cfg *EndpointConfig) (string, error) {
	format := cfg.HostnameFormat
	if format == "" {
		format = DefaultHostnameFormat
	}

	rendered, err := RenderTemplate(format, TemplateVars(inst, cfg))
	if err != nil {
		rendered = inst.Name
		if ee, ok := err.(*EngineError); ok {
			err = ee.WithEndpoint(cfg.Name).WithDetail("instance", inst.Name)
		}
	}

	if host := SanitizeHostname(rendered); host != "" {
		return host, err
	}
	if host := SanitizeHostname(inst.Name); host != "" {
		return host, err
	}
	return inst.Name, err
}

// HostnameSet tracks hostnames claimed during one inventory generation.
type HostnameSet struct {
	taken map[string]struct{}
}

// NewHostnameSet creates an empty set.
func NewHostnameSet() *HostnameSet {
	return &HostnameSet{taken: make(map[string]struct{})}
}

// Contains reports whether hostname has been claimed.
func (s *HostnameSet) Contains(hostname string) bool {
	_, ok := s.taken[hostname]
	return ok
}

// Claim reserves a unique hostname derived from candidate, appending -1, -2, …
// on collision. After MaxCollisionSuffix attempts the last tried name is
// accepted even if it still collides; collided reports whether a suffix was
// needed and exhausted reports the give-up case.
func (s *HostnameSet) Claim(candidate string) (hostname string, collided, exhausted bool) {
	hostname = candidate
	if s.Contains(hostname) {
		collided = true
		for n := 1; n <= MaxCollisionSuffix; n++ {
			hostname = candidate + "-" + strconv.Itoa(n)
			if !s.Contains(hostname) {
				break
			}
			if n == MaxCollisionSuffix {
				exhausted = true
			}
		}
	}
	s.taken[hostname] = struct{}{}
	return hostname, collided, exhausted
}
