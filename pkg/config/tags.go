package config

import (
	"fmt"
	"strings"

	"github.com/openfroyo/lxd-inventory/pkg/engine"
)

// ParseTagExpr parses one tag expression:
//
//	key=value   key must equal value
//	key!=value  key must not equal value
//	key         key must be set
//	!key        key must not be set
func ParseTagExpr(expr string) (string, engine.TagPredicate, error) {
	expr = strings.TrimSpace(expr)

	if key, value, ok := strings.Cut(expr, "!="); ok {
		key = strings.TrimSpace(key)
		if key == "" {
			return "", engine.TagPredicate{}, fmt.Errorf("tag expression %q has no key", expr)
		}
		return key, engine.TagNotEquals(strings.TrimSpace(value)), nil
	}

	if key, value, ok := strings.Cut(expr, "="); ok {
		key = strings.TrimSpace(key)
		if key == "" {
			return "", engine.TagPredicate{}, fmt.Errorf("tag expression %q has no key", expr)
		}
		return key, engine.TagEquals(strings.TrimSpace(value)), nil
	}

	if key, ok := strings.CutPrefix(expr, "!"); ok {
		key = strings.TrimSpace(key)
		if key == "" {
			return "", engine.TagPredicate{}, fmt.Errorf("tag expression %q has no key", expr)
		}
		return key, engine.TagAbsent(), nil
	}

	if expr == "" {
		return "", engine.TagPredicate{}, fmt.Errorf("empty tag expression")
	}
	return expr, engine.TagPresent(), nil
}

// ParseTagArgs parses command-line tag arguments such as "k=v,k2!=v2".
// Later expressions for the same key win.
func ParseTagArgs(args []string) (map[string]engine.TagPredicate, error) {
	if len(args) == 0 {
		return nil, nil
	}

	out := make(map[string]engine.TagPredicate)
	for _, arg := range args {
		for _, expr := range splitList(arg) {
			key, pred, err := ParseTagExpr(expr)
			if err != nil {
				return nil, err
			}
			out[key] = pred
		}
	}
	return out, nil
}
