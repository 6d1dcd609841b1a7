// Package reference repairs file references supplied by a language model by
// matching them against the artifacts actually produced in a session.
package reference

import (
	"slices"
	"strings"

	"github.com/hupe1980/toolmesh/logging"
)

// IsURL reports whether ref carries an http or https scheme.
func IsURL(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://")
}

// Resolve returns the effective reference for claimed. URLs are accepted
// as-is. Otherwise the first produced reference (in insertion order) that
// contains claimed, or ends in "/"+claimed, wins. Without a match claimed is
// returned unchanged.
func Resolve(claimed string, produced []string) string {
	if claimed == "" || IsURL(claimed) {
		return claimed
	}
	for _, p := range produced {
		if strings.Contains(p, claimed) || strings.HasSuffix(p, "/"+claimed) {
			return p
		}
	}
	return claimed
}

// Resolver wraps Resolve with logging.
type Resolver struct {
	logger logging.Logger
}

// NewResolver creates a Resolver. A nil logger discards output.
func NewResolver(logger logging.Logger) *Resolver {
	return &Resolver{logger: logging.OrNoOp(logger)}
}

// Resolve resolves claimed against produced, logging how it was settled.
func (r *Resolver) Resolve(claimed string, produced []string) string {
	if IsURL(claimed) {
		if slices.Contains(produced, claimed) {
			r.logger.Debug("reference.verified", "ref", claimed)
		} else {
			r.logger.Info("reference.unverified_external", "ref", claimed)
		}
		return claimed
	}
	out := Resolve(claimed, produced)
	if out != claimed {
		r.logger.Info("reference.repaired", "claimed", claimed, "resolved", out)
	} else if claimed != "" {
		r.logger.Debug("reference.unmatched", "ref", claimed)
	}
	return out
}

// ResolveArgs rewrites the string values of keys in args in place and reports
// how many were changed.
func (r *Resolver) ResolveArgs(args map[string]any, keys []string, produced []string) int {
	changed := 0
	for _, key := range keys {
		claimed, ok := args[key].(string)
		if !ok {
			continue
		}
		if resolved := r.Resolve(claimed, produced); resolved != claimed {
			args[key] = resolved
			changed++
		}
	}
	return changed
}
