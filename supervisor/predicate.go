package supervisor

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/schema"
)

// Predicate decides whether an envelope is fit to present.
type Predicate interface {
	Check(env core.Envelope) core.TrustVerdict
}

// PredicateFunc adapts a function to the Predicate interface.
type PredicateFunc func(env core.Envelope) core.TrustVerdict

// Check implements Predicate.
func (f PredicateFunc) Check(env core.Envelope) core.TrustVerdict { return f(env) }

// All passes when every predicate passes; the first failing verdict is returned.
func All(preds ...Predicate) Predicate {
	return PredicateFunc(func(env core.Envelope) core.TrustVerdict {
		for _, p := range preds {
			if v := p.Check(env); !v.Passed {
				return v
			}
		}
		return core.Pass()
	})
}

// Always accepts any non-error envelope.
func Always() Predicate {
	return PredicateFunc(func(env core.Envelope) core.TrustVerdict {
		if er, ok := core.IsError(env); ok {
			return core.Fail("%s: %s", er.Kind, er.Message)
		}
		return core.Pass()
	})
}

// LocationPattern describes a valid output location:
// <Scheme>://<sub>.<DomainFamily>/…/<Segments[0]>/<Segments[1]>/…<Suffix>.
type LocationPattern struct {
	Scheme       string
	DomainFamily string
	Segments     [2]string
	Suffix       string
}

// Regexp compiles the pattern.
func (p LocationPattern) Regexp() (*regexp.Regexp, error) {
	scheme := p.Scheme
	if scheme == "" {
		scheme = "https"
	}
	if p.DomainFamily == "" {
		return nil, fmt.Errorf("location pattern requires a domain family")
	}
	var b strings.Builder
	b.WriteString(`(?i)^`)
	b.WriteString(regexp.QuoteMeta(scheme))
	b.WriteString(`://(?:[a-z0-9-]+\.)+`)
	b.WriteString(regexp.QuoteMeta(strings.TrimPrefix(p.DomainFamily, ".")))
	b.WriteString(`/(?:[^?#]*/)?`)
	for _, seg := range p.Segments {
		if seg == "" {
			continue
		}
		b.WriteString(regexp.QuoteMeta(seg))
		b.WriteString(`/`)
	}
	b.WriteString(`[^?#]*`)
	b.WriteString(regexp.QuoteMeta(p.Suffix))
	b.WriteString(`(?:[?#].*)?$`)
	return regexp.Compile(b.String())
}

// StructuralConfig declares the structural contract of a result.
type StructuralConfig struct {
	CountField     string
	DetailField    string
	LocationField  string
	Location       *LocationPattern
	RequiredFields []string
}

// StructuralPredicate is the generic trust predicate. Every clause must hold:
// the envelope is structured, the count field is a non-negative integer, the
// detail collection is non-empty, the location field matches the pattern and
// the required fields are present.
type StructuralPredicate struct {
	cfg      StructuralConfig
	location *regexp.Regexp
	required *schema.Validator
}

// NewStructural compiles a StructuralPredicate.
func NewStructural(cfg StructuralConfig) (*StructuralPredicate, error) {
	p := &StructuralPredicate{cfg: cfg}
	if cfg.LocationField != "" && cfg.Location != nil {
		re, err := cfg.Location.Regexp()
		if err != nil {
			return nil, err
		}
		p.location = re
	}
	if len(cfg.RequiredFields) > 0 {
		v, err := schema.Compile(schema.RequiredFields(cfg.RequiredFields...))
		if err != nil {
			return nil, err
		}
		p.required = v
	}
	return p, nil
}

// Check implements Predicate.
func (p *StructuralPredicate) Check(env core.Envelope) core.TrustVerdict {
	if er, ok := core.IsError(env); ok {
		return core.Fail("error result %s: %s", er.Kind, er.Message)
	}
	fields, ok := core.StructuredFields(env)
	if !ok {
		return core.Fail("response is not a structured result")
	}

	if p.cfg.CountField != "" {
		if _, ok := CountOf(fields[p.cfg.CountField]); !ok {
			return core.Fail("%s must be a non-negative integer, got %v", p.cfg.CountField, fields[p.cfg.CountField])
		}
	}
	if p.cfg.DetailField != "" {
		if n, ok := collectionLen(fields[p.cfg.DetailField]); !ok || n == 0 {
			return core.Fail("%s must be a non-empty collection", p.cfg.DetailField)
		}
	}
	if p.location != nil {
		loc, _ := fields[p.cfg.LocationField].(string)
		if !p.location.MatchString(loc) {
			return core.Fail("%s %q does not match the expected location pattern", p.cfg.LocationField, loc)
		}
	}
	if p.required != nil {
		if err := p.required.Validate(fields); err != nil {
			return core.Fail("required fields: %v", err)
		}
	}
	return core.Pass()
}

// CountOf converts a decoded count value to a non-negative int.
func CountOf(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, n >= 0
	case int32:
		return int(n), n >= 0
	case int64:
		return int(n), n >= 0
	case float64:
		if n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < 0 {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

func collectionLen(v any) (int, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), true
	default:
		return 0, false
	}
}
