package audit

import (
	"fmt"
	"regexp"
	"strings"
)

// MethodMatcher matches an HTTP verb exactly (case-insensitive) or any verb.
type MethodMatcher struct {
	verb string
	any  bool
}

// AnyMethod matches every HTTP verb.
var AnyMethod = MethodMatcher{any: true}

// Method matches one HTTP verb.
func Method(verb string) MethodMatcher {
	return MethodMatcher{verb: verb}
}

// Matches reports whether the matcher accepts method.
func (m MethodMatcher) Matches(method string) bool {
	return m.any || strings.EqualFold(m.verb, method)
}

func (m MethodMatcher) String() string {
	if m.any {
		return ".*"
	}
	return strings.ToUpper(m.verb)
}

// RuleSpec declares one resolver rule before compilation.
// Literal paths are quoted; pattern paths may capture the target id in group TargetIDGroup.
type RuleSpec struct {
	Method        MethodMatcher
	Path          string
	Literal       bool
	Action        string
	TargetType    string
	TargetIDGroup int
}

// Resolution is the semantic description of a request.
type Resolution struct {
	Action     string
	TargetType string
	TargetID   string
}

type rule struct {
	method        MethodMatcher
	path          *regexp.Regexp
	action        string
	targetType    string
	targetIDGroup int
}

// Resolver maps (method, path) to an action using an ordered, immutable rule table.
// It is safe for concurrent use.
type Resolver struct {
	rules []rule
}

// NewResolver compiles specs in order. Invalid patterns are reported here so
// that resolution itself cannot fail.
func NewResolver(specs []RuleSpec) (*Resolver, error) {
	rules := make([]rule, 0, len(specs))
	for i, s := range specs {
		expr := s.Path
		if s.Literal {
			expr = regexp.QuoteMeta(expr)
		}
		re, err := regexp.Compile("^(?:" + expr + ")$")
		if err != nil {
			return nil, fmt.Errorf("resolver rule %d (%s %s): %w", i, s.Method, s.Path, err)
		}
		if s.Action == "" {
			return nil, fmt.Errorf("resolver rule %d (%s %s): empty action", i, s.Method, s.Path)
		}
		rules = append(rules, rule{
			method:        s.Method,
			path:          re,
			action:        s.Action,
			targetType:    s.TargetType,
			targetIDGroup: s.TargetIDGroup,
		})
	}
	return &Resolver{rules: rules}, nil
}

// MustNewResolver is like NewResolver but panics on an invalid table.
func MustNewResolver(specs []RuleSpec) *Resolver {
	r, err := NewResolver(specs)
	if err != nil {
		panic(err)
	}
	return r
}

// Match returns the first rule matching method and path.
// ok is false when no rule matched.
func (r *Resolver) Match(method, path string) (res Resolution, ok bool) {
	for _, rl := range r.rules {
		if !rl.method.Matches(method) {
			continue
		}
		idx := rl.path.FindStringSubmatchIndex(path)
		if idx == nil {
			continue
		}
		res = Resolution{Action: rl.action, TargetType: rl.targetType}
		g := rl.targetIDGroup
		if g > 0 && g <= rl.path.NumSubexp() && idx[2*g] >= 0 {
			res.TargetID = path[idx[2*g]:idx[2*g+1]]
		}
		return res, true
	}
	return Resolution{}, false
}

// Resolve is total: unmatched requests get the fallback token http:<method>:<path>.
func (r *Resolver) Resolve(method, path string) Resolution {
	if res, ok := r.Match(method, path); ok {
		return res
	}
	return Resolution{Action: FallbackAction(method, path)}
}

// FallbackAction builds the action token for requests no rule matches.
func FallbackAction(method, path string) string {
	return "http:" + strings.ToLower(method) + ":" + path
}
