package factory

import (
	"path"
	"regexp"
	"strings"

	"oneiric/internal/api"
	"oneiric/pkg/logging"
)

// Allowlist gates which factory references the lifecycle manager may
// instantiate. Patterns are compiled once at startup; each pattern is
// honored both as a glob (path.Match) and, when it compiles, as an
// anchored regular expression. A reference passes when any pattern
// matches. An empty allowlist permits everything.
type Allowlist struct {
	patterns []string
	globs    []string
	regexps  []*regexp.Regexp
}

// NewAllowlist compiles the given patterns. Patterns that fail to compile
// as regular expressions are kept as globs only, with a warning.
func NewAllowlist(patterns []string) *Allowlist {
	al := &Allowlist{patterns: patterns}
	for _, p := range patterns {
		al.globs = append(al.globs, p)
		re, err := regexp.Compile(anchor(p))
		if err != nil {
			logging.Warn("FactoryAllowlist", "Pattern %q is not a valid regular expression, matching as glob only", p)
			continue
		}
		al.regexps = append(al.regexps, re)
	}
	return al
}

// Check returns nil when the factory reference is permitted, or a
// FactoryForbiddenError otherwise.
func (a *Allowlist) Check(factoryRef string) error {
	if len(a.patterns) == 0 {
		return nil
	}
	for _, g := range a.globs {
		if ok, err := path.Match(g, factoryRef); err == nil && ok {
			return nil
		}
	}
	for _, re := range a.regexps {
		if re.MatchString(factoryRef) {
			return nil
		}
	}
	return &api.FactoryForbiddenError{Factory: factoryRef, Patterns: a.patterns}
}

// Patterns returns the configured pattern list.
func (a *Allowlist) Patterns() []string {
	return a.patterns
}

func anchor(p string) string {
	if !strings.HasPrefix(p, "^") {
		p = "^" + p
	}
	if !strings.HasSuffix(p, "$") {
		p = p + "$"
	}
	return p
}
