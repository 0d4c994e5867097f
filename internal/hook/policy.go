package hook

import (
	"context"
	"strings"
)

// VerifiedDomainSource reports the currently verified custom domains,
// typically backed by the domain store.
type VerifiedDomainSource interface {
	VerifiedDomains(ctx context.Context) ([]string, error)
}

// UnionPolicy is the DomainPolicy used in production: the allow-set is
// the statically configured domains plus whatever the source reports as
// verified at call time.
type UnionPolicy struct {
	static []string
	source VerifiedDomainSource
}

// NewUnionPolicy builds a policy over static config domains and an
// optional verified-domain source. Static names are lowercased once.
func NewUnionPolicy(static []string, source VerifiedDomainSource) *UnionPolicy {
	normalized := make([]string, 0, len(static))
	for _, d := range static {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			normalized = append(normalized, d)
		}
	}
	return &UnionPolicy{static: normalized, source: source}
}

// AllowedDomains returns the current allow-set. The source is consulted
// on every call so newly verified domains take effect without restart.
func (p *UnionPolicy) AllowedDomains(ctx context.Context) ([]string, error) {
	domains := make([]string, len(p.static))
	copy(domains, p.static)

	if p.source == nil {
		return domains, nil
	}

	verified, err := p.source.VerifiedDomains(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(domains))
	for _, d := range domains {
		seen[d] = true
	}
	for _, d := range verified {
		d = strings.ToLower(d)
		if !seen[d] {
			domains = append(domains, d)
			seen[d] = true
		}
	}
	return domains, nil
}
