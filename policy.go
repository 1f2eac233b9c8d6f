package rendercache

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Mode selects how a resolution uses the cache.
type Mode int

const (
	// ModeNoStore fetches on every resolution. Successful results still update the entry.
	ModeNoStore Mode = iota
	// ModeForceCache fetches once and reuses the value forever.
	ModeForceCache
	// ModeRevalidate reuses the value until it is TTL old,
	// then serves it stale while refreshing in the background.
	ModeRevalidate
)

func (m Mode) String() string {
	switch m {
	case ModeNoStore:
		return "no-store"
	case ModeForceCache:
		return "force-cache"
	case ModeRevalidate:
		return "revalidate"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Policy describes how a single resolution treats the cache.
// It is chosen per call and never stored with the entry.
// The zero value is a no-store policy.
type Policy struct {
	Mode Mode
	// TTL is the revalidation interval of ModeRevalidate.
	TTL time.Duration
	// StaticOnly refuses keys that were not prewarmed instead of fetching them on demand.
	StaticOnly bool
}

func NoStore() Policy {
	return Policy{Mode: ModeNoStore}
}

func ForceCache() Policy {
	return Policy{Mode: ModeForceCache}
}

func Revalidate(ttl time.Duration) Policy {
	return Policy{Mode: ModeRevalidate, TTL: ttl}
}

// Static returns a copy of the policy that only serves prewarmed keys.
func (p Policy) Static() Policy {
	p.StaticOnly = true
	return p
}

// Validate checks the mode and TTL of the policy.
func (p Policy) Validate() error {
	switch p.Mode {
	case ModeNoStore, ModeForceCache:
		return nil
	case ModeRevalidate:
		if p.TTL < 0 {
			return fmt.Errorf("%w: negative ttl %s", ErrInvalidPolicy, p.TTL)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidPolicy, p.Mode)
}

// String returns the textual form accepted by ParsePolicy.
func (p Policy) String() string {
	s := p.Mode.String()
	if p.Mode == ModeRevalidate {
		s = fmt.Sprintf("%s=%d", s, int64(p.TTL/time.Second))
	}
	if p.StaticOnly {
		s += ", static"
	}
	return s
}

// ParsePolicy parses the textual form of a policy.
// Directives are separated by commas, e.g. "revalidate=60, static".
// Exactly one of no-store, force-cache or revalidate=<seconds> must be given.
func ParsePolicy(s string) (Policy, error) {
	var (
		p       Policy
		hasMode bool
	)
	for _, directive := range strings.Split(s, ",") {
		directive = strings.ToLower(strings.TrimSpace(directive))
		if directive == "" {
			continue
		}
		name, val, hasVal := strings.Cut(directive, "=")
		if name == "static" && !hasVal {
			p.StaticOnly = true
			continue
		}
		if hasMode {
			return Policy{}, fmt.Errorf("%w: more than one mode in %q", ErrInvalidPolicy, s)
		}
		hasMode = true
		switch {
		case name == "no-store" && !hasVal:
			p.Mode = ModeNoStore
		case name == "force-cache" && !hasVal:
			p.Mode = ModeForceCache
		case name == "revalidate" && hasVal:
			seconds, err := strconv.ParseInt(val, 10, 64)
			if err != nil || seconds < 0 {
				return Policy{}, fmt.Errorf("%w: bad revalidate seconds %q", ErrInvalidPolicy, val)
			}
			p.Mode = ModeRevalidate
			p.TTL = time.Duration(seconds) * time.Second
		default:
			return Policy{}, fmt.Errorf("%w: unknown directive %q", ErrInvalidPolicy, directive)
		}
	}
	if !hasMode {
		return Policy{}, fmt.Errorf("%w: no mode in %q", ErrInvalidPolicy, s)
	}
	return p, nil
}
