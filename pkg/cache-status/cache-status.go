// Package cachestatus builds RFC 9211 Cache-Status header values.
package cachestatus

import (
	"fmt"
	"strings"
)

// HeaderName is the response header carrying the value.
const HeaderName = "Cache-Status"

type Status string

const (
	StatusHit = "hit"
	StatusFwd = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"

	// The cache was able to select a response for the request, but
	// it was stale.
	FwdReasonStale FwdReason = "stale"
)

// CacheStatus is a single Cache-Status list member.
type CacheStatus struct {
	// Cache is the identifier of the cache producing the member.
	Cache     string
	Status    Status
	FwdReason FwdReason
	// Stored tells whether the forwarded response was stored.
	Stored bool
	// TimeToLive is the remaining freshness lifetime in seconds.
	// It is negative for stale responses.
	TimeToLive int
	hasTTL     bool
	Key        string
	Detail     string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs *CacheStatus) TTL(seconds int) {
	cs.TimeToLive = seconds
	cs.hasTTL = true
}

func (cs *CacheStatus) String() string {
	cache := cs.Cache
	if cache == "" {
		cache = "Render-Cache"
	}
	parts := []string{cache}
	if cs.Status == StatusHit {
		parts = append(parts, StatusHit)
	} else if cs.FwdReason != "" {
		parts = append(parts, fmt.Sprintf("%s=%s", StatusFwd, cs.FwdReason))
	}
	if cs.Stored {
		parts = append(parts, "stored")
	}
	if cs.hasTTL {
		parts = append(parts, fmt.Sprintf("ttl=%d", cs.TimeToLive))
	}
	if cs.Key != "" {
		parts = append(parts, fmt.Sprintf("key=%q", cs.Key))
	}
	if cs.Detail != "" {
		parts = append(parts, "detail="+cs.Detail)
	}
	return strings.Join(parts, "; ")
}
