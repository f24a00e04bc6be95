package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExhausted means the period quota is used up. Callers should abort the
	// current run; retrying before the period rolls over cannot succeed.
	ErrQuotaExhausted = errors.New("catalog quota exhausted")
	// ErrRateLimited means the API answered 429. The period quota is pinned as a result.
	ErrRateLimited = errors.New("catalog rate limit exceeded")
	ErrEmptyEntity = errors.New("catalog entity name is empty")
)

// UpstreamError is a non-2xx, non-429 answer from the catalog API.
type UpstreamError struct {
	Endpoint string
	Status   int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("catalog %s: unexpected status %d", e.Endpoint, e.Status)
}

// Kind classifies a FetchEvents result so callers can pick abort or continue explicitly.
type Kind int

const (
	KindOK Kind = iota
	KindQuotaExhausted
	KindRateLimited
	KindUpstream
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstream:
		return "upstream_error"
	default:
		return "error"
	}
}

func Classify(err error) Kind {
	var up *UpstreamError
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrQuotaExhausted):
		return KindQuotaExhausted
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.As(err, &up):
		return KindUpstream
	default:
		return KindOther
	}
}
