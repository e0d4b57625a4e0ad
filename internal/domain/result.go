package domain

import "fmt"

// Status classifies a provider fetch outcome.
type Status int

const (
	// StatusSuccess means the artifact was fetched (or served from cache).
	StatusSuccess Status = iota
	// StatusNoData means the region is legitimately empty for this source.
	StatusNoData
	// StatusFailure means the fetch failed after exhausting its options.
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "ok"
	case StatusNoData:
		return "noData"
	case StatusFailure:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// FetchResult is the tagged outcome of one provider fetch. Exactly one of
// Artifact (on success) or Err (on failure) is populated; NoData carries
// neither. Errors never cross the adapter boundary any other way.
type FetchResult struct {
	Provider string
	Status   Status
	Artifact string
	Err      error
}

// Succeed builds a success result pointing at a cached artifact.
func Succeed(provider, artifact string) FetchResult {
	return FetchResult{Provider: provider, Status: StatusSuccess, Artifact: artifact}
}

// NoData builds a legitimate-absence result.
func NoData(provider string) FetchResult {
	return FetchResult{Provider: provider, Status: StatusNoData}
}

// Fail wraps an error as a failure result.
func Fail(provider string, err error) FetchResult {
	return FetchResult{Provider: provider, Status: StatusFailure, Err: err}
}

// OK reports whether the fetch produced an artifact.
func (r FetchResult) OK() bool { return r.Status == StatusSuccess }

// Reason returns the failure text, or "" for non-failures.
func (r FetchResult) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func (r FetchResult) String() string {
	switch r.Status {
	case StatusSuccess:
		return fmt.Sprintf("%s: ok (%s)", r.Provider, r.Artifact)
	case StatusNoData:
		return fmt.Sprintf("%s: noData", r.Provider)
	default:
		return fmt.Sprintf("%s: error: %v", r.Provider, r.Err)
	}
}
