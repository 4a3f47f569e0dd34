package pull

import "strings"

// Progress milestones for status text that carries no byte counts. Byte-level
// aggregation supersedes the baseline once per-artifact totals arrive, and
// caps below the verify/write milestones to leave them headroom.
const (
	milestoneManifest = 8
	milestoneBaseline = 10
	milestoneVerify   = 97
	milestoneWrite    = 98
	byteFloor         = 5
	byteSpan          = 92
	byteCap           = 96
)

// Session aggregates per-artifact byte progress for one pull attempt into a
// single monotonic 0-100 value. Underlying transports report per artifact;
// callers only ever see the combined, never-decreasing percentage.
type Session struct {
	totals    map[string]int64
	completed map[string]int64
	last      float64
	done      bool
}

// NewSession returns an empty progress session.
func NewSession() *Session {
	return &Session{totals: map[string]int64{}, completed: map[string]int64{}}
}

// Observe folds one stream event into the session and returns the progress
// value to report along with whether the event was terminal ("success").
func (s *Session) Observe(ev Event) (progress float64, success bool) {
	status := strings.ToLower(ev.Status)
	switch {
	case status == "success":
		s.done = true
		s.last = 100
		return 100, true
	case strings.Contains(status, "writing manifest"):
		return s.bump(milestoneWrite), false
	case strings.Contains(status, "verifying"):
		return s.bump(milestoneVerify), false
	}

	if ev.Digest != "" && ev.Total > 0 {
		s.totals[ev.Digest] = ev.Total
		if ev.Completed > s.completed[ev.Digest] {
			s.completed[ev.Digest] = ev.Completed
		}
		return s.bump(s.byteFraction()), false
	}

	switch {
	case strings.Contains(status, "pulling manifest") || strings.Contains(status, "resolving"):
		return s.bump(milestoneManifest), false
	case strings.Contains(status, "pulling") || strings.Contains(status, "downloading"):
		return s.bump(milestoneBaseline), false
	}
	return s.last, false
}

// ObservePercent folds an externally parsed percentage (CLI transport) into
// the same monotonic scale.
func (s *Session) ObservePercent(p float64) float64 {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return s.bump(p)
}

// Current returns the last reported progress value.
func (s *Session) Current() float64 { return s.last }

// Finished reports whether a terminal success event was observed.
func (s *Session) Finished() bool { return s.done }

func (s *Session) byteFraction() float64 {
	var total, completed int64
	for d, t := range s.totals {
		total += t
		completed += s.completed[d]
	}
	if total <= 0 {
		return milestoneBaseline
	}
	p := byteFloor + float64(completed)/float64(total)*byteSpan
	if p > byteCap {
		p = byteCap
	}
	return p
}

// bump enforces monotonic non-decreasing reporting.
func (s *Session) bump(p float64) float64 {
	if p > s.last {
		s.last = p
	}
	return s.last
}
