package triage

// ring is a bounded buffer of log lines, oldest evicted first.
type ring struct {
	entries []Line
	next    int
	full    bool
}

func newRing(capacity int) *ring {
	return &ring{entries: make([]Line, capacity)}
}

func (r *ring) append(l Line) {
	r.entries[r.next] = l
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
}

// snapshot returns the retained lines, oldest first.
func (r *ring) snapshot() []Line {
	if !r.full {
		return append([]Line(nil), r.entries[:r.next]...)
	}

	res := make([]Line, 0, len(r.entries))
	res = append(res, r.entries[r.next:]...)
	res = append(res, r.entries[:r.next]...)
	return res
}
