package battle

// PendingAttack is a delayed-fire order waiting for its impact turn.
type PendingAttack struct {
	AttackerID  int    `json:"attackerId"`
	Owner       Player `json:"owner"`
	Anchor      Cell   `json:"anchor"`
	Attack      int    `json:"attack"`
	AoE         int    `json:"aoe"`
	ResolveTurn int    `json:"resolveTurn"`
}

// Scheduler stores pending attacks in an arena and indexes them by
// resolution turn, so draining a turn touches only its own bucket.
type Scheduler struct {
	arena   []PendingAttack
	live    []bool
	buckets map[int][]int
	pending int
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{buckets: make(map[int][]int)}
}

// Enqueue records p for its resolution turn.
func (s *Scheduler) Enqueue(p PendingAttack) {
	s.arena = append(s.arena, p)
	s.live = append(s.live, true)
	s.buckets[p.ResolveTurn] = append(s.buckets[p.ResolveTurn], len(s.arena)-1)
	s.pending++
}

// DrainDue removes and returns, in enqueue order, every entry due at turn.
func (s *Scheduler) DrainDue(turn int) []PendingAttack {
	idx, ok := s.buckets[turn]
	if !ok {
		return nil
	}
	delete(s.buckets, turn)
	out := make([]PendingAttack, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.arena[i])
		s.live[i] = false
	}
	s.pending -= len(idx)
	if s.pending == 0 {
		s.arena = s.arena[:0]
		s.live = s.live[:0]
	}
	return out
}

// Len returns the number of entries not yet drained.
func (s *Scheduler) Len() int { return s.pending }

// Pending lists the undrained entries in enqueue order.
func (s *Scheduler) Pending() []PendingAttack {
	out := make([]PendingAttack, 0, s.pending)
	for i, p := range s.arena {
		if s.live[i] {
			out = append(out, p)
		}
	}
	return out
}

// Earliest returns the smallest resolution turn still queued, or -1.
func (s *Scheduler) Earliest() int {
	best := -1
	for t := range s.buckets {
		if best < 0 || t < best {
			best = t
		}
	}
	return best
}

// Clone returns an independent copy.
func (s *Scheduler) Clone() *Scheduler {
	c := &Scheduler{
		arena:   append([]PendingAttack(nil), s.arena...),
		live:    append([]bool(nil), s.live...),
		buckets: make(map[int][]int, len(s.buckets)),
		pending: s.pending,
	}
	for t, idx := range s.buckets {
		c.buckets[t] = append([]int(nil), idx...)
	}
	return c
}
