package battle

import "testing"

func TestSchedulerDrainOrder(t *testing.T) {
	s := NewScheduler()
	s.Enqueue(PendingAttack{AttackerID: 1, ResolveTurn: 3})
	s.Enqueue(PendingAttack{AttackerID: 2, ResolveTurn: 2})
	s.Enqueue(PendingAttack{AttackerID: 3, ResolveTurn: 3})
	s.Enqueue(PendingAttack{AttackerID: 4, ResolveTurn: 5})

	if s.Len() != 4 {
		t.Fatalf("expected 4 pending, got %d", s.Len())
	}
	if s.Earliest() != 2 {
		t.Errorf("expected earliest 2, got %d", s.Earliest())
	}
	if got := s.DrainDue(1); len(got) != 0 {
		t.Errorf("nothing is due at 1, got %+v", got)
	}

	due := s.DrainDue(3)
	if len(due) != 2 || due[0].AttackerID != 1 || due[1].AttackerID != 3 {
		t.Fatalf("expected attackers 1,3 in enqueue order, got %+v", due)
	}
	if again := s.DrainDue(3); len(again) != 0 {
		t.Errorf("entries returned twice: %+v", again)
	}

	pending := s.Pending()
	if len(pending) != 2 || pending[0].AttackerID != 2 || pending[1].AttackerID != 4 {
		t.Errorf("unexpected pending %+v", pending)
	}

	s.DrainDue(2)
	s.DrainDue(5)
	if s.Len() != 0 || len(s.Pending()) != 0 || s.Earliest() != -1 {
		t.Errorf("scheduler should be empty, len=%d", s.Len())
	}

	// arena reuse after it emptied
	s.Enqueue(PendingAttack{AttackerID: 9, ResolveTurn: 7})
	if due := s.DrainDue(7); len(due) != 1 || due[0].AttackerID != 9 {
		t.Errorf("unexpected drain after reuse %+v", due)
	}
}

func TestSchedulerClone(t *testing.T) {
	s := NewScheduler()
	s.Enqueue(PendingAttack{AttackerID: 1, ResolveTurn: 2})
	c := s.Clone()
	c.Enqueue(PendingAttack{AttackerID: 2, ResolveTurn: 2})

	if due := s.DrainDue(2); len(due) != 1 {
		t.Errorf("original should only see its own entry, got %+v", due)
	}
	if due := c.DrainDue(2); len(due) != 2 {
		t.Errorf("clone should see both entries, got %+v", due)
	}
}

func TestSchedulerNeverDropsEntries(t *testing.T) {
	s := NewScheduler()
	total := 0
	for turn := 0; turn < 50; turn++ {
		for k := 0; k < turn%4; k++ {
			s.Enqueue(PendingAttack{AttackerID: turn*10 + k, ResolveTurn: turn + 1 + k})
			total++
		}
	}
	seen := make(map[int]bool)
	for turn := 0; turn < 60; turn++ {
		for _, p := range s.DrainDue(turn) {
			if p.ResolveTurn != turn {
				t.Fatalf("entry %d due %d drained at %d", p.AttackerID, p.ResolveTurn, turn)
			}
			if seen[p.AttackerID] {
				t.Fatalf("entry %d drained twice", p.AttackerID)
			}
			seen[p.AttackerID] = true
		}
	}
	if len(seen) != total || s.Len() != 0 {
		t.Errorf("expected %d drained, got %d (left %d)", total, len(seen), s.Len())
	}
}
