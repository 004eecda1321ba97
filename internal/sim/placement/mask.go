package placement

import "cades.ai/internal/sim/problem"

// Mask returns the legality mask for the head of the pending queue. It is all-false
// when the queue is empty or the state is terminal.
func (s *State) Mask() []bool {
	it, ok := s.Current()
	if !ok || s.Terminal {
		return make([]bool, len(s.Bins))
	}
	return s.MaskFor(it)
}

// MaskFor marks bin b legal iff it has room for the item and, for a critical replica,
// no other replica of the same group sits on b.
func (s *State) MaskFor(it problem.Item) []bool {
	mask := make([]bool, len(s.Bins))
	used := s.PlacedGroups[it.GroupID]
	for b := range s.Bins {
		if s.Bins[b].Remaining < it.Size {
			continue
		}
		if it.Critical && containsInt(used, b) {
			continue
		}
		mask[b] = true
	}
	return mask
}

// Legal reports whether bin is a legal target for the current task.
func (s *State) Legal(bin int) bool {
	if bin < 0 || bin >= len(s.Bins) {
		return false
	}
	return s.Mask()[bin]
}

// AnyLegal reports whether the mask has at least one legal bin.
func AnyLegal(mask []bool) bool {
	for _, ok := range mask {
		if ok {
			return true
		}
	}
	return false
}

// LegalBins lists the indices set in mask.
func LegalBins(mask []bool) []int {
	var out []int
	for b, ok := range mask {
		if ok {
			out = append(out, b)
		}
	}
	return out
}
