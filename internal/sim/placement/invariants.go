package placement

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
)

// CheckInvariants verifies the bookkeeping rules that must hold at every point of an
// episode. It returns the first violation found.
func (s *State) CheckInvariants() error {
	placed := make(map[int]int, len(s.Items))
	for _, b := range s.Bins {
		if b.Remaining < 0 {
			return fmt.Errorf("bin %d: remaining capacity %d < 0", b.ID, b.Remaining)
		}
		sum := 0
		for _, id := range b.Assigned {
			if id < 0 || id >= len(s.Items) {
				return fmt.Errorf("bin %d: unknown item %d", b.ID, id)
			}
			sum += s.Items[id].Size
			placed[id]++
		}
		if b.Capacity-sum != b.Remaining {
			return fmt.Errorf("bin %d: capacity %d - assigned %d != remaining %d", b.ID, b.Capacity, sum, b.Remaining)
		}
	}
	for id, n := range placed {
		if n != 1 {
			return fmt.Errorf("item %d placed %d times", id, n)
		}
	}
	for _, id := range s.Pending {
		if _, ok := placed[id]; ok {
			return fmt.Errorf("item %d is both pending and placed", id)
		}
	}
	if len(placed)+len(s.Pending) != len(s.Items) {
		return fmt.Errorf("placed %d + pending %d != items %d", len(placed), len(s.Pending), len(s.Items))
	}
	if s.StepCount != len(placed) {
		return fmt.Errorf("step count %d != placed %d", s.StepCount, len(placed))
	}

	replicas := map[int]int{}
	for id := range placed {
		if it := s.Items[id]; it.Critical {
			replicas[it.GroupID]++
		}
	}
	for g, bins := range s.PlacedGroups {
		seen := map[int]struct{}{}
		for _, b := range bins {
			if _, dup := seen[b]; dup {
				return fmt.Errorf("group %d: two replicas on bin %d", g, b)
			}
			seen[b] = struct{}{}
		}
		if len(bins) != replicas[g] {
			return fmt.Errorf("group %d: %d bins for %d placed replicas", g, len(bins), replicas[g])
		}
		if s.Copies > 0 && len(bins) > s.Copies {
			return fmt.Errorf("group %d: %d bins exceeds %d copies", g, len(bins), s.Copies)
		}
	}
	if s.Cause == CauseSuccess {
		for g, n := range replicas {
			if n != s.Copies {
				return fmt.Errorf("group %d: %d replicas placed at success, want %d", g, n, s.Copies)
			}
		}
	}
	return nil
}

// Digest is a sha256 over everything that evolves during an episode.
func (s *State) Digest() string {
	h := sha256.New()
	var tmp [8]byte
	w := func(v int64) {
		binary.LittleEndian.PutUint64(tmp[:], uint64(v))
		h.Write(tmp[:])
	}

	w(int64(len(s.Bins)))
	for _, b := range s.Bins {
		w(int64(b.Capacity))
		w(int64(b.Remaining))
		w(int64(len(b.Assigned)))
		for _, id := range b.Assigned {
			w(int64(id))
		}
	}
	w(int64(len(s.Pending)))
	for _, id := range s.Pending {
		w(int64(id))
	}
	groups := make([]int, 0, len(s.PlacedGroups))
	for g := range s.PlacedGroups {
		groups = append(groups, g)
	}
	sort.Ints(groups)
	for _, g := range groups {
		w(int64(g))
		for _, b := range s.PlacedGroups[g] {
			w(int64(b))
		}
	}
	w(int64(s.StepCount))
	if s.Terminal {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write([]byte(s.Cause))
	return hex.EncodeToString(h.Sum(nil))
}
