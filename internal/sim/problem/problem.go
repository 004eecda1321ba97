package problem

import (
	"fmt"
	"sort"
)

// NoGroup marks an item that is not a replica of a critical item.
const NoGroup = -1

// Item is one placement task. Critical items appear once per replica.
type Item struct {
	ID        int  `json:"id"`
	Size      int  `json:"size"`
	Critical  bool `json:"is_critical"`
	GroupID   int  `json:"group_id"`
	CopyIndex int  `json:"copy_index"`
	// Origin is the logical item this task was expanded from.
	Origin int `json:"origin"`
}

// Link says two logical items exchange messages. Always stored with Link[0] < Link[1].
type Link [2]int

// Instance is a self-contained placement problem.
type Instance struct {
	Seed          int64  `json:"seed"`
	NumItems      int    `json:"num_items"`
	Copies        int    `json:"number_of_copies"`
	Items         []Item `json:"items"`
	BinCapacities []int  `json:"bin_capacities"`
	Links         []Link `json:"links,omitempty"`
}

func (in *Instance) TotalBins() int { return len(in.BinCapacities) }

// Groups returns the number of distinct critical groups.
func (in *Instance) Groups() int {
	seen := map[int]struct{}{}
	for _, it := range in.Items {
		if it.Critical {
			seen[it.GroupID] = struct{}{}
		}
	}
	return len(seen)
}

func (in *Instance) Clone() *Instance {
	if in == nil {
		return nil
	}
	out := *in
	out.Items = append([]Item(nil), in.Items...)
	out.BinCapacities = append([]int(nil), in.BinCapacities...)
	out.Links = append([]Link(nil), in.Links...)
	return &out
}

// Validate checks the structural rules every instance must satisfy, whether it was
// generated or supplied explicitly.
func (in *Instance) Validate() error {
	if in == nil {
		return fmt.Errorf("nil instance")
	}
	if len(in.BinCapacities) == 0 {
		return fmt.Errorf("instance has no bins")
	}
	for b, c := range in.BinCapacities {
		if c < 0 {
			return fmt.Errorf("bin %d: negative capacity %d", b, c)
		}
	}
	groupCopies := map[int]map[int]struct{}{}
	groupOrigin := map[int]int{}
	for i, it := range in.Items {
		if it.ID != i {
			return fmt.Errorf("item %d: id %d out of sequence", i, it.ID)
		}
		if it.Size <= 0 {
			return fmt.Errorf("item %d: size must be positive (got %d)", i, it.Size)
		}
		if it.Origin < 0 || it.Origin >= in.NumItems {
			return fmt.Errorf("item %d: origin %d out of range [0,%d)", i, it.Origin, in.NumItems)
		}
		if !it.Critical {
			if it.GroupID != NoGroup {
				return fmt.Errorf("item %d: non-critical item carries group %d", i, it.GroupID)
			}
			continue
		}
		if it.GroupID < 0 {
			return fmt.Errorf("item %d: critical item without group", i)
		}
		if it.CopyIndex < 0 || it.CopyIndex >= in.Copies {
			return fmt.Errorf("item %d: copy index %d out of range [0,%d)", i, it.CopyIndex, in.Copies)
		}
		if o, ok := groupOrigin[it.GroupID]; ok && o != it.Origin {
			return fmt.Errorf("item %d: group %d spans origins %d and %d", i, it.GroupID, o, it.Origin)
		}
		groupOrigin[it.GroupID] = it.Origin
		cs := groupCopies[it.GroupID]
		if cs == nil {
			cs = map[int]struct{}{}
			groupCopies[it.GroupID] = cs
		}
		if _, dup := cs[it.CopyIndex]; dup {
			return fmt.Errorf("item %d: duplicate copy %d of group %d", i, it.CopyIndex, it.GroupID)
		}
		cs[it.CopyIndex] = struct{}{}
	}
	for g, cs := range groupCopies {
		if len(cs) != in.Copies {
			return fmt.Errorf("group %d has %d replicas, want %d", g, len(cs), in.Copies)
		}
	}
	for i, l := range in.Links {
		if l[0] >= l[1] || l[0] < 0 || l[1] >= in.NumItems {
			return fmt.Errorf("link %d: bad endpoints %v", i, l)
		}
	}
	return nil
}

// ScenarioSpec describes an explicit instance in logical terms.
type ScenarioSpec struct {
	ItemSizes     []int  `json:"item_sizes"`
	Critical      []int  `json:"critical,omitempty"`
	Copies        int    `json:"number_of_copies,omitempty"`
	BinCapacities []int  `json:"bin_capacities"`
	Links         []Link `json:"links,omitempty"`
}

// FromSpec expands a scenario into an Instance. Critical items are expanded in place,
// in the order their logical items appear in ItemSizes.
func FromSpec(s ScenarioSpec) (*Instance, error) {
	n := len(s.ItemSizes)
	critical := map[int]bool{}
	for _, idx := range s.Critical {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("critical index %d out of range [0,%d)", idx, n)
		}
		if critical[idx] {
			return nil, fmt.Errorf("critical index %d listed twice", idx)
		}
		critical[idx] = true
	}
	copies := s.Copies
	if copies <= 0 {
		copies = 1
	}

	in := &Instance{
		NumItems:      n,
		Copies:        copies,
		BinCapacities: append([]int(nil), s.BinCapacities...),
		Items:         expand(s.ItemSizes, critical, copies),
		Links:         normalizeLinks(s.Links),
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return in, nil
}

func expand(sizes []int, critical map[int]bool, copies int) []Item {
	items := make([]Item, 0, len(sizes)+len(critical)*(copies-1))
	group := 0
	for origin, size := range sizes {
		if !critical[origin] {
			items = append(items, Item{ID: len(items), Size: size, GroupID: NoGroup, Origin: origin})
			continue
		}
		for k := 0; k < copies; k++ {
			items = append(items, Item{
				ID:        len(items),
				Size:      size,
				Critical:  true,
				GroupID:   group,
				CopyIndex: k,
				Origin:    origin,
			})
		}
		group++
	}
	return items
}

func normalizeLinks(in []Link) []Link {
	if len(in) == 0 {
		return nil
	}
	seen := map[Link]struct{}{}
	out := make([]Link, 0, len(in))
	for _, l := range in {
		if l[0] > l[1] {
			l[0], l[1] = l[1], l[0]
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}
