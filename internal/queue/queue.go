package queue

import (
	"slices"
	"sort"
)

// Unlimited is the limit value meaning "no cap on active tasks".
const Unlimited = -1

// Tier selects how a waiting key is ordered.
type Tier int

const (
	// Priority holds keys the caller asked for explicitly. They are
	// admitted first, in arrival order.
	Priority Tier = iota

	// Incidental holds keys that became eligible on their own, such as
	// tasks resumed after a restart. They are admitted by rank, then by
	// arrival.
	Incidental
)

// Normalize applies the cap coercion rule: any n <= 0 means Unlimited.
func Normalize(n int) int {
	if n <= 0 {
		return Unlimited
	}
	return n
}

type incidentalItem struct {
	key  string
	rank int64
	seq  uint64
}

// Queue tracks the active set and the waiting keys of the manager.
//
// Queue is not safe for concurrent use; the manager guards it with its
// store lock so that admission decisions and state transitions never
// interleave.
type Queue struct {
	limit      int
	active     map[string]struct{}
	priority   []string
	incidental []incidentalItem
	waiting    map[string]Tier
	seq        uint64
}

// New creates a queue with the given limit, normalized.
func New(limit int) *Queue {
	return &Queue{
		limit:   Normalize(limit),
		active:  make(map[string]struct{}),
		waiting: make(map[string]Tier),
	}
}

// Limit returns the effective cap, Unlimited or a positive number.
func (q *Queue) Limit() int {
	return q.limit
}

// SetLimit sets the cap and reports whether the effective value changed.
// Lowering the cap never evicts active keys; it only blocks admissions
// until enough of them leave.
func (q *Queue) SetLimit(n int) bool {
	n = Normalize(n)
	if n == q.limit {
		return false
	}
	q.limit = n
	return true
}

// Push adds key to the waiting set. It returns false if the key is already
// waiting or active.
func (q *Queue) Push(key string, tier Tier, rank int64) bool {
	if _, ok := q.active[key]; ok {
		return false
	}
	if _, ok := q.waiting[key]; ok {
		return false
	}
	q.waiting[key] = tier
	if tier == Priority {
		q.priority = append(q.priority, key)
		return true
	}
	q.seq++
	item := incidentalItem{key: key, rank: rank, seq: q.seq}
	i := sort.Search(len(q.incidental), func(i int) bool {
		other := q.incidental[i]
		return other.rank > rank || (other.rank == rank && other.seq > item.seq)
	})
	q.incidental = slices.Insert(q.incidental, i, item)
	return true
}

// Remove takes key out of the waiting set and reports whether it was there.
func (q *Queue) Remove(key string) bool {
	tier, ok := q.waiting[key]
	if !ok {
		return false
	}
	delete(q.waiting, key)
	if tier == Priority {
		q.priority = slices.DeleteFunc(q.priority, func(k string) bool { return k == key })
	} else {
		q.incidental = slices.DeleteFunc(q.incidental, func(it incidentalItem) bool { return it.key == key })
	}
	return true
}

// Waiting reports whether key is waiting for admission.
func (q *Queue) Waiting(key string) bool {
	_, ok := q.waiting[key]
	return ok
}

// IsActive reports whether key holds an active slot.
func (q *Queue) IsActive(key string) bool {
	_, ok := q.active[key]
	return ok
}

// Deactivate releases the slot held by key and reports whether it held one.
func (q *Queue) Deactivate(key string) bool {
	if _, ok := q.active[key]; !ok {
		return false
	}
	delete(q.active, key)
	return true
}

// ActiveCount returns the number of keys holding a slot.
func (q *Queue) ActiveCount() int {
	return len(q.active)
}

// WaitingCount returns the number of keys waiting for admission.
func (q *Queue) WaitingCount() int {
	return len(q.waiting)
}

// Available returns how many keys Next could admit right now, ignoring how
// many are waiting. With no cap it returns -1.
func (q *Queue) Available() int {
	if q.limit == Unlimited {
		return Unlimited
	}
	return max(q.limit-len(q.active), 0)
}

// Next admits as many waiting keys as capacity allows, priority tier
// first, and returns them in admission order. Admitted keys become active.
func (q *Queue) Next() []string {
	var admitted []string
	for q.limit == Unlimited || len(q.active) < q.limit {
		key, ok := q.pop()
		if !ok {
			break
		}
		q.active[key] = struct{}{}
		admitted = append(admitted, key)
	}
	return admitted
}

func (q *Queue) pop() (string, bool) {
	var key string
	switch {
	case len(q.priority) > 0:
		key = q.priority[0]
		q.priority = q.priority[1:]
	case len(q.incidental) > 0:
		key = q.incidental[0].key
		q.incidental = q.incidental[1:]
	default:
		return "", false
	}
	delete(q.waiting, key)
	return key, true
}

// Snapshot is a point-in-time copy of the queue.
type Snapshot struct {
	Limit int
	// Active is sorted for stable output.
	Active []string
	// Waiting is in admission order.
	Waiting []string
}

// Snapshot returns a copy of the queue's state.
func (q *Queue) Snapshot() Snapshot {
	s := Snapshot{Limit: q.limit}
	for key := range q.active {
		s.Active = append(s.Active, key)
	}
	slices.Sort(s.Active)
	s.Waiting = append(s.Waiting, q.priority...)
	for _, it := range q.incidental {
		s.Waiting = append(s.Waiting, it.key)
	}
	return s
}
