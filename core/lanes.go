package core

import "fmt"

// Lane selects which of a Scheduler's two FIFOs a submission joins.
type Lane int

const (
	// LaneNormal is the default lane.
	LaneNormal Lane = iota
	// LanePriority wins the next slot whenever it is non-empty. It never
	// interrupts an action that is already running.
	LanePriority
)

func (l Lane) String() string {
	switch l {
	case LaneNormal:
		return "normal"
	case LanePriority:
		return "priority"
	default:
		return fmt.Sprintf("lane(%d)", int(l))
	}
}

func (l Lane) valid() bool {
	return l == LaneNormal || l == LanePriority
}

// traits maps a lane to the traits its loop start is posted with
func (l Lane) traits() TaskTraits {
	if l == LanePriority {
		return TraitsUserBlocking()
	}
	return DefaultTaskTraits()
}

// Lanes is the dual queue: two independent unbounded FIFOs. TryPop always
// prefers the priority lane.
type Lanes[T any] struct {
	normal   *FIFOQueue[T]
	priority *FIFOQueue[T]
}

func NewLanes[T any]() *Lanes[T] {
	return &Lanes[T]{
		normal:   NewFIFOQueue[T](),
		priority: NewFIFOQueue[T](),
	}
}

func (l *Lanes[T]) lane(lane Lane) *FIFOQueue[T] {
	if lane == LanePriority {
		return l.priority
	}
	return l.normal
}

func (l *Lanes[T]) Push(lane Lane, item T) {
	l.lane(lane).Push(item)
}

// TryPop pops the priority lane, falling back to the normal lane. ok is false
// only if both lanes were observed empty.
func (l *Lanes[T]) TryPop() (item T, lane Lane, ok bool) {
	if item, ok = l.priority.TryPop(); ok {
		return item, LanePriority, true
	}
	if item, ok = l.normal.TryPop(); ok {
		return item, LaneNormal, true
	}
	return item, LaneNormal, false
}

func (l *Lanes[T]) Len(lane Lane) int {
	return l.lane(lane).Len()
}

func (l *Lanes[T]) IsEmpty() bool {
	return l.priority.IsEmpty() && l.normal.IsEmpty()
}
