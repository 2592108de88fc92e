// Package notify provides an in-process bus announcing partitioning and
// placement changes to interested components.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the kind of change.
type EventType int

const (
	TableCreated EventType = iota
	TableDropped
	PartitioningAdded
	PartitioningRemoved
	PlacementAdded
	PlacementDropped
	TieringChanged
)

func (t EventType) String() string {
	switch t {
	case TableCreated:
		return "table_created"
	case TableDropped:
		return "table_dropped"
	case PartitioningAdded:
		return "partitioning_added"
	case PartitioningRemoved:
		return "partitioning_removed"
	case PlacementAdded:
		return "placement_added"
	case PlacementDropped:
		return "placement_dropped"
	case TieringChanged:
		return "tiering_changed"
	default:
		return "unknown"
	}
}

// Event describes one committed metadata change.
type Event struct {
	Type      EventType
	TableID   int64
	AdapterID int64 // zero unless the change concerns a placement
	// PartitionIDs lists the partitions that were added or removed
	PartitionIDs []int64
	Timestamp    int64
}

// Notifier is a pub/sub bus. Publishing never blocks: events for a
// subscriber whose buffer is full are dropped.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	bufferSize  int
}

// Subscriber receives events on Ch until it unsubscribes.
type Subscriber struct {
	ID string
	// Tables restricts delivery to these table ids; empty receives all
	Tables []int64
	Ch     chan Event
}

// NewNotifier creates a notifier whose subscriber channels hold bufferSize events.
func NewNotifier(bufferSize int) *Notifier {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Notifier{
		subscribers: make(map[string]*Subscriber),
		bufferSize:  bufferSize,
	}
}

// Publish sends an event to all matching subscribers.
func (n *Notifier) Publish(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixNano()
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, sub := range n.subscribers {
		if !sub.matches(ev.TableID) {
			continue
		}
		select {
		case sub.Ch <- ev:
		default:
		}
	}
}

// Subscribe registers a subscriber under the given id, replacing any
// previous subscriber with that id.
func (n *Notifier) Subscribe(id string, tables []int64) *Subscriber {
	sub := &Subscriber{
		ID:     id,
		Tables: tables,
		Ch:     make(chan Event, n.bufferSize),
	}
	n.mu.Lock()
	if old, ok := n.subscribers[id]; ok {
		close(old.Ch)
	}
	n.subscribers[id] = sub
	n.mu.Unlock()
	return sub
}

// SubscribeAutoID registers a subscriber under a generated id.
func (n *Notifier) SubscribeAutoID(tables ...int64) *Subscriber {
	return n.Subscribe("sub_"+uuid.NewString(), tables)
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if sub, ok := n.subscribers[id]; ok {
		delete(n.subscribers, id)
		close(sub.Ch)
	}
}

// SubscriberCount returns the number of active subscribers.
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscribers)
}

func (s *Subscriber) matches(tableID int64) bool {
	if len(s.Tables) == 0 {
		return true
	}
	for _, id := range s.Tables {
		if id == tableID {
			return true
		}
	}
	return false
}
