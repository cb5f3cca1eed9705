package service

import (
	"sync"
	"time"
)

type ChangeKind string

const (
	ChangeResponses ChangeKind = "responses"
	ChangeSessions  ChangeKind = "sessions"
	ChangeTemplates ChangeKind = "templates"
)

type ChangeEvent struct {
	Kind ChangeKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
	At   time.Time  `json:"at"`
}

const changeSubscriberBuffer = 16

// ChangeNotifier fans collection-changed events out to UI listeners. A slow
// listener misses events rather than blocking the publisher; every event
// means "refetch", so a missed one is covered by the next.
type ChangeNotifier struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[int]chan ChangeEvent
}

func NewChangeNotifier() *ChangeNotifier {
	return &ChangeNotifier{subscribers: make(map[int]chan ChangeEvent)}
}

func (n *ChangeNotifier) Subscribe() (<-chan ChangeEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	ch := make(chan ChangeEvent, changeSubscriberBuffer)
	n.subscribers[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subscribers, id)
			n.mu.Unlock()
			close(ch)
		})
	}
}

func (n *ChangeNotifier) Notify(kind ChangeKind, id string) {
	if n == nil {
		return
	}
	ev := ChangeEvent{Kind: kind, ID: id, At: time.Now().UTC()}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (n *ChangeNotifier) SubscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subscribers)
}
