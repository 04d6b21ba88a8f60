package app

import (
	"sync"
	"time"

	"github.com/raysh454/scanqueue/internal/model"
)

type TaskEventType string

const (
	TaskEventStatus   TaskEventType = "status"
	TaskEventProgress TaskEventType = "progress"
	TaskEventResult   TaskEventType = "result"
)

// TaskEvent is a live update about one task.
type TaskEvent struct {
	TaskID string        `json:"task_id"`
	Type   TaskEventType `json:"type"`
	Time   time.Time     `json:"time"`

	// For status changes
	Status model.TaskStatus `json:"status,omitempty"`
	Error  string           `json:"error,omitempty"`

	// For progress
	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Terminal reports whether no further events follow for the task.
func (e TaskEvent) Terminal() bool { return e.Status.Terminal() }

const eventBuffer = 16

// broker fans task events out to subscribers. Sends never block: a
// subscriber whose buffer is full misses the event.
type broker struct {
	mu   sync.Mutex
	subs map[string]map[chan TaskEvent]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[string]map[chan TaskEvent]struct{})}
}

func (b *broker) subscribe(taskID string) (<-chan TaskEvent, func()) {
	ch := make(chan TaskEvent, eventBuffer)
	b.mu.Lock()
	if b.subs[taskID] == nil {
		b.subs[taskID] = make(map[chan TaskEvent]struct{})
	}
	b.subs[taskID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[taskID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(b.subs, taskID)
				}
			}
			close(ch)
		})
	}
}

func (b *broker) publish(ev TaskEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.TaskID] {
		// Non-blocking send; drop if buffer is full.
		select {
		case ch <- ev:
		default:
		}
	}
}
