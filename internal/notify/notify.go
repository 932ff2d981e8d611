package notify

import (
	"log"
	"sync"
	"time"
)

// Notification is one user-facing message.
type Notification struct {
	Title string    `json:"title"`
	Body  string    `json:"body"`
	At    time.Time `json:"at"`
}

// Scheduler hands notifications to whatever delivery channel is wired in.
// One-shots are fire-and-forget: nothing tracks them after scheduling.
type Scheduler interface {
	ScheduleOneShot(title, body string, delay time.Duration)
	ScheduleImmediate(title, body string)
}

// Hub is the in-process scheduler. It logs every delivery and fans it out to
// registered subscribers (the websocket server subscribes to push to
// clients). Delayed deliveries ride on time.AfterFunc; a hub shutdown
// simply lets pending timers lapse.
type Hub struct {
	mu   sync.Mutex
	subs []func(Notification)
}

func NewHub() *Hub { return &Hub{} }

// Subscribe registers a delivery callback. Callbacks must not block.
func (h *Hub) Subscribe(fn func(Notification)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, fn)
}

func (h *Hub) ScheduleOneShot(title, body string, delay time.Duration) {
	log.Printf("[notify] scheduled %q in %s", title, delay)
	time.AfterFunc(delay, func() {
		h.deliver(Notification{Title: title, Body: body, At: time.Now()})
	})
}

func (h *Hub) ScheduleImmediate(title, body string) {
	h.deliver(Notification{Title: title, Body: body, At: time.Now()})
}

func (h *Hub) deliver(n Notification) {
	log.Printf("[notify] %s: %s", n.Title, n.Body)
	h.mu.Lock()
	subs := make([]func(Notification), len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()
	for _, fn := range subs {
		fn(n)
	}
}
