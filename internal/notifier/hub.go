package notifier

import (
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Hub consumes the change feed and fans typed notifications out to
// in-process subscribers. Subscriptions filter per user (assignee), per
// instance, or not at all (administrative firehose).
//
// Delivery is at-least-once and ordered per assignment; a slow subscriber
// whose buffer fills drops the event (the subscriber refreshes from the
// source of truth on its next query).
type Hub struct {
	log zerolog.Logger

	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int
	closed bool
	natsub *nats.Subscription
}

// Subscription is a handle to a filtered change event stream. Callers must
// Unsubscribe on teardown.
type Subscription struct {
	C <-chan ChangeEvent

	hub    *Hub
	id     int
	ch     chan ChangeEvent
	filter func(*ChangeEvent) bool
}

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.hub.remove(s.id)
}

// subscriptionBuffer is the per-subscriber channel depth.
const subscriptionBuffer = 64

// NewHub creates an idle hub; call Start to attach it to the feed.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:  log,
		subs: make(map[int]*Subscription),
	}
}

// Start subscribes the hub to the workflow change subjects.
func (h *Hub) Start(nc *nats.Conn) error {
	sub, err := nc.Subscribe(SubjectWildcard, func(msg *nats.Msg) {
		var event ChangeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			h.log.Warn().Err(err).Str("subject", msg.Subject).Msg("notifier: dropping malformed change event")
			return
		}
		h.dispatch(&event)
	})
	if err != nil {
		return err
	}
	h.natsub = sub
	return nil
}

// Close detaches from the feed and closes all subscriptions.
func (h *Hub) Close() {
	if h.natsub != nil {
		_ = h.natsub.Unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, s := range h.subs {
		close(s.ch)
		delete(h.subs, id)
	}
}

// SubscribeUser yields events for assignments where the user is the assignee.
func (h *Hub) SubscribeUser(userID string) *Subscription {
	return h.add(func(e *ChangeEvent) bool {
		return e.Assignment != nil &&
			e.Assignment.AssigneeID != nil &&
			*e.Assignment.AssigneeID == userID
	})
}

// SubscribeInstance yields all events belonging to one instance.
func (h *Hub) SubscribeInstance(instanceID string) *Subscription {
	return h.add(func(e *ChangeEvent) bool {
		if e.Assignment != nil && e.Assignment.InstanceID == instanceID {
			return true
		}
		return e.Instance != nil && e.Instance.ID == instanceID
	})
}

// SubscribeAll yields every change event, for elevated dashboard roles.
func (h *Hub) SubscribeAll() *Subscription {
	return h.add(func(*ChangeEvent) bool { return true })
}

func (h *Hub) add(filter func(*ChangeEvent) bool) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	ch := make(chan ChangeEvent, subscriptionBuffer)
	s := &Subscription{
		C:      ch,
		hub:    h,
		id:     h.nextID,
		ch:     ch,
		filter: filter,
	}
	// Subscribing to a closed hub yields an already-ended stream.
	if h.closed {
		close(ch)
		return s
	}
	h.subs[s.id] = s
	return s
}

func (h *Hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		close(s.ch)
		delete(h.subs, id)
	}
}

func (h *Hub) dispatch(event *ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.subs {
		if !s.filter(event) {
			continue
		}
		select {
		case s.ch <- *event:
		default:
			h.log.Warn().
				Str("type", string(event.Type)).
				Msg("notifier: subscriber buffer full, dropping event")
		}
	}
}
