// Package liveevents fans out freshly appended usage records to in-process
// subscribers (the admin SSE stream). Delivery is best effort: slow
// subscribers drop events rather than block the ledger.
package liveevents

import (
	"errors"
	"strconv"
	"sync"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

// AllUsers is the stream key that receives every event.
const AllUsers = "all"

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidStream  = errors.New("invalid_stream")
)

type LiveEvent struct {
	RecordID       string `json:"record_id"`
	UserID         int64  `json:"user_id"`
	ServiceType    string `json:"service_type"`
	ModelID        string `json:"model_id"`
	CharacterCount int64  `json:"character_count"`
	EstimatedCost  string `json:"estimated_cost"`
	CreatedAt      string `json:"created_at"`
}

// UserStream returns the stream key for a single user.
func UserStream(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []LiveEvent
	subs   map[uint64]chan LiveEvent
	nextID uint64
}

type Subscription struct {
	hub  *Hub
	key  string
	id   uint64
	ch   chan LiveEvent
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish delivers event to the user's stream and to the AllUsers stream.
// Streams without subscribers are skipped entirely.
func (h *Hub) Publish(event LiveEvent) {
	if h == nil {
		return
	}
	h.publish(AllUsers, event)
	if event.UserID > 0 {
		h.publish(UserStream(event.UserID), event)
	}
}

func (h *Hub) publish(key string, event LiveEvent) {
	h.mu.RLock()
	s := h.streams[key]
	h.mu.RUnlock()
	if s == nil {
		return
	}

	s.mu.Lock()
	s.buffer = append(s.buffer, event)
	if len(s.buffer) > h.bufferSize {
		s.buffer = s.buffer[len(s.buffer)-h.bufferSize:]
	}
	subs := make([]chan LiveEvent, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe attaches to a stream and returns the events buffered so far.
func (h *Hub) Subscribe(key string) (*Subscription, []LiveEvent, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	if key == "" {
		return nil, nil, ErrInvalidStream
	}

	h.mu.Lock()
	s := h.streams[key]
	if s == nil {
		s = &stream{subs: make(map[uint64]chan LiveEvent)}
		h.streams[key] = s
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan LiveEvent, h.subscriberBuffer)
	s.subs[id] = ch
	backlog := append([]LiveEvent(nil), s.buffer...)
	s.mu.Unlock()
	h.mu.Unlock()

	return &Subscription{hub: h, key: key, id: id, ch: ch}, backlog, nil
}

func (h *Hub) unsubscribe(key string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.streams[key]
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.subs, id)
	empty := len(s.subs) == 0
	s.mu.Unlock()
	if empty {
		delete(h.streams, key)
	}
}

func (s *Subscription) Events() <-chan LiveEvent {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.key, s.id)
	})
}
