package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/onnwee/commentcast/config"
	"github.com/onnwee/commentcast/pipeline"
	"github.com/onnwee/commentcast/telemetry"
)

// Topic names one event stream a page can listen to.
type Topic string

const (
	// TopicBroadcast feeds the broadcast page (websocket and /events).
	TopicBroadcast Topic = "broadcast"
	// TopicOverlay feeds the local overlay, including speech and sound requests.
	TopicOverlay Topic = "overlay"
	// TopicTranslate feeds the translation overlay.
	TopicTranslate Topic = "translate"
)

// Event names carried on the topics.
const (
	EventMessage   = "message"
	EventOverlay   = "overlay"
	EventTranslate = "translate"
	EventSpeech    = "speech"
	EventSound     = "sound"
)

// listenerBuffer is the per-listener backlog before events are dropped.
const listenerBuffer = 64

var (
	ErrHubClosed        = errors.New("hub is closed")
	ErrListenerNotFound = errors.New("listener id not found")
)

// Event is one frame pushed to listeners.
type Event struct {
	Name string
	Data []byte
}

// ListenerStats counts what one listener was sent and what it missed.
type ListenerStats struct {
	Topic   Topic  `json:"topic"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// HubStats is a snapshot of the hub counters.
type HubStats struct {
	Published uint64                   `json:"published"`
	Listeners map[string]ListenerStats `json:"listeners"`
}

type listener struct {
	topic   Topic
	ch      chan Event
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Hub fans presentation events out to attached pages. Publishing never
// blocks: a listener whose buffer is full misses the event.
type Hub struct {
	mu        sync.RWMutex
	listeners map[string]*listener
	closed    bool
	published atomic.Uint64
	logger    *slog.Logger
}

// NewHub returns an open hub with no listeners.
func NewHub() *Hub {
	return &Hub{
		listeners: make(map[string]*listener),
		logger:    slog.Default().With(slog.String("component", "http")),
	}
}

// Subscribe attaches a listener to topic. The returned channel is closed on
// Unsubscribe or Close.
func (h *Hub) Subscribe(topic Topic) (string, <-chan Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", nil, ErrHubClosed
	}
	id := uuid.NewString()
	l := &listener{topic: topic, ch: make(chan Event, listenerBuffer)}
	h.listeners[id] = l
	telemetry.AddListeners(1)
	return id, l.ch, nil
}

// Unsubscribe detaches a listener and closes its channel.
func (h *Hub) Unsubscribe(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	l, ok := h.listeners[id]
	if !ok {
		return ErrListenerNotFound
	}
	delete(h.listeners, id)
	close(l.ch)
	telemetry.AddListeners(-1)
	return nil
}

// Publish encodes v as JSON and offers it to every listener on topic.
func (h *Hub) Publish(topic Topic, name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("event not encodable", slog.String("event", name), slog.Any("err", err))
		return
	}
	ev := Event{Name: name, Data: data}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for id, l := range h.listeners {
		if l.topic != topic {
			continue
		}
		select {
		case l.ch <- ev:
			l.sent.Add(1)
		default:
			if l.dropped.Add(1) == 1 {
				h.logger.Warn("listener too slow, dropping events", slog.String("listener", id), slog.String("topic", string(topic)))
			}
		}
	}
}

// Listeners counts the listeners attached to topic.
func (h *Hub) Listeners(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, l := range h.listeners {
		if l.topic == topic {
			n++
		}
	}
	return n
}

// Stats returns the hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := HubStats{Published: h.published.Load(), Listeners: make(map[string]ListenerStats, len(h.listeners))}
	for id, l := range h.listeners {
		out.Listeners[id] = ListenerStats{Topic: l.topic, Sent: l.sent.Load(), Dropped: l.dropped.Load()}
	}
	return out
}

// Close detaches every listener. Later publishes are ignored.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.closed = true
	for id, l := range h.listeners {
		close(l.ch)
		delete(h.listeners, id)
		telemetry.AddListeners(-1)
	}
	return nil
}

type overlayFrame struct {
	Config *config.Config `json:"config"`
	Markup string         `json:"markup"`
}

type soundFrame struct {
	URL    string `json:"url"`
	Volume int    `json:"volume"`
}

// Broadcast implements pipeline.Broadcaster.
func (h *Hub) Broadcast(m pipeline.Message) { h.Publish(TopicBroadcast, EventMessage, m) }

// ShowOverlay implements pipeline.OverlaySink.
func (h *Hub) ShowOverlay(cfg *config.Config, markup string) {
	h.Publish(TopicOverlay, EventOverlay, overlayFrame{Config: cfg.Redacted(), Markup: markup})
}

// ShowTranslation implements pipeline.TranslationSink.
func (h *Hub) ShowTranslation(cfg *config.Config, markup string) {
	h.Publish(TopicTranslate, EventTranslate, overlayFrame{Config: cfg.Redacted(), Markup: markup})
}

// AnnounceSpeech asks the overlay page to speak text and post /api/ack/speech.
func (h *Hub) AnnounceSpeech(text string) {
	h.Publish(TopicOverlay, EventSpeech, map[string]string{"text": text})
}

// AnnounceSound asks the overlay page to play a clip served under /se/ and
// post /api/ack/sound.
func (h *Hub) AnnounceSound(clip string, volume int) {
	h.Publish(TopicOverlay, EventSound, soundFrame{URL: "/se/" + url.PathEscape(clip), Volume: volume})
}

var (
	_ pipeline.Broadcaster     = (*Hub)(nil)
	_ pipeline.OverlaySink     = (*Hub)(nil)
	_ pipeline.TranslationSink = (*Hub)(nil)
	_ pipeline.Announcer       = (*Hub)(nil)
)
