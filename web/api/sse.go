package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// keepaliveInterval keeps idle streams open through proxies
const keepaliveInterval = 15 * time.Second

// SSEEvent is one message on /api/events
type SSEEvent struct {
	ID   uint64      `json:"-"`
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SSEHub fans events out to connected SSE clients. Run owns the subscriber
// set and stamps ids; a subscriber whose buffer is full is disconnected.
type SSEHub struct {
	subscribers map[chan SSEEvent]struct{}
	events      chan SSEEvent
	join        chan chan SSEEvent
	leave       chan chan SSEEvent
	done        chan struct{}
	seq         uint64
}

func NewSSEHub() *SSEHub {
	return &SSEHub{
		subscribers: make(map[chan SSEEvent]struct{}),
		events:      make(chan SSEEvent, 64),
		join:        make(chan chan SSEEvent),
		leave:       make(chan chan SSEEvent),
		done:        make(chan struct{}),
	}
}

// Run serves subscriptions until ctx is done, then closes every stream
func (h *SSEHub) Run(ctx context.Context) {
	defer func() {
		for sub := range h.subscribers {
			close(sub)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-h.join:
			h.subscribers[sub] = struct{}{}
		case sub := <-h.leave:
			h.drop(sub)
		case event := <-h.events:
			h.seq++
			event.ID = h.seq
			for sub := range h.subscribers {
				select {
				case sub <- event:
				default:
					h.drop(sub)
				}
			}
		}
	}
}

func (h *SSEHub) drop(sub chan SSEEvent) {
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub)
	}
}

// Broadcast queues event without blocking. Events are lost when the hub is
// stopped or its queue is full.
func (h *SSEHub) Broadcast(event SSEEvent) {
	select {
	case h.events <- event:
	case <-h.done:
	default:
	}
}

func (h *SSEHub) subscribe() (chan SSEEvent, bool) {
	sub := make(chan SSEEvent, 16)
	select {
	case h.join <- sub:
		return sub, true
	case <-h.done:
		return nil, false
	}
}

func (h *SSEHub) unsubscribe(sub chan SSEEvent) {
	select {
	case h.leave <- sub:
	case <-h.done:
	}
}

func writeEvent(w http.ResponseWriter, event SSEEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data)
	return err
}

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		sub, ok := s.sseHub.subscribe()
		if !ok {
			writeError(w, http.StatusServiceUnavailable, "event stream stopped")
			return
		}
		defer s.sseHub.unsubscribe(sub)

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepalive.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case event, ok := <-sub:
				if !ok {
					return
				}
				if err := writeEvent(w, event); err != nil {
					s.log.Debug().Err(err).Msg("sse client gone")
					return
				}
				flusher.Flush()
			}
		}
	}
}
