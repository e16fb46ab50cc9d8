// Package ws pushes change feed events to connected browser and app clients
// (admin console, driver app, public tracking page). Each session carries
// its own filter; sessions never coordinate with each other.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/feed"
)

// Session is one connected observer with a write lock around the conn,
// since sends can originate from multiple event goroutines.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) Send(e feed.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(e)
}

func (s *Session) Close() error {
	return s.conn.Close()
}

var ErrNoSession = errors.New("no ws session")

// Hub bridges feed subscriptions to websocket sessions. Every session gets
// its own feed subscription so tenant and key filtering happens in the feed,
// not here.
type Hub struct {
	feed   feed.Feed
	logger *slog.Logger

	mu       sync.Mutex
	nextID   int64
	sessions map[int64]*session
}

type session struct {
	ws     *Session
	cancel func()
}

func NewHub(f feed.Feed, logger *slog.Logger) *Hub {
	return &Hub{feed: f, logger: logger, sessions: make(map[int64]*session)}
}

// Attach subscribes conn to a topic with the given filter and streams
// matching events until the subscription drops or Detach is called.
// It returns the session id used for Detach.
func (h *Hub) Attach(ctx context.Context, conn *websocket.Conn, topic string, filter feed.Filter) (int64, error) {
	sub, err := h.feed.Subscribe(topic, filter)
	if err != nil {
		return 0, err
	}
	ws := &Session{conn: conn}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.sessions[id] = &session{ws: ws, cancel: sub.Close}
	h.mu.Unlock()

	go func() {
		defer h.Detach(id)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-sub.Events:
				if !ok {
					// feed dropped the subscription; the client is expected
					// to reconnect and refetch, same as any disconnect
					return
				}
				if err := ws.Send(e); err != nil {
					h.logger.Warn("ws send failed", "session", id, "error", err)
					return
				}
			}
		}
	}()
	return id, nil
}

// Detach closes the session's subscription and connection. Safe to call
// more than once.
func (h *Hub) Detach(id int64) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	s.cancel()
	_ = s.ws.Close()
}

// Len reports connected sessions, for health reporting.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// CloseAll tears down every session, for shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	ids := make([]int64, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.Detach(id)
	}
}
