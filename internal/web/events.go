package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vbonduro/storagesync/internal/bus"
	"github.com/vbonduro/storagesync/internal/search"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPongTimeout  = 60 * time.Second
	eventPingInterval = eventPongTimeout * 9 / 10
	eventQueueSize    = 32
	maxClientMessage  = 4096
)

// clientMessage is sent by the client over /events. The only type is "search".
type clientMessage struct {
	Type    string `json:"type"`
	Keyword string `json:"keyword"`
}

type changedMessage struct {
	Type  string    `json:"type"`
	Topic bus.Topic `json:"topic"`
}

type resultsMessage struct {
	Type    string     `json:"type"`
	Keyword string     `json:"keyword"`
	Items   []itemView `json:"items"`
	Error   string     `json:"error,omitempty"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// handleEvents streams change notifications to the client and answers its
// debounced searches. Handlers and search results are delivered on the
// dispatcher and only ever enqueue; one writer goroutine owns the socket.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "shutting down"}, s.logger)
		return
	}
	s.sessions.Add(1)
	s.mu.Unlock()
	defer s.sessions.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.runEventSession(conn)
}

func (s *Server) runEventSession(conn *websocket.Conn) {
	out := make(chan any, eventQueueSize)
	done := make(chan struct{})
	enqueue := func(msg any) {
		select {
		case <-done:
			return
		default:
		}
		select {
		case out <- msg:
		default:
			s.logger.Warn("event stream backlog full, dropping message")
		}
	}

	handles := make([]bus.Handle, 0, len(bus.Topics))
	for _, topic := range bus.Topics {
		handles = append(handles, s.events.Subscribe(topic, func(t bus.Topic) {
			enqueue(changedMessage{Type: "changed", Topic: t})
		}))
	}
	searcher := search.NewSearcher(s.opts.SearchDebounce, s.service.SearchItems, s.dispatcher, func(res search.Result) {
		enqueue(newResultsMessage(res))
	}, s.logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeEvents(conn, out, done)
	}()
	stop := make(chan struct{})
	go func() {
		defer wg.Done()
		select {
		case <-s.closing:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(eventWriteTimeout))
			_ = conn.Close()
		case <-stop:
		}
	}()

	s.logger.Debug("event stream opened", "remote", conn.RemoteAddr().String())
	s.readEvents(conn, searcher, enqueue)

	close(stop)
	for _, h := range handles {
		s.events.Unsubscribe(h)
	}
	searcher.Close()
	close(done)
	wg.Wait()
	_ = conn.Close()
	s.logger.Debug("event stream closed", "remote", conn.RemoteAddr().String())
}

// readEvents blocks until the client goes away.
func (s *Server) readEvents(conn *websocket.Conn, searcher *search.Searcher, enqueue func(any)) {
	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(eventPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("event stream read failed", "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			enqueue(errorMessage{Type: "error", Error: "invalid message"})
			continue
		}
		switch msg.Type {
		case "search":
			searcher.Submit(msg.Keyword)
		default:
			enqueue(errorMessage{Type: "error", Error: "unknown message type"})
		}
	}
}

func (s *Server) writeEvents(conn *websocket.Conn, out <-chan any, done <-chan struct{}) {
	ticker := time.NewTicker(eventPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				// Unblock the reader so the session ends.
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func newResultsMessage(res search.Result) resultsMessage {
	msg := resultsMessage{Type: "results", Keyword: res.Keyword, Items: newItemViews(res.Items)}
	if res.Err != nil {
		msg.Error = "search failed"
	}
	return msg
}
