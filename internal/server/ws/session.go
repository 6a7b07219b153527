package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Session is one websocket connection. Writes go through send and are
// performed by writeLoop only.
type Session struct {
	id        string
	principal models.Principal
	conn      *websocket.Conn
	send      chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(id string, p models.Principal, conn *websocket.Conn) *Session {
	return &Session{id: id, principal: p, conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
}

// enqueue queues msg without blocking. A session that cannot keep up is
// closed; its client reconnects and rejoins.
func (s *Session) enqueue(msg []byte) {
	select {
	case <-s.done:
	case s.send <- msg:
	default:
		s.close()
	}
}

func (s *Session) emit(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	msg, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return
	}
	s.enqueue(msg)
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			// flush what is already queued, then say goodbye
			for {
				select {
				case msg := <-s.send:
					_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					_ = s.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}
