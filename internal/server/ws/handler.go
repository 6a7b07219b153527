package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/logging"
	"github.com/cseek11/VeroSuite-sub002/internal/server/auth"
	"github.com/cseek11/VeroSuite-sub002/internal/server/fanout"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/cseek11/VeroSuite-sub002/internal/server/presence"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client to server events.
const (
	EventJoinRegion     = "join-region"
	EventLeaveRegion    = "leave-region"
	EventUpdatePresence = "update-presence"
	EventAcquireLock    = "acquire-lock"
	EventReleaseLock    = "release-lock"
	EventHeartbeat      = "heartbeat"
)

// Server to client events.
const (
	EventConnected       = "connected"
	EventPresenceUpdated = "presence-updated"
	EventPresenceJoined  = "presence-joined"
	EventPresenceLeft    = "presence-left"
	EventLockAcquired    = "lock-acquired"
	EventLockReleased    = "lock-released"
	EventLockResult      = "lock-result"
	EventError           = "error"
)

// RegionAuthorizer decides whether a principal may view or edit a region.
type RegionAuthorizer interface {
	CheckRegionPermission(ctx context.Context, p models.Principal, regionID string, action models.Action) (bool, error)
}

type regionRequest struct {
	RegionID  string `json:"regionId"`
	IsEditing bool   `json:"isEditing"`
}

// ErrorPayload is the body of an "error" event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type memberPayload struct {
	RegionID  string `json:"regionId"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	IsEditing bool   `json:"isEditing,omitempty"`
}

type presencePayload struct {
	RegionID string             `json:"regionId"`
	Users    []*models.Presence `json:"users"`
}

type connectedPayload struct {
	SessionID  string `json:"sessionId"`
	UserID     string `json:"userId"`
	InstanceID string `json:"instanceId"`
}

type Handler struct {
	hub      *Hub
	coord    *presence.Coordinator
	fanout   *fanout.Fanout
	authz    RegionAuthorizer
	secret   []byte
	log      logging.Logger
	upgrader websocket.Upgrader
}

// NewHandler wires the websocket endpoint. authz may be nil, in which case
// any authenticated tenant member may join any region id.
func NewHandler(hub *Hub, coord *presence.Coordinator, f *fanout.Fanout, authz RegionAuthorizer, secret []byte, log logging.Logger) *Handler {
	if log == nil {
		log = logging.Nop{}
	}
	return &Handler{
		hub: hub, coord: coord, fanout: f, authz: authz, secret: secret,
		log: log.With("module", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.BearerToken(r.Header.Get("Authorization"))
	}
	p, err := auth.ParsePrincipal(token, h.secret)
	if err != nil {
		reject(conn, common.CodeUnauthorized, "authentication required")
		return
	}

	s := newSession(uuid.NewString(), p, conn)
	if err := h.hub.register(ctx, s); err != nil {
		h.log.Warn(ctx, "connection rejected", "tenant_id", p.TenantID, "error", err)
		reject(conn, common.CodeOf(err), err.Error())
		return
	}
	go s.writeLoop()

	log := h.log.With("session_id", s.id, "user_id", p.UserID, "tenant_id", p.TenantID)
	log.Debug(ctx, "session connected")
	s.emit(EventConnected, connectedPayload{SessionID: s.id, UserID: p.UserID, InstanceID: h.fanout.InstanceID()})

	h.readLoop(ctx, s, log)

	s.close()
	h.hub.unregister(ctx, s)
	h.disconnect(context.WithoutCancel(ctx), s, log)
	log.Debug(ctx, "session closed")
}

// reject tells an unaccepted client why and closes the connection.
func reject(conn *websocket.Conn, code, message string) {
	data, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	msg, _ := json.Marshal(Envelope{Event: EventError, Data: data})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, msg)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(writeWait))
	_ = conn.Close()
}

func (h *Handler) readLoop(ctx context.Context, s *Session, log logging.Logger) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug(ctx, "read failed", "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var in Envelope
		if err := json.Unmarshal(raw, &in); err != nil {
			s.emit(EventError, ErrorPayload{Code: common.CodeInvalidRequest, Message: "malformed message"})
			continue
		}
		if err := h.dispatch(ctx, s, in); err != nil {
			log.Debug(ctx, "event failed", "event", in.Event, "error", err)
			s.emit(EventError, errorPayload(err))
		}
	}
}

func errorPayload(err error) ErrorPayload {
	code := common.CodeOf(err)
	msg := err.Error()
	if code == common.CodeInternal {
		msg = "internal error"
	}
	return ErrorPayload{Code: code, Message: msg}
}

func (h *Handler) presenceSession(s *Session) presence.Session {
	return presence.Session{TenantID: s.principal.TenantID, UserID: s.principal.UserID, SessionID: s.id}
}

func (h *Handler) authorize(ctx context.Context, s *Session, regionID string, action models.Action) error {
	if regionID == "" {
		return common.BadRequest(common.CodeInvalidRequest, "regionId is required")
	}
	if h.authz == nil {
		return nil
	}
	ok, err := h.authz.CheckRegionPermission(ctx, s.principal, regionID, action)
	if err != nil {
		return err
	}
	if !ok {
		return common.Forbidden("no " + string(action) + " permission on region")
	}
	return nil
}

func (h *Handler) broadcast(ctx context.Context, s *Session, regionID, event string, data any, exceptSelf bool) {
	except := ""
	if exceptSelf {
		except = s.id
	}
	room := fanout.Room(s.principal.TenantID, regionID)
	if err := h.fanout.Broadcast(ctx, h.hub, s.principal.TenantID, room, event, data, except); err != nil {
		h.log.Warn(ctx, "broadcast failed", "event", event, "error", err)
	}
}

func (h *Handler) member(s *Session, regionID string, editing bool) memberPayload {
	return memberPayload{RegionID: regionID, UserID: s.principal.UserID, SessionID: s.id, IsEditing: editing}
}

func (h *Handler) dispatch(ctx context.Context, s *Session, in Envelope) error {
	var req regionRequest
	if len(in.Data) > 0 {
		if err := json.Unmarshal(in.Data, &req); err != nil {
			return common.BadRequest(common.CodeInvalidRequest, "malformed data")
		}
	}
	ps := h.presenceSession(s)

	switch in.Event {
	case EventJoinRegion:
		if err := h.authorize(ctx, s, req.RegionID, models.ActionRead); err != nil {
			return err
		}
		users, err := h.coord.Join(ctx, ps, req.RegionID)
		if err != nil {
			return err
		}
		h.hub.join(s, fanout.Room(s.principal.TenantID, req.RegionID))
		s.emit(EventPresenceUpdated, presencePayload{RegionID: req.RegionID, Users: users})
		h.broadcast(ctx, s, req.RegionID, EventPresenceJoined, h.member(s, req.RegionID, false), true)

	case EventLeaveRegion:
		if req.RegionID == "" {
			return common.BadRequest(common.CodeInvalidRequest, "regionId is required")
		}
		if err := h.coord.Leave(ctx, ps, req.RegionID); err != nil {
			return err
		}
		h.broadcast(ctx, s, req.RegionID, EventPresenceLeft, h.member(s, req.RegionID, false), true)
		h.hub.leave(s, fanout.Room(s.principal.TenantID, req.RegionID))

	case EventUpdatePresence:
		if err := h.authorize(ctx, s, req.RegionID, models.ActionRead); err != nil {
			return err
		}
		// Editing is the lock: it goes through the same permission and
		// arbitration as acquire-lock.
		if req.IsEditing {
			if err := h.authorize(ctx, s, req.RegionID, models.ActionEdit); err != nil {
				return err
			}
			res, err := h.coord.AcquireLock(ctx, ps, req.RegionID)
			if err != nil {
				return err
			}
			s.emit(EventLockResult, res)
			if !res.Success {
				return nil
			}
		} else if _, err := h.coord.UpdatePresence(ctx, ps, req.RegionID, false); err != nil {
			return err
		}
		users, err := h.coord.ActivePresence(ctx, s.principal.TenantID, req.RegionID)
		if err != nil {
			return err
		}
		h.broadcast(ctx, s, req.RegionID, EventPresenceUpdated, presencePayload{RegionID: req.RegionID, Users: users}, false)

	case EventAcquireLock:
		if err := h.authorize(ctx, s, req.RegionID, models.ActionEdit); err != nil {
			return err
		}
		res, err := h.coord.AcquireLock(ctx, ps, req.RegionID)
		if err != nil {
			return err
		}
		s.emit(EventLockResult, res)
		if res.Success {
			h.broadcast(ctx, s, req.RegionID, EventLockAcquired, h.member(s, req.RegionID, true), true)
		}

	case EventReleaseLock:
		if req.RegionID == "" {
			return common.BadRequest(common.CodeInvalidRequest, "regionId is required")
		}
		if err := h.coord.ReleaseLock(ctx, ps, req.RegionID); err != nil {
			return err
		}
		h.broadcast(ctx, s, req.RegionID, EventLockReleased, h.member(s, req.RegionID, false), true)

	case EventHeartbeat:
		if _, err := h.coord.Heartbeat(ctx, ps); err != nil {
			return err
		}

	default:
		return common.BadRequest(common.CodeInvalidRequest, "unknown event "+in.Event)
	}
	return nil
}

// disconnect clears the session's presence and tells the rooms it was in.
func (h *Handler) disconnect(ctx context.Context, s *Session, log logging.Logger) {
	regionIDs, err := h.coord.Disconnect(ctx, h.presenceSession(s))
	if err != nil {
		log.Warn(ctx, "presence cleanup failed", "error", err)
		return
	}
	for _, id := range regionIDs {
		h.broadcast(ctx, s, id, EventPresenceLeft, h.member(s, id, false), true)
	}
}
