// Package ws serves the collaboration websocket: room membership, presence
// and edit locks, relayed across instances through fanout.
package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/server/metrics"
)

// Hub tracks the sessions connected to this instance and the rooms they
// joined.
type Hub struct {
	mu           sync.RWMutex
	rooms        map[string]map[*Session]struct{}
	perTenant    map[string]int
	maxPerTenant int
	metrics      *metrics.Recorder
}

// NewHub builds a hub. maxPerTenant <= 0 means unlimited.
func NewHub(maxPerTenant int, m *metrics.Recorder) *Hub {
	return &Hub{
		rooms:        make(map[string]map[*Session]struct{}),
		perTenant:    make(map[string]int),
		maxPerTenant: maxPerTenant,
		metrics:      m,
	}
}

func (h *Hub) register(ctx context.Context, s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	tenant := s.principal.TenantID
	if h.maxPerTenant > 0 && h.perTenant[tenant] >= h.maxPerTenant {
		return common.NewError(common.ErrorConnectionLimitExceeded, common.CodeConnectionLimitExceeded,
			"too many connections for tenant")
	}
	h.perTenant[tenant]++
	h.metrics.ConnectionOpened(ctx)
	return nil
}

// unregister drops s from every room and returns the rooms it was in.
func (h *Hub) unregister(ctx context.Context, s *Session) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var left []string
	for room, members := range h.rooms {
		if _, ok := members[s]; !ok {
			continue
		}
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
		left = append(left, room)
	}
	tenant := s.principal.TenantID
	if h.perTenant[tenant]--; h.perTenant[tenant] <= 0 {
		delete(h.perTenant, tenant)
	}
	h.metrics.ConnectionClosed(ctx)
	return left
}

func (h *Hub) join(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Session]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
}

func (h *Hub) leave(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Deliver sends event to every local member of room except the session
// with id exceptSession.
func (h *Hub) Deliver(room, event string, data json.RawMessage, exceptSession string) {
	msg, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.rooms[room] {
		if s.id == exceptSession {
			continue
		}
		s.enqueue(msg)
	}
}

// Connections reports the live sessions of a tenant.
func (h *Hub) Connections(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.perTenant[tenantID]
}

// RoomSize reports how many local sessions joined room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
