package models

import (
	"encoding/json"
	"time"
)

// EventType is the closed set of domain facts recorded by the event log.
type EventType string

const (
	EventRegionCreated   EventType = "REGION_CREATED"
	EventRegionUpdated   EventType = "REGION_UPDATED"
	EventRegionDeleted   EventType = "REGION_DELETED"
	EventRegionMoved     EventType = "REGION_MOVED"
	EventRegionResized   EventType = "REGION_RESIZED"
	EventRegionLocked    EventType = "REGION_LOCKED"
	EventRegionUnlocked  EventType = "REGION_UNLOCKED"
	EventRegionCollapsed EventType = "REGION_COLLAPSED"
	EventRegionExpanded  EventType = "REGION_EXPANDED"

	EventLayoutCreated EventType = "LAYOUT_CREATED"
	EventLayoutUpdated EventType = "LAYOUT_UPDATED"
	EventLayoutDeleted EventType = "LAYOUT_DELETED"

	EventVersionCreated EventType = "VERSION_CREATED"
	EventVersionUpdated EventType = "VERSION_UPDATED"
	EventVersionDeleted EventType = "VERSION_DELETED"

	EventTemplateCreated EventType = "TEMPLATE_CREATED"
	EventTemplateUpdated EventType = "TEMPLATE_UPDATED"
	EventTemplateDeleted EventType = "TEMPLATE_DELETED"

	EventSnapshotCreated  EventType = "SNAPSHOT_CREATED"
	EventSnapshotRestored EventType = "SNAPSHOT_RESTORED"
)

// RegionUpdateTypes are the event types that restore a region's previous
// state when undone.
var RegionUpdateTypes = []EventType{
	EventRegionUpdated, EventRegionMoved, EventRegionResized,
	EventRegionLocked, EventRegionUnlocked, EventRegionCollapsed, EventRegionExpanded,
}

// UndoableTypes are the mutation-class events undo may reverse.
var UndoableTypes = append([]EventType{EventRegionCreated, EventRegionDeleted}, RegionUpdateTypes...)

func (t EventType) Undoable() bool {
	for _, u := range UndoableTypes {
		if t == u {
			return true
		}
	}
	return false
}

func (t EventType) Valid() bool {
	switch t {
	case EventRegionCreated, EventRegionUpdated, EventRegionDeleted, EventRegionMoved, EventRegionResized,
		EventRegionLocked, EventRegionUnlocked, EventRegionCollapsed, EventRegionExpanded,
		EventLayoutCreated, EventLayoutUpdated, EventLayoutDeleted,
		EventVersionCreated, EventVersionUpdated, EventVersionDeleted,
		EventTemplateCreated, EventTemplateUpdated, EventTemplateDeleted,
		EventSnapshotCreated, EventSnapshotRestored:
		return true
	}
	return false
}

// Entity types.
const (
	EntityRegion = "region"
	EntityLayout = "layout"
)

// EventSchemaVersion is the payload schema version written with new events.
const EventSchemaVersion = 1

// Event is an immutable fact about a past mutation.
//
// Version is the event schema version; EntityVersion is the region version
// the mutation produced (0 for layout-level events).
type Event struct {
	ID            string            `json:"id"`
	EventType     EventType         `json:"eventType"`
	EntityType    string            `json:"entityType"`
	EntityID      string            `json:"entityId"`
	LayoutID      string            `json:"layoutId,omitempty"`
	TenantID      string            `json:"tenantId"`
	UserID        string            `json:"userId"`
	EntityVersion int64             `json:"entityVersion"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Version       int               `json:"version"`
}

// RegionEventPayload is written by every region mutation. Previous is the
// pre-mutation state needed to reverse it.
type RegionEventPayload struct {
	Region          *Region `json:"region,omitempty"`
	Previous        *Region `json:"previous,omitempty"`
	PreviousVersion int64   `json:"previousVersion,omitempty"`
	NewVersion      int64   `json:"newVersion,omitempty"`
}

// ReorderPayload records a display order rewrite.
type ReorderPayload struct {
	Order    []string       `json:"order"`
	Previous map[string]int `json:"previous"`
}

// Snapshot kinds carried by VERSION_CREATED events.
const (
	SnapshotUndo = "undo"
	SnapshotRedo = "redo"
)

// SnapshotPayload is the body of a VERSION_CREATED marker.
//
// An undo snapshot freezes the region set seen just before the undo and names
// the event being undone. A redo marker names the undo snapshot it consumed.
type SnapshotPayload struct {
	Kind            string    `json:"kind"`
	EventID         string    `json:"eventId"`
	EventType       EventType `json:"eventType"`
	SnapshotEventID string    `json:"snapshotEventId,omitempty"`
	Regions         []*Region `json:"regions,omitempty"`
}
