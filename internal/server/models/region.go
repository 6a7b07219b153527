// Package models defines server-side data models persisted in the database
// and carried in event payloads.
package models

import (
	"maps"
	"time"
)

// RegionType is the functional widget kind a region hosts.
type RegionType string

const (
	RegionTypeCustomerSearch RegionType = "customer-search"
	RegionTypeReports        RegionType = "reports"
	RegionTypeQuickActions   RegionType = "quick-actions"
	RegionTypeAnalytics      RegionType = "analytics"
	RegionTypeRouting        RegionType = "routing"
	RegionTypeAgreements     RegionType = "agreements"
	RegionTypeOverview       RegionType = "overview"
	RegionTypeCustom         RegionType = "custom"
)

// Valid reports whether t is one of the known kinds.
func (t RegionType) Valid() bool {
	switch t {
	case RegionTypeCustomerSearch, RegionTypeReports, RegionTypeQuickActions, RegionTypeAnalytics,
		RegionTypeRouting, RegionTypeAgreements, RegionTypeOverview, RegionTypeCustom:
		return true
	}
	return false
}

// Rect is a grid rectangle. Spans are at least 1.
type Rect struct {
	Row     int `json:"row"`
	Col     int `json:"col"`
	RowSpan int `json:"rowSpan"`
	ColSpan int `json:"colSpan"`
}

// Overlaps reports whether both the row and column intervals intersect.
func (r Rect) Overlaps(o Rect) bool {
	return r.Row < o.Row+o.RowSpan && o.Row < r.Row+r.RowSpan &&
		r.Col < o.Col+o.ColSpan && o.Col < r.Col+r.ColSpan
}

// Region is a rectangle on a tenant-and-user scoped dashboard grid.
// Version is the optimistic-lock token: 1 on create, +1 per accepted update.
type Region struct {
	ID             string         `json:"id"`
	LayoutID       string         `json:"layoutId"`
	TenantID       string         `json:"tenantId"`
	UserID         string         `json:"userId"`
	RegionType     RegionType     `json:"regionType"`
	GridRow        int            `json:"gridRow"`
	GridCol        int            `json:"gridCol"`
	RowSpan        int            `json:"rowSpan"`
	ColSpan        int            `json:"colSpan"`
	IsCollapsed    bool           `json:"isCollapsed"`
	IsLocked       bool           `json:"isLocked"`
	IsHiddenMobile bool           `json:"isHiddenMobile"`
	Config         map[string]any `json:"config,omitempty"`
	WidgetType     *string        `json:"widgetType,omitempty"`
	DisplayOrder   int            `json:"displayOrder"`
	Version        int64          `json:"version"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	DeletedAt      *time.Time     `json:"deletedAt,omitempty"`
}

func (r *Region) Rect() Rect {
	return Rect{Row: r.GridRow, Col: r.GridCol, RowSpan: r.RowSpan, ColSpan: r.ColSpan}
}

// Clone returns a copy that shares nothing mutable at the top level.
func (r *Region) Clone() *Region {
	if r == nil {
		return nil
	}
	c := *r
	c.Config = maps.Clone(r.Config)
	if r.WidgetType != nil {
		w := *r.WidgetType
		c.WidgetType = &w
	}
	if r.DeletedAt != nil {
		d := *r.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}

// RegionPatch carries the fields of an update. Nil means unchanged.
type RegionPatch struct {
	RegionType     *RegionType    `json:"regionType,omitempty"`
	GridRow        *int           `json:"gridRow,omitempty"`
	GridCol        *int           `json:"gridCol,omitempty"`
	RowSpan        *int           `json:"rowSpan,omitempty"`
	ColSpan        *int           `json:"colSpan,omitempty"`
	IsCollapsed    *bool          `json:"isCollapsed,omitempty"`
	IsLocked       *bool          `json:"isLocked,omitempty"`
	IsHiddenMobile *bool          `json:"isHiddenMobile,omitempty"`
	Config         map[string]any `json:"config,omitempty"`
	WidgetType     *string        `json:"widgetType,omitempty"`
	DisplayOrder   *int           `json:"displayOrder,omitempty"`

	// ClearWidgetType sets WidgetType back to nil; it wins over WidgetType.
	ClearWidgetType bool `json:"clearWidgetType,omitempty"`
}

// Apply returns a copy of r with the patch applied. Version and timestamps
// are left to the store.
func (p RegionPatch) Apply(r *Region) *Region {
	out := r.Clone()
	if p.RegionType != nil {
		out.RegionType = *p.RegionType
	}
	if p.GridRow != nil {
		out.GridRow = *p.GridRow
	}
	if p.GridCol != nil {
		out.GridCol = *p.GridCol
	}
	if p.RowSpan != nil {
		out.RowSpan = *p.RowSpan
	}
	if p.ColSpan != nil {
		out.ColSpan = *p.ColSpan
	}
	if p.IsCollapsed != nil {
		out.IsCollapsed = *p.IsCollapsed
	}
	if p.IsLocked != nil {
		out.IsLocked = *p.IsLocked
	}
	if p.IsHiddenMobile != nil {
		out.IsHiddenMobile = *p.IsHiddenMobile
	}
	if p.Config != nil {
		out.Config = maps.Clone(p.Config)
	}
	if p.WidgetType != nil {
		w := *p.WidgetType
		out.WidgetType = &w
	}
	if p.ClearWidgetType {
		out.WidgetType = nil
	}
	if p.DisplayOrder != nil {
		out.DisplayOrder = *p.DisplayOrder
	}
	return out
}

// PatchFrom builds the patch that turns any region into r's mutable state.
// Undo and redo use it to write captured state back.
func PatchFrom(r *Region) RegionPatch {
	rt, row, col, rs, cs := r.RegionType, r.GridRow, r.GridCol, r.RowSpan, r.ColSpan
	collapsed, locked, hidden, order := r.IsCollapsed, r.IsLocked, r.IsHiddenMobile, r.DisplayOrder
	cfg := maps.Clone(r.Config)
	if cfg == nil {
		cfg = map[string]any{}
	}
	p := RegionPatch{
		RegionType: &rt, GridRow: &row, GridCol: &col, RowSpan: &rs, ColSpan: &cs,
		IsCollapsed: &collapsed, IsLocked: &locked, IsHiddenMobile: &hidden,
		Config: cfg, DisplayOrder: &order,
	}
	if r.WidgetType != nil {
		w := *r.WidgetType
		p.WidgetType = &w
	} else {
		p.ClearWidgetType = true
	}
	return p
}
