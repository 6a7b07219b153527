// Package validator checks grid bounds and rectangle overlap before a region
// is written.
package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
	"github.com/cseek11/VeroSuite-sub002/internal/server/repositories/regions"
)

// Grid defaults applied to omitted placement fields.
const (
	DefaultRow     = 0
	DefaultCol     = 0
	DefaultRowSpan = 1
	DefaultColSpan = 1
)

// Placement is the optional grid position of a create request.
type Placement struct {
	GridRow *int
	GridCol *int
	RowSpan *int
	ColSpan *int
}

// Rect applies the defaults.
func (p Placement) Rect() models.Rect {
	pick := func(v *int, def int) int {
		if v == nil {
			return def
		}
		return *v
	}
	return models.Rect{
		Row:     pick(p.GridRow, DefaultRow),
		Col:     pick(p.GridCol, DefaultCol),
		RowSpan: pick(p.RowSpan, DefaultRowSpan),
		ColSpan: pick(p.ColSpan, DefaultColSpan),
	}
}

// Validator is advisory: the store repeats the overlap check inside its
// write, so a passing validation is not a reservation.
type Validator struct {
	store regions.Repository
}

func New(store regions.Repository) *Validator {
	return &Validator{store: store}
}

// CheckBounds rejects negative coordinates and spans below 1.
func CheckBounds(r models.Rect) error {
	var bad []string
	if r.Row < 0 {
		bad = append(bad, "gridRow")
	}
	if r.Col < 0 {
		bad = append(bad, "gridCol")
	}
	if r.RowSpan < 1 {
		bad = append(bad, "rowSpan")
	}
	if r.ColSpan < 1 {
		bad = append(bad, "colSpan")
	}
	if len(bad) > 0 {
		return common.BadRequest(common.CodeInvalidGridBounds,
			fmt.Sprintf("invalid grid bounds: %s", strings.Join(bad, ", ")),
			"fields", strings.Join(bad, ","))
	}
	return nil
}

// ValidateCreate returns the defaulted rectangle when it is in bounds and
// free in the layout.
func (v *Validator) ValidateCreate(ctx context.Context, layoutID string, p Placement, tenantID string) (models.Rect, error) {
	rect := p.Rect()
	if err := CheckBounds(rect); err != nil {
		return rect, err
	}
	return rect, v.checkOverlap(ctx, layoutID, tenantID, rect, "")
}

// ValidateUpdate checks the rectangle a region would occupy after the update.
// The region's own footprint is excluded.
func (v *Validator) ValidateUpdate(ctx context.Context, layoutID, regionID string, rect models.Rect, tenantID string) error {
	if err := CheckBounds(rect); err != nil {
		return err
	}
	return v.checkOverlap(ctx, layoutID, tenantID, rect, regionID)
}

func (v *Validator) checkOverlap(ctx context.Context, layoutID, tenantID string, rect models.Rect, excludeID string) error {
	hits, err := v.store.FindOverlapping(ctx, layoutID, tenantID, rect, excludeID)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		return nil
	}
	return OverlapError(hits)
}

// OverlapError is the Conflict raised for an occupied rectangle.
func OverlapError(hits []*models.Region) error {
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	msg := "region overlaps an existing region"
	if len(ids) > 0 {
		msg = fmt.Sprintf("region overlaps existing region(s): %s", strings.Join(ids, ", "))
	}
	return common.Conflict(common.CodeRegionOverlap, msg, "overlapping", strings.Join(ids, ","))
}
