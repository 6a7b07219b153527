package services

import (
	"context"
	"maps"
)

type eventMetaKey struct{}

// WithEventMetadata attaches session and correlation identifiers that are
// copied into every event recorded under ctx.
func WithEventMetadata(ctx context.Context, meta map[string]string) context.Context {
	if len(meta) == 0 {
		return ctx
	}
	merged := maps.Clone(EventMetadata(ctx))
	if merged == nil {
		merged = make(map[string]string, len(meta))
	}
	maps.Copy(merged, meta)
	return context.WithValue(ctx, eventMetaKey{}, merged)
}

// EventMetadata returns the metadata attached by WithEventMetadata.
func EventMetadata(ctx context.Context) map[string]string {
	m, _ := ctx.Value(eventMetaKey{}).(map[string]string)
	return m
}
