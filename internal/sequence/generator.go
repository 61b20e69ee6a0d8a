// Package sequence issues date-scoped, zero-padded identifiers such as
// TXN-20261019-00001.
package sequence

import (
	"context"
	"fmt"
	"time"

	"retailpos/backend/internal/store"
)

type Kind string

const (
	KindSale    Kind = "TXN"
	KindReceipt Kind = "RCP"
)

// Counter atomically increments the value stored under key and returns it.
type Counter interface {
	Next(ctx context.Context, key string) (int64, error)
}

// StoreCounter keeps counters in the record store.
type StoreCounter struct {
	store store.SequenceStore
}

func NewStoreCounter(s store.SequenceStore) *StoreCounter {
	return &StoreCounter{store: s}
}

func (c *StoreCounter) Next(ctx context.Context, key string) (int64, error) {
	return c.store.NextSequence(ctx, key)
}

type Generator struct {
	counter  Counter
	location *time.Location
}

// NewGenerator scopes counters to calendar dates in loc (UTC when nil).
func NewGenerator(counter Counter, loc *time.Location) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{counter: counter, location: loc}
}

func (g *Generator) Next(ctx context.Context, kind Kind, at time.Time) (string, error) {
	day := at.In(g.location).Format("20060102")
	value, err := g.counter.Next(ctx, Key(kind, day))
	if err != nil {
		return "", fmt.Errorf("next %s sequence: %w", kind, err)
	}
	return Format(kind, day, value), nil
}

func Key(kind Kind, day string) string {
	return string(kind) + ":" + day
}

func Format(kind Kind, day string, value int64) string {
	return fmt.Sprintf("%s-%s-%05d", kind, day, value)
}
