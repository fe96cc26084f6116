package adapter

import (
	"context"
	"time"
)

// Observer receives one callback per adapter operation.
type Observer interface {
	ObserveOperation(backend, model, op string, elapsed time.Duration, err error)
}

type instrumented struct {
	next     Adapter
	observer Observer
}

// Instrument reports every operation of next to observer. Migrate and Close
// are forwarded when next supports them.
func Instrument(next Adapter, observer Observer) Adapter {
	if observer == nil {
		return next
	}
	return &instrumented{next: next, observer: observer}
}

func (i *instrumented) observe(model, op string, start time.Time, err error) {
	i.observer.ObserveOperation(i.next.ID(), model, op, time.Since(start), err)
}

func (i *instrumented) ID() string { return i.next.ID() }

func (i *instrumented) Create(ctx context.Context, model string, data Record) (Record, error) {
	start := time.Now()
	out, err := i.next.Create(ctx, model, data)
	i.observe(model, "create", start, err)
	return out, err
}

func (i *instrumented) FindOne(ctx context.Context, model string, where []Where, selects ...string) (Record, error) {
	start := time.Now()
	out, err := i.next.FindOne(ctx, model, where, selects...)
	i.observe(model, "find_one", start, err)
	return out, err
}

func (i *instrumented) FindMany(ctx context.Context, model string, q Query) ([]Record, error) {
	start := time.Now()
	out, err := i.next.FindMany(ctx, model, q)
	i.observe(model, "find_many", start, err)
	return out, err
}

func (i *instrumented) Update(ctx context.Context, model string, where []Where, patch Record) (Record, error) {
	start := time.Now()
	out, err := i.next.Update(ctx, model, where, patch)
	i.observe(model, "update", start, err)
	return out, err
}

func (i *instrumented) UpdateMany(ctx context.Context, model string, where []Where, patch Record) (int64, error) {
	start := time.Now()
	n, err := i.next.UpdateMany(ctx, model, where, patch)
	i.observe(model, "update_many", start, err)
	return n, err
}

func (i *instrumented) Delete(ctx context.Context, model string, where []Where) error {
	start := time.Now()
	err := i.next.Delete(ctx, model, where)
	i.observe(model, "delete", start, err)
	return err
}

func (i *instrumented) DeleteMany(ctx context.Context, model string, where []Where) (int64, error) {
	start := time.Now()
	n, err := i.next.DeleteMany(ctx, model, where)
	i.observe(model, "delete_many", start, err)
	return n, err
}

func (i *instrumented) Migrate(ctx context.Context) error {
	m, ok := i.next.(Migrator)
	if !ok {
		return nil
	}
	return m.Migrate(ctx)
}

func (i *instrumented) Close() error {
	c, ok := i.next.(Closer)
	if !ok {
		return nil
	}
	return c.Close()
}
