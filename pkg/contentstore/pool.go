package contentstore

import (
	"context"
	"fmt"

	"github.com/jackc/puddle/v2"
	"github.com/torusai/agentdata/pkg/models"
)

// DefaultMaxConns bounds the number of live content store connections.
const DefaultMaxConns = 4

// Dialer opens a new connection to a content store.
type Dialer func(ctx context.Context) (Writer, error)

// Pool hands out content store connections for the duration of one write.
//
// A connection that fails a write is destroyed instead of being returned, so
// the next write dials afresh. Connections are dialed lazily; creating a pool
// never touches the network.
type Pool struct {
	pool *puddle.Pool[Writer]
}

// NewPool creates a pool of at most maxConns connections created by dial.
func NewPool(dial Dialer, maxConns int32) (*Pool, error) {
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	p, err := puddle.NewPool(&puddle.Config[Writer]{
		Constructor: func(ctx context.Context) (Writer, error) {
			return dial(ctx)
		},
		Destructor: func(w Writer) {
			_ = w.Close()
		},
		MaxSize: maxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("create content store pool: %w", err)
	}
	return &Pool{pool: p}, nil
}

// Write acquires a connection, stores p under key and releases the
// connection. Failing to acquire a connection yields an error wrapping
// ErrUnavailable.
//
// When ctx ends before the writer returns, the connection is taken out of the
// pool and closed, so a writer that ignores its context cannot hold a pool
// slot or block Close.
func (p *Pool) Write(ctx context.Context, key string, proj *models.Projection) (string, error) {
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	w := res.Value()
	type putResult struct {
		hash string
		err  error
	}
	done := make(chan putResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- putResult{err: fmt.Errorf("content store write panicked: %v", r)}
			}
		}()
		hash, err := w.Put(ctx, key, proj)
		done <- putResult{hash: hash, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			res.Destroy()
			return "", r.err
		}
		res.Release()
		return r.hash, nil
	case <-ctx.Done():
		res.Hijack()
		go func() {
			_ = w.Close()
		}()
		return "", fmt.Errorf("content store write: %w", ctx.Err())
	}
}

// Stats reports pool usage.
type Stats struct {
	Total    int32
	Idle     int32
	Acquired int32
	MaxConns int32
}

func (p *Pool) Stats() Stats {
	s := p.pool.Stat()
	return Stats{
		Total:    s.TotalResources(),
		Idle:     s.IdleResources(),
		Acquired: s.AcquiredResources(),
		MaxConns: s.MaxResources(),
	}
}

// Close waits for acquired connections to be returned and closes them all.
// Writes abandoned by their context have already left the pool.
func (p *Pool) Close() {
	p.pool.Close()
}
