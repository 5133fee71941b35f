package clientops

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pontoon/errors"
)

// serve resolves every op from the queue with fn until the context ends.
func serve(ctx context.Context, q *Queue, fn func(*Op) Result) {
	go func() {
		for {
			select {
			case op := <-q.Ops():
				op.Resolve(fn(op))
			case <-ctx.Done():
				return
			}
		}
	}()
}

func TestPermissionRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewQueue(4)
	serve(ctx, q, func(op *Op) Result {
		require.Equal(t, KindRequestPermission, op.Kind)
		require.Len(t, op.Permission.Options, 3)
		return Result{Permission: &PermissionOutcome{OptionID: "approved"}}
	})

	outcome, err := q.RequestPermission(ctx, &PermissionRequest{SessionID: "sess_1", Title: "Run ls"})
	require.NoError(t, err)
	assert.Equal(t, "approved", outcome.OptionID)
	assert.False(t, outcome.Cancelled)
}

func TestReadRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewQueue(1)
	serve(ctx, q, func(op *Op) Result {
		require.Equal(t, KindReadTextFile, op.Kind)
		assert.Equal(t, "main.go", op.Read.Path)
		return Result{Read: &ReadTextFileResult{Content: "package main\n"}}
	})

	res, err := q.ReadTextFile(ctx, &ReadTextFileRequest{SessionID: "sess_1", Path: "main.go"})
	require.NoError(t, err)
	assert.Equal(t, "package main\n", res.Content)
}

func TestTransportFailureIsClientOpFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewQueue(1)
	serve(ctx, q, func(op *Op) Result {
		return Result{Err: errors.New("client went away")}
	})

	err := q.WriteTextFile(ctx, &WriteTextFileRequest{SessionID: "sess_1", Path: "a.txt", Content: "x"})
	assert.True(t, errors.IsKind(err, errors.KindClientOpFailed))
}

func TestAbandonedOpIsClientOpCancelled(t *testing.T) {
	q := NewQueue(1)
	// Nothing drains the queue; the caller's context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.RequestPermission(ctx, &PermissionRequest{SessionID: "sess_1"})
	assert.True(t, errors.IsKind(err, errors.KindClientOpCancelled))
}

func TestConcurrentOutstandingOps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewQueue(8)
	serve(ctx, q, func(op *Op) Result {
		return Result{Read: &ReadTextFileResult{Content: op.Read.Path}}
	})

	done := make(chan string, 2)
	for _, path := range []string{"a.txt", "b.txt"} {
		go func(p string) {
			res, err := q.ReadTextFile(ctx, &ReadTextFileRequest{SessionID: "sess_1", Path: p})
			require.NoError(t, err)
			done <- res.Content
		}(path)
	}
	got := map[string]bool{<-done: true, <-done: true}
	assert.True(t, got["a.txt"] && got["b.txt"])
}
