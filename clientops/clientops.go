// Package clientops decouples components that need to talk to the connected
// client (permission prompts, native file reads/writes) from the transport
// that actually carries those requests. Callers enqueue an Op and block on
// its result; the transport drains Ops() and resolves each one.
package clientops

import (
	"context"

	"pontoon/errors"
)

// Kind names the recognized outbound operations.
type Kind string

const (
	KindRequestPermission Kind = "request_permission"
	KindReadTextFile      Kind = "read_text_file"
	KindWriteTextFile     Kind = "write_text_file"
)

// PermissionOption is one choice offered to the user.
type PermissionOption struct {
	ID   string `json:"optionId"`
	Name string `json:"name"`
	Kind string `json:"kind"` // allow_always, allow_once, reject_once
}

// DefaultPermissionOptions is the fixed option set used for approval
// requests during a turn.
func DefaultPermissionOptions() []PermissionOption {
	return []PermissionOption{
		{ID: "approved-for-session", Name: "Approve Always", Kind: "allow_always"},
		{ID: "approved", Name: "Approve", Kind: "allow_once"},
		{ID: "abort", Name: "Reject", Kind: "reject_once"},
	}
}

// PermissionRequest presents a pending tool call and a set of options.
type PermissionRequest struct {
	SessionID string
	CallID    string
	Title     string
	ToolKind  string
	Path      string
	Options   []PermissionOption
}

// PermissionOutcome is the client's answer. Cancelled is set when the user
// dismissed the prompt instead of selecting an option.
type PermissionOutcome struct {
	OptionID  string
	Cancelled bool
}

// ReadTextFileRequest asks the client to read a workspace file natively.
// Line is 1-based; zero means from the start. Limit of zero means no client
// side cap.
type ReadTextFileRequest struct {
	SessionID string
	Path      string
	Line      int
	Limit     int
}

// ReadTextFileResult carries the file content returned by the client.
type ReadTextFileResult struct {
	Content string
}

// WriteTextFileRequest asks the client to write a workspace file natively.
type WriteTextFileRequest struct {
	SessionID string
	Path      string
	Content   string
}

// Result is the resolution of one Op. Exactly one payload field matching the
// Op kind is set on success.
type Result struct {
	Permission *PermissionOutcome
	Read       *ReadTextFileResult
	Err        error
}

// Op is one outbound client operation. Construct with the New* helpers.
type Op struct {
	Kind       Kind
	SessionID  string
	Permission *PermissionRequest
	Read       *ReadTextFileRequest
	Write      *WriteTextFileRequest

	reply chan Result
}

// Resolve delivers the result to the waiting caller. Must be called exactly
// once per op.
func (op *Op) Resolve(res Result) {
	op.reply <- res
}

// Queue is the dispatch channel between op issuers and the transport.
// Multiple outstanding ops for the same session are permitted; no ordering
// beyond causal dependency is guaranteed.
type Queue struct {
	ops chan *Op
}

// NewQueue creates a queue. The buffer bounds how many ops can be pending
// before issuers block.
func NewQueue(buffer int) *Queue {
	return &Queue{ops: make(chan *Op, buffer)}
}

// Ops is the transport side: drain it and Resolve every op received.
func (q *Queue) Ops() <-chan *Op { return q.ops }

// Request enqueues an op and waits for its result. A context cancellation
// while waiting yields ClientOpCancelled; transport failures arrive as
// ClientOpFailed in the result's Err.
func (q *Queue) Request(ctx context.Context, op *Op) (Result, error) {
	op.reply = make(chan Result, 1)
	select {
	case q.ops <- op:
	case <-ctx.Done():
		return Result{}, errors.NewKind(errors.KindClientOpCancelled, "client op abandoned before dispatch: %v", ctx.Err())
	}
	select {
	case res := <-op.reply:
		if res.Err != nil {
			return Result{}, errors.WithKind(errors.KindClientOpFailed, res.Err)
		}
		return res, nil
	case <-ctx.Done():
		// The transport may still resolve the op later; the buffered reply
		// channel lets that complete without blocking anyone.
		return Result{}, errors.NewKind(errors.KindClientOpCancelled, "client op abandoned: %v", ctx.Err())
	}
}

// RequestPermission is a convenience wrapper for permission ops.
func (q *Queue) RequestPermission(ctx context.Context, req *PermissionRequest) (*PermissionOutcome, error) {
	if len(req.Options) == 0 {
		req.Options = DefaultPermissionOptions()
	}
	res, err := q.Request(ctx, &Op{Kind: KindRequestPermission, SessionID: req.SessionID, Permission: req})
	if err != nil {
		return nil, err
	}
	return res.Permission, nil
}

// ReadTextFile is a convenience wrapper for native read ops.
func (q *Queue) ReadTextFile(ctx context.Context, req *ReadTextFileRequest) (*ReadTextFileResult, error) {
	res, err := q.Request(ctx, &Op{Kind: KindReadTextFile, SessionID: req.SessionID, Read: req})
	if err != nil {
		return nil, err
	}
	return res.Read, nil
}

// WriteTextFile is a convenience wrapper for native write ops.
func (q *Queue) WriteTextFile(ctx context.Context, req *WriteTextFileRequest) error {
	_, err := q.Request(ctx, &Op{Kind: KindWriteTextFile, SessionID: req.SessionID, Write: req})
	return err
}
