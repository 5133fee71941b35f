// Package relay exposes the client's filesystem to model backends. It runs a
// streamable-HTTP MCP server on loopback; each conversation connects as an
// MCP client and passes its session token with every call so file operations
// are routed and policed per session.
package relay

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"pontoon/clientops"
	"pontoon/config"
	"pontoon/errors"
	"pontoon/session"
)

// Edit is one find/replace operation. Find must occur exactly once in the
// current file content.
type Edit struct {
	Find    string `json:"find"`
	Replace string `json:"replace"`
}

// Service answers filesystem tool calls on behalf of sessions. Reads and
// writes go through the connected client when it advertises the matching
// capability, and fall back to the agent's own disk otherwise.
type Service struct {
	store *session.Store
	queue *clientops.Queue
	disk  *localDisk

	server *mcp.Server
	http   *http.Server
	url    string
}

func New(store *session.Store, queue *clientops.Queue, access config.FilesystemAccess) *Service {
	s := &Service{
		store: store,
		queue: queue,
		disk:  &localDisk{access: access},
	}
	s.server = mcp.NewServer(&mcp.Implementation{Name: "pontoon-fs", Version: "0.1.0"}, nil)
	s.registerTools()
	return s
}

// Start binds the loopback listener and begins serving MCP over streamable
// HTTP. The effective URL is available from URL afterwards.
func (s *Service) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "relay listen on %s", addr)
	}
	s.url = fmt.Sprintf("http://%s", ln.Addr().String())
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.server }, nil)
	s.http = &http.Server{Handler: handler}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			// The process is shutting down or the listener failed; conversations
			// will surface the broken connection on their next call.
			_ = err
		}
	}()
	return nil
}

// URL returns the base address conversations should connect to. Empty until
// Start succeeds.
func (s *Service) URL() string { return s.url }

func (s *Service) Close() error {
	if s.http == nil {
		return nil
	}
	return s.http.Close()
}

// ReadTextFile returns one page of the file at path for the session owning
// relaySession. startLine is 1-based; maxLines of zero means a full page.
func (s *Service) ReadTextFile(ctx context.Context, relaySession, path string, startLine, maxLines int) (*ReadResult, error) {
	sess, err := s.store.ResolveRelaySession(relaySession)
	if err != nil {
		return nil, err
	}
	if sess.Capabilities.ReadTextFile {
		return s.readViaClient(ctx, sess.ID, path, startLine, maxLines)
	}
	content, err := s.disk.readFile(path)
	if err != nil {
		return nil, err
	}
	return paginate(content, startLine, maxLines), nil
}

// readViaClient fetches a window of limit+1 lines so the extra line reveals
// whether more content follows, then trims the window to page bounds.
func (s *Service) readViaClient(ctx context.Context, sessionID, path string, startLine, maxLines int) (*ReadResult, error) {
	limit := clampPageLimit(maxLines)
	if startLine < 1 {
		startLine = 1
	}
	res, err := s.queue.ReadTextFile(ctx, &clientops.ReadTextFileRequest{
		SessionID: sessionID,
		Path:      path,
		Line:      startLine,
		Limit:     limit + 1,
	})
	if err != nil {
		return nil, err
	}
	page := paginate(res.Content, 1, limit)
	if page.HasMore {
		page.NextLine = startLine + page.NextLine - 1
	}
	// Totals are unknowable through a windowed client read.
	page.TotalLines = 0
	page.TotalBytes = 0
	return page, nil
}

// readAll collects every page of a file. Edits operate on the full content.
func (s *Service) readAll(ctx context.Context, relaySession, path string) (string, error) {
	var sb strings.Builder
	line := 1
	for {
		page, err := s.ReadTextFile(ctx, relaySession, path, line, 0)
		if err != nil {
			return "", err
		}
		sb.WriteString(page.Content)
		if !page.HasMore {
			return sb.String(), nil
		}
		line = page.NextLine
	}
}

// WriteTextFile replaces the file's content. Rejected in read-only sessions.
func (s *Service) WriteTextFile(ctx context.Context, relaySession, path, content string) error {
	sess, err := s.store.ResolveRelaySession(relaySession)
	if err != nil {
		return err
	}
	if s.store.IsReadOnly(sess.ID) {
		return errors.NewKind(errors.KindReadOnlySession, "session is read-only; refusing to write '%s'", path)
	}
	if sess.Capabilities.WriteTextFile {
		return s.queue.WriteTextFile(ctx, &clientops.WriteTextFileRequest{
			SessionID: sess.ID,
			Path:      path,
			Content:   content,
		})
	}
	return s.disk.writeFile(path, content)
}

// EditTextFile applies a single exactly-once find/replace to the file.
func (s *Service) EditTextFile(ctx context.Context, relaySession, path string, edit Edit) error {
	return s.MultiEditTextFile(ctx, relaySession, path, []Edit{edit})
}

// MultiEditTextFile applies edits in order against in-memory content and
// writes the result once. If any edit fails to match, nothing is written.
func (s *Service) MultiEditTextFile(ctx context.Context, relaySession, path string, edits []Edit) error {
	sess, err := s.store.ResolveRelaySession(relaySession)
	if err != nil {
		return err
	}
	if s.store.IsReadOnly(sess.ID) {
		return errors.NewKind(errors.KindReadOnlySession, "session is read-only; refusing to edit '%s'", path)
	}
	if len(edits) == 0 {
		return errors.New("no edits supplied for '%s'", path)
	}
	content, err := s.readAll(ctx, relaySession, path)
	if err != nil {
		return err
	}
	for i, e := range edits {
		updated, err := applyEdit(content, e)
		if err != nil {
			return errors.Wrapf(err, "edit %d of %d in '%s'", i+1, len(edits), path)
		}
		content = updated
	}
	return s.WriteTextFile(ctx, relaySession, path, content)
}

func applyEdit(content string, e Edit) (string, error) {
	if e.Find == "" {
		return "", errors.NewKind(errors.KindNoMatch, "empty search string")
	}
	switch n := strings.Count(content, e.Find); n {
	case 0:
		return "", errors.NewKind(errors.KindNoMatch, "search string not found")
	case 1:
		return strings.Replace(content, e.Find, e.Replace, 1), nil
	default:
		return "", errors.NewKind(errors.KindNoMatch, "search string occurs %d times; it must be unique", n)
	}
}
