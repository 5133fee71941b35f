package relay

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool argument shapes. Every call carries the session correlation token the
// conversation was configured with; the relay resolves it back to a session.

type readArgs struct {
	Session  string `json:"session"`
	Path     string `json:"path"`
	Line     int    `json:"line,omitempty"`
	MaxLines int    `json:"maxLines,omitempty"`
}

type writeArgs struct {
	Session string `json:"session"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

type editArgs struct {
	Session string `json:"session"`
	Path    string `json:"path"`
	Find    string `json:"find"`
	Replace string `json:"replace"`
}

type multiEditArgs struct {
	Session string `json:"session"`
	Path    string `json:"path"`
	Edits   []Edit `json:"edits"`
}

func (s *Service) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "read_text_file",
		Description: "Read a page of a text file. Args: path (string), line (1-based start, optional), maxLines (optional). Returns content plus hasMore/nextLine when the file continues.",
	}, s.handleRead)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "write_text_file",
		Description: "Replace the entire content of a text file. Args: path (string), content (string).",
	}, s.handleWrite)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "edit_text_file",
		Description: "Replace one unique occurrence of a string in a text file. Args: path, find, replace. Fails if the string is absent or ambiguous.",
	}, s.handleEdit)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "multi_edit_text_file",
		Description: "Apply an ordered list of unique find/replace edits to a text file. All edits apply or none do. Args: path, edits ([{find, replace}]).",
	}, s.handleMultiEdit)
}

func textResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(err error) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

func (s *Service) handleRead(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[readArgs]) (*mcp.CallToolResultFor[any], error) {
	a := params.Arguments
	page, err := s.ReadTextFile(ctx, a.Session, a.Path, a.Line, a.MaxLines)
	if err != nil {
		return errorResult(err), nil
	}
	payload, err := json.Marshal(page)
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(string(payload)), nil
}

func (s *Service) handleWrite(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[writeArgs]) (*mcp.CallToolResultFor[any], error) {
	a := params.Arguments
	if err := s.WriteTextFile(ctx, a.Session, a.Path, a.Content); err != nil {
		return errorResult(err), nil
	}
	return textResult("ok"), nil
}

func (s *Service) handleEdit(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[editArgs]) (*mcp.CallToolResultFor[any], error) {
	a := params.Arguments
	if err := s.EditTextFile(ctx, a.Session, a.Path, Edit{Find: a.Find, Replace: a.Replace}); err != nil {
		return errorResult(err), nil
	}
	return textResult("ok"), nil
}

func (s *Service) handleMultiEdit(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[multiEditArgs]) (*mcp.CallToolResultFor[any], error) {
	a := params.Arguments
	if err := s.MultiEditTextFile(ctx, a.Session, a.Path, a.Edits); err != nil {
		return errorResult(err), nil
	}
	return textResult("ok"), nil
}
