// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes one user's board as tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/noteservice"
)

const boardURI = "pinboard://board"

var errNoUser = errors.New("no user configured: set auth.local_user or pass --user")

// Server wraps the MCP server with board tools acting as user.
type Server struct {
	mcp  *server.MCPServer
	svc  *noteservice.Service
	user string
}

// New creates a new MCP server with all board tools registered.
func New(svc *noteservice.Service, user, version string) *Server {
	s := &Server{svc: svc, user: user}

	s.mcp = server.NewMCPServer(
		"Pinboard",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_board",
		mcp.WithDescription("Return every list with its notes, both in display order, as JSON. "+
			"List and note ids from this output address the other tools."),
	), s.getBoard)

	s.mcp.AddTool(mcp.NewTool("add_list",
		mcp.WithDescription("Append a new list to the board."),
		mcp.WithString("name", mcp.Description("List name (defaults to \"Untitled N\")")),
	), s.addList)

	s.mcp.AddTool(mcp.NewTool("add_note",
		mcp.WithDescription("Append a note to the end of a list."),
		mcp.WithString("list_id", mcp.Required(), mcp.Description("Id of the target list")),
		mcp.WithString("content", mcp.Description("Note text (defaults to the configured placeholder)")),
	), s.addNote)

	s.mcp.AddTool(mcp.NewTool("move_note",
		mcp.WithDescription("Move a note within its list or into another list. "+
			"A note moved across lists gets a new id, returned in the result."),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("Id of the note to move")),
		mcp.WithString("from_list_id", mcp.Required(), mcp.Description("Id of the list holding the note")),
		mcp.WithString("to_list_id", mcp.Required(), mcp.Description("Id of the destination list")),
		mcp.WithNumber("index", mcp.Description("Destination position; omitted or out of range appends")),
	), s.moveNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note. Deleting a note that is already gone succeeds."),
		mcp.WithString("list_id", mcp.Required(), mcp.Description("Id of the list holding the note")),
		mcp.WithString("note_id", mcp.Required(), mcp.Description("Id of the note")),
	), s.deleteNote)

	s.mcp.AddResource(
		mcp.NewResource(boardURI, "Board export",
			mcp.WithResourceDescription("The whole board as a portable YAML document."),
			mcp.WithMIMEType("application/yaml"),
		),
		s.readBoardResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) getBoard(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.user == "" {
		return mcp.NewToolResultError(errNoUser.Error()), nil
	}
	b, err := s.svc.Board(ctx, s.user)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(b)
}

func (s *Server) addList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.user == "" {
		return mcp.NewToolResultError(errNoUser.Error()), nil
	}
	l, err := s.svc.AddList(ctx, s.user, req.GetString("name", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(l)
}

func (s *Server) addNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.user == "" {
		return mcp.NewToolResultError(errNoUser.Error()), nil
	}
	listID, err := req.RequireString("list_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.AddNote(ctx, s.user, listID, req.GetString("content", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(n)
}

func (s *Server) moveNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.user == "" {
		return mcp.NewToolResultError(errNoUser.Error()), nil
	}
	noteID, err := req.RequireString("note_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	from, err := req.RequireString("from_list_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := req.RequireString("to_list_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, err := s.svc.MoveNote(ctx, s.user, noteID, from, to, req.GetInt("index", -1))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(out)
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.user == "" {
		return mcp.NewToolResultError(errNoUser.Error()), nil
	}
	listID, err := req.RequireString("list_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	noteID, err := req.RequireString("note_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteNote(ctx, s.user, listID, noteID); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", noteID)), nil
}

func (s *Server) readBoardResource(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.user == "" {
		return nil, errNoUser
	}
	data, _, err := s.svc.Export(ctx, s.user)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      boardURI,
			MIMEType: "application/yaml",
			Text:     string(data),
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError reports err to the model. Not-found errors get a hint to
// refresh ids.
func toolError(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(err.Error() + " (call get_board for current ids)")
	}
	return mcp.NewToolResultError(err.Error())
}
