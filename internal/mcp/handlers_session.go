// handlers_session.go contains handlers for session lifecycle tools:
// Login, Logout, DropSession, SetSessionType, GetConnectionInfo,
// ExportSession, ImportSession.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fr0ster/mcp-abap-connection/pkg/adt"
)

// connectionInfo is the GetConnectionInfo payload.
type connectionInfo struct {
	BaseURL      string   `json:"base_url"`
	SAPClient    string   `json:"sap_client"`
	SAPLanguage  string   `json:"sap_language"`
	SessionID    string   `json:"session_id"`
	SessionMode  string   `json:"session_mode"`
	AuthKind     string   `json:"auth_kind"`
	HasCSRFToken bool     `json:"has_csrf_token"`
	CookieNames  []string `json:"cookie_names"`
}

func (s *Server) handleLogin(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.client.Connect(ctx); err != nil {
		return wrapErr("Login", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Logged in to %s (client %s, session %s)",
		s.client.Config().BaseURL, s.client.Config().Client, s.client.SessionID())), nil
}

func (s *Server) handleLogout(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.client.Logout(ctx)
	return mcp.NewToolResultText("Logged out, session artifacts cleared"), nil
}

func (s *Server) handleDropSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.client.DropSession(ctx); err != nil {
		return wrapErr("DropSession", err), nil
	}
	return mcp.NewToolResultText("Stateful context released, session is now stateless"), nil
}

func (s *Server) handleSetSessionType(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments
	sessionType, errResult := requireStr(args, "session_type")
	if errResult != nil {
		return errResult, nil
	}

	switch adt.SessionType(sessionType) {
	case adt.SessionStateless, adt.SessionStateful:
		s.client.SetSessionType(adt.SessionType(sessionType))
	default:
		return newToolResultError(fmt.Sprintf("invalid session_type %q: must be stateless or stateful", sessionType)), nil
	}
	return mcp.NewToolResultText("Session type set to " + sessionType), nil
}

func (s *Server) handleGetConnectionInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg := s.client.Config()
	info := connectionInfo{
		BaseURL:      cfg.BaseURL,
		SAPClient:    cfg.Client,
		SAPLanguage:  cfg.Language,
		SessionID:    s.client.SessionID(),
		SessionMode:  string(s.client.SessionMode()),
		AuthKind:     string(cfg.AuthKind),
		HasCSRFToken: s.client.HasCSRFToken(),
		CookieNames:  s.client.CookieNames(),
	}
	return newToolResultJSON(info), nil
}

func (s *Server) handleExportSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state := s.client.SessionState()
	if state == nil {
		return newToolResultError("no session artifacts to export; run Login first"), nil
	}
	return newToolResultJSON(state), nil
}

func (s *Server) handleImportSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments
	raw, errResult := requireStr(args, "state")
	if errResult != nil {
		return errResult, nil
	}

	var state adt.SessionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return newToolResultError(fmt.Sprintf("invalid session state: %v", err)), nil
	}
	s.client.SetSessionState(&state)
	return mcp.NewToolResultText(fmt.Sprintf("Session state imported (%d cookies)", len(state.CookieMap))), nil
}
