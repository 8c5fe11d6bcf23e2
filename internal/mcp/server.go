// Package mcp provides the MCP server exposing ADT connection management
// tools over stdio.
package mcp

import (
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/fr0ster/mcp-abap-connection/pkg/adt"
)

// Server wraps the MCP server with the ADT connection it manages.
type Server struct {
	mcpServer *server.MCPServer
	client    *adt.Client
	config    *Config
}

// Config holds MCP server configuration.
type Config struct {
	// SAP connection settings
	BaseURL  string
	Client   string
	Language string

	// Basic authentication (on-premise systems)
	Username string
	Password string

	// Bearer authentication (cloud systems), optionally refreshable via the
	// UAA refresh_token grant
	Token           string
	RefreshToken    string
	UAAURL          string
	UAAClientID     string
	UAAClientSecret string

	// Session behavior
	Stateful           bool
	InsecureSkipVerify bool
	Timeout            time.Duration

	// Logger receives engine diagnostics
	Logger adt.Logger
}

// NewServer creates an MCP server managing one ADT connection.
func NewServer(cfg *Config) (*Server, error) {
	var opts []adt.Option
	if cfg.Client != "" {
		opts = append(opts, adt.WithClient(cfg.Client))
	}
	if cfg.Language != "" {
		opts = append(opts, adt.WithLanguage(cfg.Language))
	}
	switch {
	case cfg.Username != "":
		opts = append(opts, adt.WithBasicAuth(cfg.Username, cfg.Password))
	case cfg.Token != "":
		opts = append(opts, adt.WithBearerToken(cfg.Token))
	}
	if cfg.RefreshToken != "" {
		opts = append(opts, adt.WithRefreshCredentials(cfg.RefreshToken, cfg.UAAURL, cfg.UAAClientID, cfg.UAAClientSecret))
	}
	if cfg.Stateful {
		opts = append(opts, adt.WithStateful())
	}
	if cfg.InsecureSkipVerify {
		opts = append(opts, adt.WithInsecureSkipVerify())
	}
	if cfg.Timeout > 0 {
		opts = append(opts, adt.WithTimeout(cfg.Timeout))
	}
	if cfg.Logger != nil {
		opts = append(opts, adt.WithLogger(cfg.Logger))
	}

	client, err := adt.NewClient(cfg.BaseURL, opts...)
	if err != nil {
		return nil, err
	}
	return NewServerWithClient(cfg, client), nil
}

// NewServerWithClient creates an MCP server around an existing ADT client.
// This is useful for testing.
func NewServerWithClient(cfg *Config, client *adt.Client) *Server {
	mcpServer := server.NewMCPServer(
		"mcp-abap-connection",
		"1.0.0",
		server.WithResourceCapabilities(true, true),
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		client:    client,
		config:    cfg,
	}
	s.registerTools()
	return s
}

// Client returns the managed ADT connection.
func (s *Server) Client() *adt.Client {
	return s.client
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// registerTools registers the connection management tools.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("Login",
		mcp.WithDescription("Verify the connection and warm up session artifacts (CSRF token, session cookies)"),
	), s.handleLogin)

	s.mcpServer.AddTool(mcp.NewTool("Logout",
		mcp.WithDescription("Terminate the server-side session and clear local session artifacts"),
	), s.handleLogout)

	s.mcpServer.AddTool(mcp.NewTool("DropSession",
		mcp.WithDescription("Release the server-side stateful context (locks, open transactions) while keeping credentials and session id"),
	), s.handleDropSession)

	s.mcpServer.AddTool(mcp.NewTool("SetSessionType",
		mcp.WithDescription("Switch between stateless and stateful session modes"),
		mcp.WithString("session_type",
			mcp.Required(),
			mcp.Description("Session type: stateless or stateful"),
		),
	), s.handleSetSessionType)

	s.mcpServer.AddTool(mcp.NewTool("GetConnectionInfo",
		mcp.WithDescription("Report session id, session mode, authentication scheme and cached session artifacts"),
	), s.handleGetConnectionInfo)

	s.mcpServer.AddTool(mcp.NewTool("ExportSession",
		mcp.WithDescription("Export the session snapshot (cookies and CSRF token) as JSON for reuse by another connection"),
	), s.handleExportSession)

	s.mcpServer.AddTool(mcp.NewTool("ImportSession",
		mcp.WithDescription("Import a session snapshot previously produced by ExportSession"),
		mcp.WithString("state",
			mcp.Required(),
			mcp.Description("Session snapshot JSON from ExportSession"),
		),
	), s.handleImportSession)

	s.mcpServer.AddTool(mcp.NewTool("AdtRequest",
		mcp.WithDescription("Perform a raw ADT request through the session pipeline (CSRF handling, cookies and auth recovery included)"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("ADT path (e.g., /sap/bc/adt/programs/programs/ZTEST)"),
		),
		mcp.WithString("method",
			mcp.Description("HTTP method: GET (default), POST, PUT, DELETE, HEAD"),
		),
		mcp.WithString("body",
			mcp.Description("Request body for POST/PUT"),
		),
		mcp.WithString("content_type",
			mcp.Description("Content-Type header for the body"),
		),
		mcp.WithString("accept",
			mcp.Description("Accept header (default application/xml)"),
		),
		mcp.WithString("query",
			mcp.Description("URL query string (e.g., \"version=active&withAbapSource=true\")"),
		),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("Per-request timeout in seconds (overrides the connection default)"),
		),
	), s.handleAdtRequest)

	s.mcpServer.AddTool(mcp.NewTool("GetDiscovery",
		mcp.WithDescription("Fetch the ADT discovery document describing the services the system exposes"),
		mcp.WithBoolean("parsed",
			mcp.Description("Return the parsed service catalog as JSON instead of the raw XML document"),
		),
	), s.handleGetDiscovery)
}
