package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fr0ster/mcp-abap-connection/pkg/adt"
)

// stubDoer lets each test script the HTTP exchange. Every call records the
// request and mints a fresh response.
type stubDoer struct {
	mu       sync.Mutex
	handler  func(req *http.Request) (*http.Response, error)
	requests []*http.Request
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	h := d.handler
	d.mu.Unlock()
	return h(req)
}

// okResponse builds a 200 response carrying a CSRF token and a session
// cookie, the shape a healthy ADT endpoint answers with.
func okResponse(body string) *http.Response {
	header := http.Header{}
	header.Set("x-csrf-token", "test-token")
	header.Set("Content-Type", "application/xml")
	header.Add("Set-Cookie", "SAP_SESSIONID_NPL_001=sess1; path=/; HttpOnly")
	return &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newStubDoer(body string) *stubDoer {
	return &stubDoer{handler: func(req *http.Request) (*http.Response, error) {
		return okResponse(body), nil
	}}
}

// newTestServer wires a Server around a stubbed transport.
func newTestServer(t *testing.T, doer adt.HTTPDoer) *Server {
	t.Helper()
	cfg := adt.NewConfig("https://sap.example.com:44300",
		adt.WithBasicAuth("testuser", "testpass"))
	transport, err := adt.NewTransportWithClient(cfg, doer)
	if err != nil {
		t.Fatalf("NewTransportWithClient failed: %v", err)
	}
	client := adt.NewClientWithTransport(cfg, transport)
	return NewServerWithClient(&Config{BaseURL: cfg.BaseURL}, client)
}

// newRequest builds a CallToolRequest with the given arguments.
func newRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

// getResultText extracts the text content from a tool result.
func getResultText(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	if text, ok := result.Content[0].(mcp.TextContent); ok {
		return text.Text
	}
	return ""
}

func TestNewToolResultError(t *testing.T) {
	result := newToolResultError("test error message")

	if result == nil {
		t.Fatal("newToolResultError returned nil")
	}

	if !result.IsError {
		t.Error("IsError should be true")
	}

	if len(result.Content) != 1 {
		t.Fatalf("Expected 1 content item, got %d", len(result.Content))
	}

	textContent, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Content should be TextContent, got %T", result.Content[0])
	}

	if textContent.Text != "test error message" {
		t.Errorf("Text = %v, want 'test error message'", textContent.Text)
	}
}

func TestNewServer(t *testing.T) {
	cfg := &Config{
		BaseURL:  "https://sap.example.com:44300",
		Username: "testuser",
		Password: "testpass",
		Client:   "001",
		Language: "EN",
	}

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if server.mcpServer == nil {
		t.Error("MCP server should not be nil")
	}
	if server.Client() == nil {
		t.Error("ADT client should not be nil")
	}
	if server.Client().Config().AuthKind != adt.AuthBasic {
		t.Errorf("AuthKind = %v, want basic", server.Client().Config().AuthKind)
	}
}

func TestNewServer_BearerConfig(t *testing.T) {
	cfg := &Config{
		BaseURL:      "https://abap.cloud.example.com",
		Token:        "jwt-token",
		RefreshToken: "refresh-token",
		UAAURL:       "https://uaa.example.com",
		UAAClientID:  "client-id",
	}

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if got := server.Client().Config().AuthKind; got != adt.AuthBearer {
		t.Errorf("AuthKind = %v, want bearer", got)
	}
}

func TestNewServer_RejectsMissingCredentials(t *testing.T) {
	cfg := &Config{BaseURL: "https://sap.example.com:44300"}

	if _, err := NewServer(cfg); err == nil {
		t.Fatal("expected config error, got nil")
	}

	var cfgErr *adt.ConfigError
	if _, err := NewServer(cfg); !errors.As(err, &cfgErr) {
		t.Errorf("error = %T, want *adt.ConfigError", err)
	}
}

func TestHandleLogin(t *testing.T) {
	doer := newStubDoer("<discovery/>")
	server := newTestServer(t, doer)

	result, err := server.handleLogin(context.Background(), newRequest(nil))
	if err != nil {
		t.Fatalf("handleLogin returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", getResultText(result))
	}
	if text := getResultText(result); !strings.Contains(text, "Logged in") {
		t.Errorf("result = %q, want login confirmation", text)
	}
	if !server.Client().HasCSRFToken() {
		t.Error("login should cache the CSRF token")
	}
}

func TestHandleLogout(t *testing.T) {
	doer := newStubDoer("")
	server := newTestServer(t, doer)

	if _, err := server.handleLogin(context.Background(), newRequest(nil)); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	result, err := server.handleLogout(context.Background(), newRequest(nil))
	if err != nil {
		t.Fatalf("handleLogout returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", getResultText(result))
	}
	if server.Client().HasCSRFToken() {
		t.Error("logout should clear the CSRF token")
	}
	if names := server.Client().CookieNames(); len(names) != 0 {
		t.Errorf("logout should empty the cookie jar, still has %v", names)
	}
}

func TestHandleDropSession(t *testing.T) {
	doer := newStubDoer("<discovery/>")
	server := newTestServer(t, doer)
	server.Client().SetSessionType(adt.SessionStateful)

	result, err := server.handleDropSession(context.Background(), newRequest(nil))
	if err != nil {
		t.Fatalf("handleDropSession returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", getResultText(result))
	}
	if mode := server.Client().SessionMode(); mode != adt.SessionStateless {
		t.Errorf("session mode = %v, want stateless", mode)
	}
}

func TestHandleSetSessionType(t *testing.T) {
	server := newTestServer(t, newStubDoer(""))

	result, err := server.handleSetSessionType(context.Background(),
		newRequest(map[string]any{"session_type": "stateful"}))
	if err != nil {
		t.Fatalf("handleSetSessionType returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", getResultText(result))
	}
	if mode := server.Client().SessionMode(); mode != adt.SessionStateful {
		t.Errorf("session mode = %v, want stateful", mode)
	}
}

func TestHandleSetSessionType_Invalid(t *testing.T) {
	server := newTestServer(t, newStubDoer(""))

	result, _ := server.handleSetSessionType(context.Background(),
		newRequest(map[string]any{"session_type": "sticky"}))
	if !result.IsError {
		t.Fatal("expected error result for invalid session type")
	}
	if text := getResultText(result); !strings.Contains(text, "invalid session_type") {
		t.Errorf("result = %q, want invalid session_type message", text)
	}

	result, _ = server.handleSetSessionType(context.Background(), newRequest(nil))
	if !result.IsError {
		t.Fatal("expected error result for missing session type")
	}
}

func TestHandleGetConnectionInfo(t *testing.T) {
	server := newTestServer(t, newStubDoer(""))

	result, err := server.handleGetConnectionInfo(context.Background(), newRequest(nil))
	if err != nil {
		t.Fatalf("handleGetConnectionInfo returned error: %v", err)
	}

	var info connectionInfo
	if err := json.Unmarshal([]byte(getResultText(result)), &info); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if info.BaseURL != "https://sap.example.com:44300" {
		t.Errorf("base_url = %v", info.BaseURL)
	}
	if info.SAPClient != "001" {
		t.Errorf("sap_client = %v, want 001", info.SAPClient)
	}
	if info.AuthKind != "basic" {
		t.Errorf("auth_kind = %v, want basic", info.AuthKind)
	}
	if info.SessionMode != "stateless" {
		t.Errorf("session_mode = %v, want stateless", info.SessionMode)
	}
	if info.SessionID == "" {
		t.Error("session_id should not be empty")
	}
	if info.HasCSRFToken {
		t.Error("has_csrf_token should be false before login")
	}
}

func TestHandleExportSession_Empty(t *testing.T) {
	server := newTestServer(t, newStubDoer(""))

	result, _ := server.handleExportSession(context.Background(), newRequest(nil))
	if !result.IsError {
		t.Fatal("expected error result for empty session")
	}
	if text := getResultText(result); !strings.Contains(text, "no session artifacts") {
		t.Errorf("result = %q, want no-artifacts message", text)
	}
}

func TestHandleImportExportRoundTrip(t *testing.T) {
	server := newTestServer(t, newStubDoer(""))

	snapshot := `{"cookies":"SAP_SESSIONID_NPL_001=sess1; sap-usercontext=sap-client=001","csrfToken":"tok-1","cookieMap":{"SAP_SESSIONID_NPL_001":"sess1","sap-usercontext":"sap-client=001"}}`
	result, err := server.handleImportSession(context.Background(),
		newRequest(map[string]any{"state": snapshot}))
	if err != nil {
		t.Fatalf("handleImportSession returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", getResultText(result))
	}

	result, _ = server.handleExportSession(context.Background(), newRequest(nil))
	if result.IsError {
		t.Fatalf("export failed: %s", getResultText(result))
	}

	var state adt.SessionState
	if err := json.Unmarshal([]byte(getResultText(result)), &state); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if state.Cookies != "SAP_SESSIONID_NPL_001=sess1; sap-usercontext=sap-client=001" {
		t.Errorf("cookies = %q", state.Cookies)
	}
	if state.CSRFToken != "tok-1" {
		t.Errorf("csrfToken = %q, want tok-1", state.CSRFToken)
	}
}

func TestHandleImportSession_InvalidJSON(t *testing.T) {
	server := newTestServer(t, newStubDoer(""))

	result, _ := server.handleImportSession(context.Background(),
		newRequest(map[string]any{"state": "{not json"}))
	if !result.IsError {
		t.Fatal("expected error result for malformed state")
	}
	if text := getResultText(result); !strings.Contains(text, "invalid session state") {
		t.Errorf("result = %q, want invalid-state message", text)
	}
}

func TestHandleAdtRequest(t *testing.T) {
	doer := newStubDoer("<program/>")
	server := newTestServer(t, doer)

	result, err := server.handleAdtRequest(context.Background(), newRequest(map[string]any{
		"path":  "/sap/bc/adt/programs/programs/ZTEST",
		"query": "version=active&withAbapSource=true",
	}))
	if err != nil {
		t.Fatalf("handleAdtRequest returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", getResultText(result))
	}

	var resp adtResponse
	if err := json.Unmarshal([]byte(getResultText(result)), &resp); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status_code = %d, want 200", resp.StatusCode)
	}
	if resp.Body != "<program/>" {
		t.Errorf("body = %q, want <program/>", resp.Body)
	}

	doer.mu.Lock()
	sent := doer.requests[len(doer.requests)-1]
	doer.mu.Unlock()
	if got := sent.URL.Query().Get("version"); got != "active" {
		t.Errorf("query version = %q, want active", got)
	}
	if got := sent.URL.Query().Get("sap-client"); got != "001" {
		t.Errorf("query sap-client = %q, want 001", got)
	}
}

func TestHandleAdtRequest_Validation(t *testing.T) {
	server := newTestServer(t, newStubDoer(""))

	result, _ := server.handleAdtRequest(context.Background(), newRequest(nil))
	if !result.IsError {
		t.Fatal("expected error result for missing path")
	}
	if text := getResultText(result); !strings.Contains(text, "path is required") {
		t.Errorf("result = %q, want path-required message", text)
	}

	result, _ = server.handleAdtRequest(context.Background(), newRequest(map[string]any{
		"path":   "/sap/bc/adt/discovery",
		"method": "PATCH",
	}))
	if !result.IsError {
		t.Fatal("expected error result for unsupported method")
	}
	if text := getResultText(result); !strings.Contains(text, "unsupported method") {
		t.Errorf("result = %q, want unsupported-method message", text)
	}

	result, _ = server.handleAdtRequest(context.Background(), newRequest(map[string]any{
		"path":  "/sap/bc/adt/discovery",
		"query": "bad=%zz",
	}))
	if !result.IsError {
		t.Fatal("expected error result for malformed query")
	}
}

func TestHandleGetDiscovery(t *testing.T) {
	doer := newStubDoer(`<app:service xmlns:app="http://www.w3.org/2007/app"/>`)
	server := newTestServer(t, doer)

	result, err := server.handleGetDiscovery(context.Background(), newRequest(nil))
	if err != nil {
		t.Fatalf("handleGetDiscovery returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", getResultText(result))
	}
	if text := getResultText(result); !strings.Contains(text, "app:service") {
		t.Errorf("result = %q, want discovery document", text)
	}

	doer.mu.Lock()
	sent := doer.requests[len(doer.requests)-1]
	doer.mu.Unlock()
	if got := sent.Header.Get("Accept"); !strings.Contains(got, "atomsvc") {
		t.Errorf("Accept = %q, want atomsvc media type", got)
	}
}

func TestHandleGetDiscovery_Parsed(t *testing.T) {
	doc := `<?xml version="1.0"?>
<app:service xmlns:app="http://www.w3.org/2007/app" xmlns:atom="http://www.w3.org/2005/Atom">
  <app:workspace>
    <atom:title>Core</atom:title>
    <app:collection href="/sap/bc/adt/core/discovery"><atom:title>Discovery</atom:title></app:collection>
  </app:workspace>
</app:service>`
	server := newTestServer(t, newStubDoer(doc))

	result, err := server.handleGetDiscovery(context.Background(),
		newRequest(map[string]any{"parsed": true}))
	if err != nil {
		t.Fatalf("handleGetDiscovery returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", getResultText(result))
	}

	var catalog adt.ServiceCatalog
	if err := json.Unmarshal([]byte(getResultText(result)), &catalog); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if len(catalog.Workspaces) != 1 {
		t.Fatalf("got %d workspaces, want 1", len(catalog.Workspaces))
	}
	if catalog.Workspaces[0].Collections[0].Href != "/sap/bc/adt/core/discovery" {
		t.Errorf("href = %q", catalog.Workspaces[0].Collections[0].Href)
	}
}

// TestAllHandlersAreRegistered verifies that every handler method defined in
// handlers_*.go is wired up in registerTools. This prevents dead code where
// handlers are written but never exposed as tools.
func TestAllHandlersAreRegistered(t *testing.T) {
	pkgDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}

	// Collect all handler definitions from handlers_*.go files
	definedHandlers := make(map[string]string) // handler name -> source file
	handlerFiles, _ := filepath.Glob(filepath.Join(pkgDir, "handlers_*.go"))

	fset := token.NewFileSet()
	for _, file := range handlerFiles {
		node, parseErr := parser.ParseFile(fset, file, nil, 0)
		if parseErr != nil {
			t.Fatalf("Failed to parse %s: %v", file, parseErr)
		}

		for _, decl := range node.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv == nil {
				continue
			}
			if len(fn.Recv.List) != 1 {
				continue
			}
			starExpr, ok := fn.Recv.List[0].Type.(*ast.StarExpr)
			if !ok {
				continue
			}
			ident, ok := starExpr.X.(*ast.Ident)
			if !ok || ident.Name != "Server" {
				continue
			}
			if strings.HasPrefix(fn.Name.Name, "handle") {
				definedHandlers[fn.Name.Name] = filepath.Base(file)
			}
		}
	}

	// Collect all handler references from server.go, where registerTools
	// passes them to AddTool
	calledHandlers := make(map[string]bool)
	serverFile := filepath.Join(pkgDir, "server.go")

	serverNode, parseErr := parser.ParseFile(fset, serverFile, nil, 0)
	if parseErr != nil {
		t.Fatalf("Failed to parse server.go: %v", parseErr)
	}

	ast.Inspect(serverNode, func(n ast.Node) bool {
		if sel, ok := n.(*ast.SelectorExpr); ok {
			if strings.HasPrefix(sel.Sel.Name, "handle") {
				calledHandlers[sel.Sel.Name] = true
			}
		}
		return true
	})

	var unregistered []string
	for handler, sourceFile := range definedHandlers {
		if !calledHandlers[handler] {
			unregistered = append(unregistered, handler+" ("+sourceFile+")")
		}
	}

	if len(unregistered) > 0 {
		t.Errorf("Found %d handler(s) that are defined but never registered:\n  - %s",
			len(unregistered), strings.Join(unregistered, "\n  - "))
	}
}
