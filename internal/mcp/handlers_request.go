// handlers_request.go contains handlers for raw ADT access:
// AdtRequest, GetDiscovery.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/fr0ster/mcp-abap-connection/pkg/adt"
)

// adtResponse is the AdtRequest payload.
type adtResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body"`
}

func (s *Server) handleAdtRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments
	path, errResult := requireStr(args, "path")
	if errResult != nil {
		return errResult, nil
	}

	method := strings.ToUpper(getStr(args, "method"))
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead:
	default:
		return newToolResultError(fmt.Sprintf("unsupported method %q", method)), nil
	}

	opts := &adt.RequestOptions{
		Method:      method,
		ContentType: getStr(args, "content_type"),
		Accept:      getStr(args, "accept"),
	}
	if body := getStr(args, "body"); body != "" {
		opts.Body = []byte(body)
	}
	if rawQuery := getStr(args, "query"); rawQuery != "" {
		query, err := url.ParseQuery(rawQuery)
		if err != nil {
			return newToolResultError(fmt.Sprintf("invalid query: %v", err)), nil
		}
		opts.Query = query
	}
	if seconds := getInt(args, "timeout_seconds", 0); seconds > 0 {
		opts.Timeout = time.Duration(seconds) * time.Second
	}

	resp, err := s.client.Request(ctx, path, opts)
	if err != nil {
		return wrapErr("AdtRequest", err), nil
	}
	return newToolResultJSON(adtResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Headers.Get("Content-Type"),
		Body:        string(resp.Body),
	}), nil
}

func (s *Server) handleGetDiscovery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments

	if getBool(args, "parsed", false) {
		catalog, err := s.client.DiscoverServices(ctx)
		if err != nil {
			return wrapErr("GetDiscovery", err), nil
		}
		return newToolResultJSON(catalog), nil
	}

	resp, err := s.client.GetDiscovery(ctx)
	if err != nil {
		return wrapErr("GetDiscovery", err), nil
	}
	return mcp.NewToolResultText(string(resp.Body)), nil
}
