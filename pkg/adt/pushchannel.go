package adt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// pushChannelHandshakeTimeout bounds the WebSocket upgrade.
const pushChannelHandshakeTimeout = 30 * time.Second

// DialPushChannel opens a WebSocket connection to an ABAP Push Channel
// endpoint, e.g. "/sap/bc/apc/sap/zmy_channel". The handshake carries the
// connection's Authorization header and its current session cookies so the
// channel lands in the same server-side session as the HTTP requests; run
// Connect first when the jar is still empty.
func (c *Client) DialPushChannel(ctx context.Context, path string) (*websocket.Conn, error) {
	u, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	wsURL := fmt.Sprintf("%s://%s%s?sap-client=%s", scheme, u.Host, path, url.QueryEscape(c.config.Client))

	dialer := websocket.Dialer{
		HandshakeTimeout: pushChannelHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.config.InsecureSkipVerify,
		},
	}

	auth, err := c.transport.auth.header(ctx)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", auth)
	if cookies := c.transport.session.cookieHeader(); cookies != "" {
		header.Set("Cookie", cookies)
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("push channel handshake failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, &NetworkError{Op: "push channel dial", Err: err}
	}

	// The upgrade response can establish session cookies too.
	c.transport.session.ingestCookies(resp.Header)

	return conn, nil
}
