package transport

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"nhooyr.io/websocket"
)

// ReconnectInterval is the fixed backoff between dial attempts. A fixed
// interval, not exponential: agents should come back promptly after a
// Core restart.
const ReconnectInterval = 5 * time.Second

// Dial opens one WebSocket to target and reports the pieces the Noise
// prologue needs: the Host header actually sent and the response's
// Sec-Websocket-Accept header.
func Dial(ctx context.Context, target string) (conn *Conn, host, query, accept string, err error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, "", "", "", err
	}

	ws, resp, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return nil, "", "", "", err
	}
	return NewConn(ctx, ws), u.Host, u.RawQuery, resp.Header.Get("Sec-Websocket-Accept"), nil
}

// OnConnected is invoked once login succeeds; it should block for the
// lifetime of the connection and return when the link drops.
type OnConnected func(conn *Conn, peerStatic []byte) error

// DialLoop dials target forever with a fixed backoff, performing the login
// exchange on each successful connect and handing the authenticated Conn to
// onConnected. Consecutive identical failure categories are logged once;
// the suppression resets as soon as the category changes or a connection
// succeeds.
func DialLoop(ctx context.Context, target string, cfg LoginConfig, onConnected OnConnected, logger *slog.Logger) {
	var lastCategory string

	logFailure := func(category string, err error) {
		if category == lastCategory {
			return
		}
		lastCategory = category
		logger.Warn("periphery link attempt failed", "category", category, "error", err)
	}

	sleep := func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(ReconnectInterval):
			return true
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		conn, host, query, accept, err := Dial(ctx, target)
		if err != nil {
			logFailure("dial", err)
			if !sleep() {
				return
			}
			continue
		}

		peerStatic, err := PerformInitiatorLogin(ctx, conn, host, query, accept, cfg)
		if err != nil {
			logFailure("login", err)
			conn.Close()
			if !sleep() {
				return
			}
			continue
		}

		lastCategory = ""
		logger.Info("periphery link established", "target", target)

		if err := onConnected(conn, peerStatic); err != nil {
			logger.Warn("periphery link closed", "error", err)
		}
		conn.Close()

		if !sleep() {
			return
		}
	}
}
