package transport

import (
	"fmt"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/dockfleet/conduit/internal/noise"
)

// Accept upgrades an inbound HTTP request to a WebSocket and runs the
// responder side of the login exchange. The caller resolves the server id
// from the request (e.g. a path value or query parameter) before calling,
// and supplies the LoginConfig appropriate to that server (its per-peer
// PinPolicy in particular).
func Accept(w http.ResponseWriter, r *http.Request, cfg LoginConfig) (*Conn, []byte, error) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: websocket upgrade: %w", err)
	}

	nonce, err := noise.NewHandshakeNonce()
	if err != nil {
		ws.Close(websocket.StatusInternalError, "nonce generation failed")
		return nil, nil, err
	}

	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	accept := w.Header().Get("Sec-Websocket-Accept")

	conn := NewConn(r.Context(), ws)
	peerStatic, err := PerformResponderLogin(r.Context(), conn, host, r.URL.RawQuery, accept, nonce, cfg)
	if err != nil {
		conn.Close()
		// peerStatic may still be populated (a pin rejection) so the caller
		// can record the offending key.
		return nil, peerStatic, err
	}
	return conn, peerStatic, nil
}
