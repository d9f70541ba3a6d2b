package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/dockfleet/conduit/internal/noise"
	"github.com/dockfleet/conduit/internal/wire"
)

func wsAcceptNoAuth(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(r.Context(), ws), nil
}

func TestLoginEndToEndOverRealWebSocket(t *testing.T) {
	coreKey, err := noise.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	peripheryKey, err := noise.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var serverErr error
	var serverPeerStatic []byte

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/periphery", func(w http.ResponseWriter, r *http.Request) {
		defer wg.Done()
		cfg := LoginConfig{
			Static: coreKey,
			Pin:    &noise.PinPolicy{TOFU: true, PinFile: t.TempDir() + "/periphery.pin"},
		}
		conn, peerStatic, err := Accept(w, r, cfg)
		if err != nil {
			serverErr = err
			return
		}
		serverPeerStatic = peerStatic
		conn.Close()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	target := "ws" + srv.URL[len("http"):] + "/ws/periphery?server=srv1"

	clientCfg := LoginConfig{
		Static: peripheryKey,
		Pin:    &noise.PinPolicy{Acceptable: [][]byte{coreKey.Public}},
	}

	done := make(chan struct{})
	var clientPeerStatic []byte
	var clientErr error
	go func() {
		defer close(done)
		DialLoopOnce(t, target, clientCfg, func(peerStatic []byte, err error) {
			clientPeerStatic = peerStatic
			clientErr = err
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client login")
	}
	wg.Wait()

	if clientErr != nil {
		t.Fatalf("client login error: %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("server login error: %v", serverErr)
	}
	if string(clientPeerStatic) != string(coreKey.Public) {
		t.Error("client did not learn the core's static key")
	}
	if string(serverPeerStatic) != string(peripheryKey.Public) {
		t.Error("server did not learn the periphery's static key")
	}
}

// DialLoopOnce performs a single dial+login attempt (no retry loop, no
// fixed backoff) so tests can assert on the outcome synchronously.
func DialLoopOnce(t *testing.T, target string, cfg LoginConfig, report func(peerStatic []byte, err error)) {
	t.Helper()
	conn, host, query, accept, err := Dial(context.Background(), target)
	if err != nil {
		report(nil, err)
		return
	}
	defer conn.Close()
	peerStatic, err := PerformInitiatorLogin(context.Background(), conn, host, query, accept, cfg)
	report(peerStatic, err)
}

func TestFrameRoundTripOverConn(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	var got wire.Frame
	var serveErr error

	mux := http.NewServeMux()
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		defer wg.Done()
		ws, err := wsAcceptNoAuth(w, r)
		if err != nil {
			serveErr = err
			return
		}
		defer ws.Close()
		f, ok, err := ws.ReadFrame()
		if err != nil || !ok {
			serveErr = err
			return
		}
		got = f
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	target := "ws" + srv.URL[len("http"):] + "/echo"
	conn, _, _, _, err := Dial(context.Background(), target)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	sent := wire.Frame{Tag: wire.TagTerminal, Payload: []byte("hello")}
	if err := conn.WriteFrame(sent); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	wg.Wait()

	if serveErr != nil {
		t.Fatalf("server error: %v", serveErr)
	}
	if got.Tag != sent.Tag || string(got.Payload) != string(sent.Payload) {
		t.Errorf("got %+v, want %+v", got, sent)
	}
}
