// Command fleetctl is the operator's TTY-forwarding client: connect, exec,
// and attach open a raw-mode terminal session against a Server through
// Core's /ws/terminal endpoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"nhooyr.io/websocket"

	"github.com/dockfleet/conduit/internal/config"
	"github.com/dockfleet/conduit/internal/termctl"
	"github.com/dockfleet/conduit/internal/terminal"
	"github.com/dockfleet/conduit/internal/userws"
)

var (
	serverFlag string
	tokenFlag  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fleetctl",
		Short: "Operator CLI for a fleet of Conduit Servers",
	}
	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", "", "saved server name (see servers.toml)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "JWT to use instead of the saved one")

	rootCmd.AddCommand(connectCmd(), execCmd(), attachCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func connectCmd() *cobra.Command {
	var name string
	var recreate bool

	cmd := &cobra.Command{
		Use:   "connect <server> [command...]",
		Short: "Open a plain terminal on a Server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := userws.OpenTerminalRequest{
				Server:     args[0],
				Name:       name,
				Command:    args[1:],
				Recreation: recreationFlag(recreate),
			}
			return runTerminalSession(req)
		},
	}
	cmd.Flags().StringVar(&name, "name", "default", "terminal name to reuse across reconnects")
	cmd.Flags().BoolVar(&recreate, "recreate", false, "kill and respawn the terminal if one already exists")
	return cmd
}

func execCmd() *cobra.Command {
	var shell string
	var recreate bool

	cmd := &cobra.Command{
		Use:   "exec <server> <container>",
		Short: "Run an interactive shell inside a container via docker exec",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := userws.OpenTerminalRequest{
				Server:        args[0],
				Name:          "exec-" + args[1],
				Container:     args[1],
				ContainerMode: int(terminal.ContainerExec),
				Shell:         shell,
				Recreation:    recreationFlag(recreate),
			}
			return runTerminalSession(req)
		},
	}
	cmd.Flags().StringVar(&shell, "shell", "bash", "shell to exec inside the container")
	cmd.Flags().BoolVar(&recreate, "recreate", false, "kill and respawn the terminal if one already exists")
	return cmd
}

func attachCmd() *cobra.Command {
	var recreate bool

	cmd := &cobra.Command{
		Use:   "attach <server> <container>",
		Short: "Attach to a container's own PID 1 via docker attach",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := userws.OpenTerminalRequest{
				Server:        args[0],
				Name:          "attach-" + args[1],
				Container:     args[1],
				ContainerMode: int(terminal.ContainerAttach),
				Recreation:    recreationFlag(recreate),
			}
			return runTerminalSession(req)
		},
	}
	cmd.Flags().BoolVar(&recreate, "recreate", false, "kill and respawn the terminal if one already exists")
	return cmd
}

func recreationFlag(recreate bool) int {
	if recreate {
		return int(terminal.RecreationAlways)
	}
	return int(terminal.RecreationNever)
}

// runTerminalSession dials the chosen Server's Core, logs in, opens the
// requested terminal, and bridges stdin/stdout until the remote side closes
// or the Alt+Q local-disconnect sentinel fires.
func runTerminalSession(req userws.OpenTerminalRequest) error {
	name := serverFlag
	if name == "" {
		name = req.Server
	}

	dataDir := os.Getenv("CONDUIT_FLEETCTL_DATA_DIR")
	servers, err := config.LoadServersConfig(dataDir)
	if err != nil {
		return fmt.Errorf("fleetctl: loading servers.toml: %w", err)
	}
	entry, ok := servers.Servers[name]
	if !ok {
		return fmt.Errorf("fleetctl: no saved server named %q", name)
	}
	if tokenFlag != "" {
		entry.Token = tokenFlag
	}

	wsURL, err := terminalURL(entry.URL)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("fleetctl: connecting to %s: %w", wsURL, err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	if err := login(ctx, ws, entry); err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("fleetctl: encoding open request: %w", err)
	}
	if err := ws.Write(ctx, websocket.MessageText, body); err != nil {
		return fmt.Errorf("fleetctl: sending open request: %w", err)
	}

	return forwardTerminal(ctx, ws)
}

func terminalURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("fleetctl: invalid server URL %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	u.Path = "/ws/terminal"
	return u.String(), nil
}

func login(ctx context.Context, ws *websocket.Conn, entry config.ServerEntry) error {
	req := userws.LoginRequest{}
	if entry.Token != "" {
		req.Type = "jwt"
		req.Token = entry.Token
	} else {
		req.Type = "api-key"
		req.Key = entry.APIKey
		req.Secret = entry.APISecret
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("fleetctl: encoding login request: %w", err)
	}
	if err := ws.Write(ctx, websocket.MessageText, body); err != nil {
		return fmt.Errorf("fleetctl: sending login request: %w", err)
	}

	_, data, err := ws.Read(ctx)
	if err != nil {
		return fmt.Errorf("fleetctl: reading login reply: %w", err)
	}
	if string(data) != userws.LoggedInText {
		return fmt.Errorf("fleetctl: login rejected: %s", data)
	}
	return nil
}

// forwardTerminal switches stdin to raw mode, wires SIGWINCH to resize
// control messages, and bridges keystrokes and remote output until the
// socket closes or the Alt+Q sentinel is typed.
func forwardTerminal(ctx context.Context, ws *websocket.Conn) error {
	interactive := isatty.IsTerminal(os.Stdout.Fd())

	var guard *termctl.RawModeGuard
	if interactive {
		g, err := termctl.EnableRawMode()
		if err != nil {
			return fmt.Errorf("fleetctl: enabling raw mode: %w", err)
		}
		guard = g
		defer guard.Restore()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if interactive {
		sendResize(ctx, ws)
		winch, cleanup := termctl.ResizeSignal()
		defer cleanup()
		go func() {
			for range winch {
				sendResize(ctx, ws)
			}
		}()
	}

	go readRemote(ctx, ws, cancel)

	readStdin(ctx, ws, cancel)
	return nil
}

func sendResize(ctx context.Context, ws *websocket.Conn) {
	cols, rows, err := termctl.Size()
	if err != nil {
		return
	}
	body, err := json.Marshal(userws.ControlMessage{Resize: &userws.ResizePayload{Rows: rows, Cols: cols}})
	if err != nil {
		return
	}
	_ = ws.Write(ctx, websocket.MessageText, body)
}

func readRemote(ctx context.Context, ws *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageBinary {
			os.Stdout.Write(data)
		}
	}
}

func readStdin(ctx context.Context, ws *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	detector := termctl.NewSentinelDetector()
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := os.Stdin.Read(buf)
		if err != nil {
			return
		}
		detected, forward := detector.FeedBuf(buf[:n])
		if len(forward) > 0 {
			if err := ws.Write(ctx, websocket.MessageBinary, forward); err != nil {
				return
			}
		}
		if detected {
			return
		}
	}
}
