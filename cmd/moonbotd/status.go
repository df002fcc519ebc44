package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/moonbotd/moonbotd/internal/config"
)

// rpcRequest/rpcResponse mirror the wire shape internal/transport speaks
// (spec §4.1's JSON-RPC 2.0 envelope); they're redeclared here rather than
// exported from internal/transport because this client has no business
// depending on the server's internal package.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type connectParams struct {
	ClientType    string `json:"clientType"`
	ClientVersion string `json:"clientVersion"`
	Token         string `json:"token"`
}

func buildStatusCmd() *cobra.Command {
	var configPath, token string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query the running gateway's status over its JSON-RPC socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			conn, err := dialGateway(ctx, cfg.Gateway)
			if err != nil {
				return fmt.Errorf("dial gateway: %w", err)
			}
			defer conn.Close()

			if err := rpcCall(conn, 1, "connect", connectParams{
				ClientType:    "moonbotctl",
				ClientVersion: version,
				Token:         token,
			}, nil); err != nil {
				return fmt.Errorf("connect handshake: %w", err)
			}

			var result json.RawMessage
			if err := rpcCall(conn, 2, "status", nil, &result); err != nil {
				return fmt.Errorf("status: %w", err)
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, result, "", "  "); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), string(result))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the moonbot YAML configuration file")
	cmd.Flags().StringVar(&token, "token", "", "bearer token to authenticate with, if the gateway requires one")
	return cmd
}

// dialGateway opens a WebSocket connection to the gateway's configured
// socket: a Unix domain socket when SocketPath is set, otherwise a plain
// TCP loopback address. gorilla/websocket's Dialer only speaks ws://<host>,
// so a Unix socket is dialed through a custom NetDial that ignores the
// placeholder address it's handed and connects the real socket path instead.
func dialGateway(ctx context.Context, cfg config.GatewayConfig) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	url := fmt.Sprintf("ws://%s:%d/", orDefault(cfg.Host, "127.0.0.1"), cfg.Port)

	if cfg.SocketPath != "" {
		socketPath := cfg.SocketPath
		dialer.NetDialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		}
		url = "ws://unix/"
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	return conn, err
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// rpcCall sends one JSON-RPC request and decodes the matching response's
// result into out (if non-nil), returning the server's error if it sent one.
func rpcCall(conn *websocket.Conn, id int, method string, params any, out *json.RawMessage) error {
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out != nil {
		*out = resp.Result
	}
	return nil
}
