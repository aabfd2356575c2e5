package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/raibid-labs/sigilforge/internal/config"
)

// rpcRequest/rpcResponse/rpcNotification mirror internal/ipc's wire types;
// sigilforgectl is deliberately a standalone client with no dependency on
// the daemon's internal packages.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// client holds one connection to the daemon socket for the lifetime of a
// single subcommand invocation.
type client struct {
	conn   net.Conn
	reader *bufio.Reader
	nextID int
	// onNotify is invoked for every notification line received while
	// waiting for a response, letting add-account print the
	// authorization URL or device code as soon as it arrives.
	onNotify func(method string, params json.RawMessage)
}

func dial() (*client, error) {
	sockPath := socketPath()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w (is sigilforged running?)", sockPath, err)
	}
	return &client{conn: conn, reader: bufio.NewReaderSize(conn, 64*1024)}, nil
}

func (c *client) Close() {
	_ = c.conn.Close()
}

// call sends one request and blocks until its matching response arrives,
// forwarding any notifications seen in between to onNotify.
func (c *client) call(method string, params interface{}) (json.RawMessage, error) {
	c.nextID++
	id := c.nextID
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	for {
		raw, err := c.reader.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		var probe struct {
			ID     *int   `json:"id"`
			Method string `json:"method"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, fmt.Errorf("malformed server message: %w", err)
		}
		if probe.ID == nil && probe.Method != "" {
			var notif rpcNotification
			if err := json.Unmarshal(raw, &notif); err != nil {
				return nil, fmt.Errorf("malformed notification: %w", err)
			}
			if c.onNotify != nil {
				c.onNotify(notif.Method, notif.Params)
			}
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("malformed response: %w", err)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s (code %d)", resp.Error.Message, resp.Error.Code)
		}
		return resp.Result, nil
	}
}

// socketPath resolves the daemon's socket the same way daemon.Start does:
// load daemon.toml (or its defaults) from the resolved config dir.
func socketPath() string {
	dir := defaultConfigDir()
	cfg, err := config.LoadConfig(dir)
	if err != nil {
		return filepath.Join(dir, "sigilforge.sock")
	}
	return cfg.Daemon.SocketPath
}

func defaultConfigDir() string {
	if dir := strings.TrimSpace(os.Getenv(config.EnvConfigDir)); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "sigilforge")
}
