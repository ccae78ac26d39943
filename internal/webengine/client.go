// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package webengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// rpcRequest is one JSON-RPC 2.0 call sent to the external engine.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// WebsocketClient implements Engine by issuing JSON-RPC calls over a
// persistent websocket connection, one request per operation; requests
// are not batched. It logs with zap, distinct from the rest of the
// module's logrus-based logger.
type WebsocketClient struct {
	conn    *websocket.Conn
	log     *zap.Logger
	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan rpcResponse
	timeout time.Duration
}

// Dial connects to an external engine's websocket RPC endpoint.
func Dial(ctx context.Context, rawURL string, timeout time.Duration) (*WebsocketClient, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse engine url: %w", err)
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		zlog = zap.NewNop()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial engine: %w", err)
	}

	c := &WebsocketClient{
		conn:    conn,
		log:     zlog,
		pending: make(map[int64]chan rpcResponse),
		timeout: timeout,
	}
	go c.readLoop()
	return c, nil
}

func (c *WebsocketClient) readLoop() {
	for {
		var resp rpcResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.log.Warn("engine connection closed", zap.Error(err))
			c.mu.Lock()
			for _, ch := range c.pending {
				close(ch)
			}
			c.pending = map[int64]chan rpcResponse{}
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// call issues a single RPC, blocking for its matching response.
func (c *WebsocketClient) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw}
	err = c.conn.WriteJSON(req)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write rpc request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("engine connection closed before response")
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.timeout):
		return nil, fmt.Errorf("rpc call %s timed out", method)
	}
}

func (c *WebsocketClient) Open(ctx context.Context, targetURL string, oc OpenContext) error {
	if !allHostsAllowed(targetURL, oc.AllowDomains) {
		return fmt.Errorf("target host for %q is not in the declared allowlist", targetURL)
	}
	_, err := c.call(ctx, "engine.open", map[string]interface{}{"url": targetURL})
	return err
}

func allHostsAllowed(rawURL string, allow []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return hostAllowed(u.Hostname(), allow)
}

func (c *WebsocketClient) Fill(ctx context.Context, labelOrSelector, text string, frame FrameRef) error {
	_, err := c.call(ctx, "engine.fill", map[string]interface{}{
		"target": labelOrSelector, "text": text, "frame": string(frame),
	})
	return err
}

func (c *WebsocketClient) Click(ctx context.Context, textOrSelector, role string, frame FrameRef) error {
	_, err := c.call(ctx, "engine.click", map[string]interface{}{
		"target": textOrSelector, "role": role, "frame": string(frame),
	})
	return err
}

func (c *WebsocketClient) Upload(ctx context.Context, labelOrSelector, path string) error {
	_, err := c.call(ctx, "engine.upload", map[string]interface{}{
		"target": labelOrSelector, "path": path,
	})
	return err
}

func (c *WebsocketClient) WaitForDownload(ctx context.Context, to string, timeoutMs int) (string, error) {
	raw, err := c.call(ctx, "engine.waitForDownload", map[string]interface{}{
		"to": to, "timeout_ms": timeoutMs,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode waitForDownload result: %w", err)
	}
	return out.Path, nil
}

func (c *WebsocketClient) CaptureDOMSchema(ctx context.Context, target string) ([]SchemaNode, error) {
	raw, err := c.call(ctx, "engine.captureDomSchema", map[string]interface{}{"target": target})
	if err != nil {
		return nil, err
	}
	var nodes []SchemaNode
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return nodes, nil
}

func (c *WebsocketClient) GetCookie(ctx context.Context, name string) (Cookie, error) {
	raw, err := c.call(ctx, "engine.getCookie", map[string]interface{}{"name": name})
	if err != nil {
		return Cookie{}, err
	}
	var ck Cookie
	if err := json.Unmarshal(raw, &ck); err != nil {
		return Cookie{}, fmt.Errorf("decode cookie: %w", err)
	}
	return ck, nil
}

func (c *WebsocketClient) SetCookie(ctx context.Context, ck Cookie) error {
	_, err := c.call(ctx, "engine.setCookie", ck)
	return err
}

func (c *WebsocketClient) GetStorageItem(ctx context.Context, key string) (string, error) {
	raw, err := c.call(ctx, "engine.getStorageItem", map[string]interface{}{"key": key})
	if err != nil {
		return "", err
	}
	var out struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode storage item: %w", err)
	}
	return out.Value, nil
}

func (c *WebsocketClient) SetStorageItem(ctx context.Context, key, value string) error {
	_, err := c.call(ctx, "engine.setStorageItem", map[string]interface{}{"key": key, "value": value})
	return err
}

func (c *WebsocketClient) FrameSelect(ctx context.Context, name string) (FrameRef, error) {
	raw, err := c.call(ctx, "engine.frameSelect", map[string]interface{}{"name": name})
	if err != nil {
		return "", err
	}
	var out struct {
		Frame string `json:"frame"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode frame select: %w", err)
	}
	return FrameRef(out.Frame), nil
}

func (c *WebsocketClient) FrameClear(ctx context.Context) error {
	_, err := c.call(ctx, "engine.frameClear", nil)
	return err
}

func (c *WebsocketClient) PierceShadow(ctx context.Context, hostSelector string) error {
	_, err := c.call(ctx, "engine.pierceShadow", map[string]interface{}{"host": hostSelector})
	return err
}

func (c *WebsocketClient) Close() error {
	return c.conn.Close()
}
