package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	sdk_transport "github.com/mark3labs/mcp-go/client/transport"
	sdk_mcp "github.com/mark3labs/mcp-go/mcp"
)

// wsTransport is a symmetric-frame websocket transport satisfying the mcp-go
// client transport contract. Each JSON-RPC message occupies one text frame.
type wsTransport struct {
	url       string
	authToken string

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan *sdk_transport.JSONRPCResponse
	onNotif func(sdk_mcp.JSONRPCNotification)
	done    chan struct{}
}

func newWSTransport(url, authToken string) *wsTransport {
	return &wsTransport{
		url:       url,
		authToken: authToken,
		pending:   make(map[string]chan *sdk_transport.JSONRPCResponse),
	}
}

// Start dials the websocket endpoint and begins the read pump.
func (t *wsTransport) Start(ctx context.Context) error {
	header := http.Header{}
	if t.authToken != "" {
		header.Set("Authorization", "Bearer "+t.authToken)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, header)
	if err != nil {
		return fmt.Errorf("mcp: dial ws %q: %w", t.url, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.readPump(conn)
	return nil
}

func (t *wsTransport) readPump(conn *websocket.Conn) {
	defer func() {
		t.mu.Lock()
		// Fail all in-flight requests so callers do not hang on a dead peer.
		for key, ch := range t.pending {
			close(ch)
			delete(t.pending, key)
		}
		if t.done != nil {
			select {
			case <-t.done:
			default:
				close(t.done)
			}
		}
		t.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		// Distinguish responses from notifications by the presence of an id.
		var probe struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			continue
		}

		if len(probe.ID) == 0 || string(probe.ID) == "null" {
			var notif sdk_mcp.JSONRPCNotification
			if err := json.Unmarshal(data, &notif); err != nil {
				continue
			}
			t.mu.Lock()
			handler := t.onNotif
			t.mu.Unlock()
			if handler != nil {
				handler(notif)
			}
			continue
		}

		var resp sdk_transport.JSONRPCResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		t.mu.Lock()
		ch, ok := t.pending[string(probe.ID)]
		if ok {
			delete(t.pending, string(probe.ID))
		}
		t.mu.Unlock()
		if ok {
			ch <- &resp
			close(ch)
		}
	}
}

// SendRequest writes one request frame and blocks until the matching
// response arrives, the context expires, or the connection drops.
func (t *wsTransport) SendRequest(ctx context.Context, request sdk_transport.JSONRPCRequest) (*sdk_transport.JSONRPCResponse, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal ws request: %w", err)
	}
	idKey, err := json.Marshal(request.ID)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal ws request id: %w", err)
	}

	ch := make(chan *sdk_transport.JSONRPCResponse, 1)

	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("mcp: ws transport %q not started", t.url)
	}
	t.pending[string(idKey)] = ch
	err = conn.WriteMessage(websocket.TextMessage, data)
	if err != nil {
		delete(t.pending, string(idKey))
		t.mu.Unlock()
		return nil, fmt.Errorf("mcp: ws write %q: %w", t.url, err)
	}
	t.mu.Unlock()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("mcp: ws connection %q closed while awaiting response", t.url)
		}
		return resp, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, string(idKey))
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}

// SendNotification writes one notification frame; no response is expected.
func (t *wsTransport) SendNotification(ctx context.Context, notification sdk_mcp.JSONRPCNotification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("mcp: marshal ws notification: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("mcp: ws transport %q not started", t.url)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("mcp: ws write %q: %w", t.url, err)
	}
	return nil
}

func (t *wsTransport) SetNotificationHandler(handler func(notification sdk_mcp.JSONRPCNotification)) {
	t.mu.Lock()
	t.onNotif = handler
	t.mu.Unlock()
}

// Close closes the websocket; the read pump exits and in-flight requests fail.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (t *wsTransport) GetSessionId() string { return "" }
