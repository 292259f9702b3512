package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"mediagate/internal/domain"
)

// Message types of the WebSocket protocol.
const (
	TypeCall   = "call"
	TypeList   = "list"
	TypeResult = "result"
	TypeError  = "error"
	TypeTools  = "tools"
)

const (
	maxMessageBytes = 1 << 20
	writeWait       = 10 * time.Second

	// DefaultCallLimit caps the calls in flight on one connection.
	DefaultCallLimit = 16
)

// WSMessage is the JSON message protocol for the WebSocket gateway.
//
//	{"type":"call","id":"1","name":"get_media_entry","arguments":{"entry_id":"0_abc"}}
//	{"type":"result","id":"1","result":{...}}
//	{"type":"error","id":"1","error":{"kind":"validation_error",...}}
//	{"type":"list"} -> {"type":"tools","tools":[...]}
type WSMessage struct {
	Type      string                  `json:"type"`
	ID        string                  `json:"id,omitempty"`
	Name      string                  `json:"name,omitempty"`
	Arguments map[string]any          `json:"arguments,omitempty"`
	Result    any                     `json:"result,omitempty"`
	Error     *domain.ErrorEnvelope   `json:"error,omitempty"`
	Tools     []domain.ToolDefinition `json:"tools,omitempty"`
}

// jsonMarshal is used when encoding WSMessage; tests may replace it to force Marshal errors.
// Access is protected by jsonMarshalMu for race-safe test swaps.
var (
	jsonMarshalMu sync.RWMutex
	jsonMarshal   = json.Marshal
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Access is gated by the bearer token, not by origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHandler runs the call/list protocol. Calls on one connection run
// concurrently, up to limit, and are correlated by id; writes are serialized.
// At the limit the read loop blocks until a call finishes.
type wsHandler struct {
	exec    Executor
	catalog Catalog
	logger  *slog.Logger
	limit   int
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	// Calls still running when the peer leaves are canceled.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	var (
		writeMu sync.Mutex
		calls   errgroup.Group
	)
	limit := h.limit
	if limit <= 0 {
		limit = DefaultCallLimit
	}
	calls.SetLimit(limit)
	defer func() { _ = calls.Wait() }()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in WSMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			writeWSMessage(conn, &writeMu, &WSMessage{Type: TypeError, Error: protocolError("", "invalid JSON")})
			continue
		}

		switch in.Type {
		case TypeList:
			writeWSMessage(conn, &writeMu, &WSMessage{Type: TypeTools, ID: in.ID, Tools: h.catalog.Definitions()})
		case TypeCall:
			calls.Go(func() error {
				result, env := h.exec.Execute(ctx, in.Name, in.Arguments)
				out := WSMessage{Type: TypeResult, ID: in.ID, Result: result}
				if env != nil {
					out = WSMessage{Type: TypeError, ID: in.ID, Error: env}
				}
				writeWSMessage(conn, &writeMu, &out)
				return nil
			})
		default:
			writeWSMessage(conn, &writeMu, &WSMessage{Type: TypeError, ID: in.ID, Error: protocolError("", "unknown message type "+in.Type)})
		}
	}
}

// protocolError describes a malformed frame; it never reaches the dispatcher.
func protocolError(command, msg string) *domain.ErrorEnvelope {
	return &domain.ErrorEnvelope{Kind: domain.KindValidation, Message: msg, Command: command}
}

func writeWSMessage(conn *websocket.Conn, mu *sync.Mutex, msg *WSMessage) {
	jsonMarshalMu.RLock()
	marshal := jsonMarshal
	jsonMarshalMu.RUnlock()
	data, err := marshal(msg)
	if err != nil {
		env := &domain.ErrorEnvelope{Kind: domain.KindExecution, Message: "result could not be encoded", Command: msg.Name}
		data, _ = json.Marshal(WSMessage{Type: TypeError, ID: msg.ID, Error: env})
	}
	mu.Lock()
	defer mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}
