// Package bridge is the WebSocket surface toward the UI shell. The shell
// renders state, forwards key and ad SDK events, and shows notices; all
// decisions stay in the daemon.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hyunsoo-dev/switchd/internal/domain"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
	sendBuf    = 32
)

// envelope is the wire format for both directions.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound message types.
const (
	msgState          = "state"
	msgApps           = "apps"
	msgNotice         = "notice"
	msgPrompt         = "prompt"
	msgAdLoad         = "ad.load"
	msgAdShow         = "ad.show"
	msgSessionExpired = "session.expired"
	msgSettingsOpen   = "settings.open"
)

// Inbound message types.
const (
	evAdLoaded       = "ad.loaded"
	evAdClosed       = "ad.closed"
	evAdError        = "ad.error"
	evVolumeDown     = "key.volume_down"
	evShellFocus     = "shell.focus"
	evTargetSelect   = "target.select"
	evToggle         = "action.toggle"
	evSave           = "action.save"
	evPurchase       = "action.purchase"
	evRestore        = "action.restore"
	evPromptResult   = "prompt.result"
	evBatteryConfirm = "permission.battery_confirmed"
	evAppsRequest    = "apps.request"
)

// statePayload mirrors domain.FeatureState on the wire.
type statePayload struct {
	Mode             string  `json:"mode"`
	TargetAppID      string  `json:"target_app_id"`
	Premium          bool    `json:"premium"`
	Progress         float64 `json:"progress"`
	SessionStartedAt int64   `json:"session_started_at,omitempty"`
}

type noticePayload struct {
	Text string `json:"text"`
}

type promptPayload struct {
	Kind string `json:"kind"`
}

type settingsOpenPayload struct {
	Kind string `json:"kind"`
}

type adErrorPayload struct {
	Code string `json:"code"`
}

type targetSelectPayload struct {
	AppID string `json:"app_id"`
}

type promptResultPayload struct {
	Kind   string `json:"kind"`
	Choice string `json:"choice"`
}

// EventSink receives decoded shell events. The bridge calls it from its
// read goroutine; implementations must hand off to the event loop.
type EventSink interface {
	OnAdLoaded()
	OnAdClosed()
	OnAdError(code string)
	OnVolumeDown()
	OnShellFocus()
	OnTargetSelected(appID string)
	OnToggle()
	OnSave()
	OnPurchase()
	OnRestore()
	OnPromptResult(kind domain.PermissionKind, choice string)
	OnBatteryConfirmed()
	OnAppsRequested()
}

// Bridge serves a single shell client over a loopback WebSocket.
// A new connection replaces the previous one (latest wins); when no shell
// is connected, outbound messages are dropped and the ad slot reports
// unavailable.
type Bridge struct {
	logger *zap.Logger
	sink   EventSink

	mu     sync.Mutex
	conn   *websocket.Conn
	send   chan []byte
	server *http.Server
	ln     net.Listener
}

// New creates a bridge. Call Start to begin listening and SetSink before
// Start.
func New(logger *zap.Logger) *Bridge {
	return &Bridge{logger: logger}
}

// SetSink installs the event receiver. Must be called before Start.
func (b *Bridge) SetSink(sink EventSink) { b.sink = sink }

// Start listens on addr (loopback only) and serves the shell endpoint.
func (b *Bridge) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/shell", b.handleShell)

	b.server = &http.Server{Handler: mux}
	b.ln = ln

	go func() {
		if err := b.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("bridge server stopped", zap.Error(err))
		}
	}()

	b.logger.Info("bridge listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound listen address.
func (b *Bridge) Addr() string {
	if b.ln == nil {
		return ""
	}
	return b.ln.Addr().String()
}

// Stop closes the client connection and the listener.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	b.mu.Unlock()

	if b.server == nil {
		return nil
	}
	return b.server.Shutdown(ctx)
}

var upgrader = websocket.Upgrader{
	// Loopback-only server; the shell runs on the same machine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleShell upgrades the connection and replaces any previous client.
func (b *Bridge) handleShell(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("shell upgrade failed", zap.Error(err))
		return
	}

	send := make(chan []byte, sendBuf)

	b.mu.Lock()
	if b.conn != nil {
		b.logger.Info("replacing shell connection", zap.String("remote", r.RemoteAddr))
		_ = b.conn.Close()
		close(b.send)
	}
	b.conn = conn
	b.send = send
	b.mu.Unlock()

	b.logger.Info("shell connected", zap.String("remote", r.RemoteAddr))

	// Pumps are tied to the connection, not the request context; net/http
	// cancels the request context as soon as this handler returns.
	go b.writePump(conn, send)
	go b.readPump(conn)

	if b.sink != nil {
		b.sink.OnShellFocus()
	}
}

// writePump writes queued messages and pings until the send channel
// closes or a write fails.
func (b *Bridge) writePump(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					b.logger.Debug("shell write failed", zap.Error(err))
				}
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes inbound envelopes and dispatches them to the sink.
func (b *Bridge) readPump(conn *websocket.Conn) {
	defer b.dropConn(conn)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				b.logger.Info("shell disconnected", zap.Int("code", ce.Code))
			} else {
				b.logger.Debug("shell read failed", zap.Error(err))
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			b.logger.Warn("malformed shell message", zap.Error(err))
			continue
		}
		b.dispatch(env)
	}
}

func (b *Bridge) dispatch(env envelope) {
	if b.sink == nil {
		return
	}

	switch env.Type {
	case evAdLoaded:
		b.sink.OnAdLoaded()
	case evAdClosed:
		b.sink.OnAdClosed()
	case evAdError:
		var p adErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		b.sink.OnAdError(p.Code)
	case evVolumeDown:
		b.sink.OnVolumeDown()
	case evShellFocus:
		b.sink.OnShellFocus()
	case evTargetSelect:
		var p targetSelectPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.AppID == "" {
			b.logger.Warn("target.select without app_id")
			return
		}
		b.sink.OnTargetSelected(p.AppID)
	case evToggle:
		b.sink.OnToggle()
	case evSave:
		b.sink.OnSave()
	case evPurchase:
		b.sink.OnPurchase()
	case evRestore:
		b.sink.OnRestore()
	case evPromptResult:
		var p promptResultPayload
		_ = json.Unmarshal(env.Payload, &p)
		b.sink.OnPromptResult(domain.PermissionKind(p.Kind), p.Choice)
	case evBatteryConfirm:
		b.sink.OnBatteryConfirmed()
	case evAppsRequest:
		b.sink.OnAppsRequested()
	default:
		b.logger.Debug("unknown shell message", zap.String("type", env.Type))
	}
}

// dropConn clears the active connection if it is still the given one.
func (b *Bridge) dropConn(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == conn {
		_ = b.conn.Close()
		close(b.send)
		b.conn = nil
		b.send = nil
	}
}

// post enqueues one outbound envelope; dropped when no shell is connected
// or the client cannot keep up.
func (b *Bridge) post(msgType string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			b.logger.Warn("failed to marshal outbound payload",
				zap.String("type", msgType), zap.Error(err))
			return
		}
		raw = data
	}

	msg, err := json.Marshal(envelope{Type: msgType, Payload: raw})
	if err != nil {
		return
	}

	// Send under the lock so a concurrent connection swap cannot close
	// the channel out from under us.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.send == nil {
		b.logger.Debug("no shell connected, dropping message", zap.String("type", msgType))
		return
	}

	select {
	case b.send <- msg:
	default:
		b.logger.Warn("shell send queue full, dropping message", zap.String("type", msgType))
	}
}

// PublishState pushes a state snapshot to the shell.
func (b *Bridge) PublishState(s domain.FeatureState) {
	p := statePayload{
		Mode:        s.Mode.String(),
		TargetAppID: s.TargetAppID,
		Premium:     s.Premium,
		Progress:    s.Progress,
	}
	if !s.SessionStartedAt.IsZero() {
		p.SessionStartedAt = s.SessionStartedAt.UnixMilli()
	}
	b.post(msgState, p)
}

// SendApps pushes the launchable app catalog to the shell.
func (b *Bridge) SendApps(apps []domain.AppInfo) {
	b.post(msgApps, apps)
}

// SessionExpired tells the shell the hour ran out.
func (b *Bridge) SessionExpired() {
	b.post(msgSessionExpired, nil)
}

// OpenSettings asks the shell to open an OS settings panel.
func (b *Bridge) OpenSettings(kind string) {
	b.post(msgSettingsOpen, settingsOpenPayload{Kind: kind})
}

// Notice implements domain.Notifier.
func (b *Bridge) Notice(text string) {
	b.post(msgNotice, noticePayload{Text: text})
}

// PromptPermission implements domain.Notifier.
func (b *Bridge) PromptPermission(kind domain.PermissionKind) {
	b.post(msgPrompt, promptPayload{Kind: string(kind)})
}

// Available implements domain.AdSource; the slot exists only while a
// shell is connected to render it.
func (b *Bridge) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Load implements domain.AdSource.
func (b *Bridge) Load() {
	b.post(msgAdLoad, nil)
}

// Show implements domain.AdSource.
func (b *Bridge) Show() {
	b.post(msgAdShow, nil)
}

// Ensure Bridge implements the shell-facing contracts.
var (
	_ domain.AdSource = (*Bridge)(nil)
	_ domain.Notifier = (*Bridge)(nil)
)
