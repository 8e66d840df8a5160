package realtime

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/metrics"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/services/canvas"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/config"
)

// Handler upgrades /realtime requests and drives the sync protocol for
// each connection.
type Handler struct {
	log      zerolog.Logger
	cfg      config.RealtimeConfig
	svc      *canvas.Service
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket endpoint handler and registers it as
// the service's fan-out target, so op frames leave in version order.
func NewHandler(svc *canvas.Service, hub *Hub, cfg config.RealtimeConfig, log zerolog.Logger) *Handler {
	h := &Handler{
		log: log.With().Str("component", "realtime").Logger(),
		cfg: cfg,
		svc: svc,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway in front of this service owns origin policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	svc.SetPublisher(h)
	return h
}

// PublishOp fans an accepted history result out to the project's room,
// sender included: every member needs the server-assigned version. The
// service calls this inside the project's critical section, which keeps
// frame order equal to version order; trySend keeps it non-blocking.
func (h *Handler) PublishOp(projectID string, res canvas.Result) {
	payload, err := encodeOp(res)
	if err != nil {
		h.log.Error().Err(err).Str("project", projectID).Msg("encode op broadcast")
		return
	}
	h.hub.Broadcast(projectID, payload, nil)
}

// ServeHTTP handles one websocket session end to end.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		projectID = h.cfg.DefaultProject
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx := r.Context()
	log := h.log.With().Str("project", projectID).Logger()

	project := h.svc.Registry().Get(ctx, projectID)
	project.Attach()
	metrics.ConnectionOpened()

	client := newClient(conn, projectID, h.cfg, log)
	h.hub.Join(projectID, client)

	defer func() {
		h.hub.Leave(projectID, client)
		project.Detach()
		client.close()
		metrics.ConnectionClosed()
	}()

	go client.writePump()

	h.sendInit(ctx, client)
	client.readPump(h.cfg.ReadLimit, func(frame []byte) {
		h.handleFrame(ctx, client, frame)
	})
}

// handleFrame routes one inbound frame by its kind. Bad frames are
// dropped with a log line; the connection stays open.
func (h *Handler) handleFrame(ctx context.Context, c *Client, frame []byte) {
	if !gjson.ValidBytes(frame) {
		metrics.RecordDroppedFrame("unparseable")
		c.log.Warn().Msg("dropping unparseable frame")
		return
	}

	switch kind := gjson.GetBytes(frame, "kind").String(); kind {
	case KindHistoryPush:
		h.handlePush(ctx, c, frame)
	case KindHistoryUndo:
		h.svc.Undo(ctx, c.projectID)
	case KindHistoryRedo:
		h.svc.Redo(ctx, c.projectID)
	case KindCursor:
		h.handleCursor(c, frame)
	case KindInit:
		h.sendInit(ctx, c)
	default:
		metrics.RecordDroppedFrame("unknown_kind")
		c.log.Warn().Str("kind", kind).Msg("dropping frame of unknown kind")
	}
}

func (h *Handler) handlePush(ctx context.Context, c *Client, frame []byte) {
	var f pushFrame
	if err := json.Unmarshal(frame, &f); err != nil || f.Op == nil {
		metrics.RecordDroppedFrame("invalid_op")
		c.log.Warn().Msg("dropping push frame without operation")
		return
	}

	if _, err := h.svc.Push(ctx, c.projectID, f.Op); err != nil {
		metrics.RecordDroppedFrame("invalid_op")
		c.log.Warn().Err(err).Msg("dropping invalid operation")
	}
}

func (h *Handler) handleCursor(c *Client, frame []byte) {
	if !c.limiter.Allow() {
		metrics.RecordDroppedFrame("cursor_throttled")
		return
	}

	var msg cursorMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		metrics.RecordDroppedFrame("unparseable")
		c.log.Warn().Msg("dropping malformed cursor frame")
		return
	}
	msg.Kind = KindCursor

	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.hub.Broadcast(c.projectID, payload, c)
}

func (h *Handler) sendInit(ctx context.Context, c *Client) {
	payload, err := encodeInit(h.svc.State(ctx, c.projectID))
	if err != nil {
		c.log.Error().Err(err).Msg("encode init state")
		return
	}
	c.trySend(payload)
}
