// Package websocket streams alert events to connected clinician clients.
// Clients subscribe to "all" or to "patient:<id>" topics; any JSON payload
// carrying a patient_id is delivered to both. A client bound to a patient set
// only ever receives events for those patients.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/cdsengine/internal/platform/apperr"
	"github.com/ehr/cdsengine/internal/platform/auth"
)

const (
	TopicAll      = "all"
	patientPrefix = "patient:"

	sendBuffer = 64
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// PatientTopic names the topic carrying one patient's events.
func PatientTopic(patientID string) string {
	return patientPrefix + patientID
}

func validTopic(t string) bool {
	return t == TopicAll || (strings.HasPrefix(t, patientPrefix) && len(t) > len(patientPrefix))
}

// PatientScope lists the patients a doctor may follow.
type PatientScope interface {
	PatientIDsForDoctor(ctx context.Context, doctorID string) ([]string, error)
}

// ClientMessage is an inbound subscription change.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

type Client struct {
	ID     string
	UserID string
	Send   chan []byte

	topics map[string]struct{}
	// patients is nil for unrestricted clients.
	patients map[string]bool
}

func newClient(userID string) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Send:   make(chan []byte, sendBuffer),
		topics: make(map[string]struct{}),
	}
}

// newScopedClient creates a client limited to patientIDs. An empty list
// admits nothing.
func newScopedClient(userID string, patientIDs []string) *Client {
	c := newClient(userID)
	c.patients = make(map[string]bool, len(patientIDs))
	for _, id := range patientIDs {
		c.patients[id] = true
	}
	return c
}

func (c *Client) allows(patientID string) bool {
	return c.patients == nil || c.patients[patientID]
}

// Hub tracks clients by topic. It implements events.Bus so services can
// publish to it directly when no broker is configured.
type Hub struct {
	mu      sync.RWMutex
	byTopic map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		byTopic: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client, topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[c] = struct{}{}
	h.subscribeLocked(c, topics)
}

// Unregister drops the client from every topic and closes its Send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return
	}
	for t := range c.topics {
		h.removeLocked(c, t)
	}
	delete(h.all, c)
	close(c.Send)
}

func (h *Hub) Subscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribeLocked(c, topics)
}

func (h *Hub) Unsubscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		h.removeLocked(c, t)
	}
}

func (h *Hub) subscribeLocked(c *Client, topics []string) {
	for _, t := range topics {
		if !validTopic(t) {
			continue
		}
		if pid, ok := strings.CutPrefix(t, patientPrefix); ok && !c.allows(pid) {
			h.logger.Debug().Str("client_id", c.ID).Str("topic", t).Msg("websocket subscription outside patient scope ignored")
			continue
		}
		if h.byTopic[t] == nil {
			h.byTopic[t] = make(map[*Client]struct{})
		}
		h.byTopic[t][c] = struct{}{}
		c.topics[t] = struct{}{}
	}
}

func (h *Hub) removeLocked(c *Client, t string) {
	if subs, ok := h.byTopic[t]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.byTopic, t)
		}
	}
	delete(c.topics, t)
}

func (h *Hub) ProcessMessage(c *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(c, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(c, msg.Topics)
	}
}

// Dispatch delivers a raw JSON event to "all" subscribers and to the
// subscribers of its patient topic. Each client receives it at most once; a
// client whose buffer is full misses it, and a scoped client never sees other
// patients' events.
func (h *Hub) Dispatch(data []byte) {
	var env struct {
		PatientID string `json:"patient_id"`
	}
	_ = json.Unmarshal(data, &env)

	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := make(map[*Client]struct{})
	for c := range h.byTopic[TopicAll] {
		targets[c] = struct{}{}
	}
	if env.PatientID != "" {
		for c := range h.byTopic[PatientTopic(env.PatientID)] {
			targets[c] = struct{}{}
		}
	}
	for c := range targets {
		if !c.allows(env.PatientID) {
			continue
		}
		select {
		case c.Send <- data:
		default:
			h.logger.Warn().Str("client_id", c.ID).Msg("websocket client buffer full, dropping event")
		}
	}
}

// Publish satisfies events.Bus. The channel name is ignored.
func (h *Hub) Publish(_ context.Context, _ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("websocket: marshal event: %w", err)
	}
	h.Dispatch(data)
	return nil
}

// Consume dispatches every message from msgs until ctx ends or msgs closes.
func (h *Hub) Consume(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				return
			}
			h.Dispatch(data)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byTopic[topic])
}

// Handler upgrades clinician connections onto the hub.
type Handler struct {
	hub      *Hub
	scope    PatientScope
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts browser connections only from allowedOrigins. Requests
// without an Origin header (non-browser clients) are always accepted. Doctors
// are bound to the patients scope returns for them at connect time.
func NewHandler(hub *Hub, scope PatientScope, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		hub:   hub,
		scope: scope,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/alerts/stream", h.Connect, auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
}

// Connect subscribes the new client to ?patient=<id> when given, else to "all".
// A doctor asking for a patient outside their appointments is refused before
// the upgrade.
func (h *Handler) Connect(c echo.Context) error {
	ctx := c.Request().Context()
	actor := auth.ActorFromContext(ctx)
	pid := strings.TrimSpace(c.QueryParam("patient"))
	topic := TopicAll
	if pid != "" {
		topic = PatientTopic(pid)
	}

	var client *Client
	if actor.Role == auth.RoleDoctor {
		ids, err := h.scope.PatientIDsForDoctor(ctx, actor.UserID)
		if err != nil {
			h.hub.logger.Error().Err(err).Str("user_id", actor.UserID).Msg("failed to resolve doctor's patients for stream")
			return apperr.ToHTTP(err)
		}
		client = newScopedClient(actor.UserID, ids)
		if pid != "" && !client.allows(pid) {
			return apperr.ToHTTP(apperr.Forbidden("patient is not under this doctor's care"))
		}
	} else {
		client = newClient(actor.UserID)
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	h.hub.Register(client, topic)
	h.hub.logger.Debug().Str("client_id", client.ID).Str("user_id", client.UserID).Str("topic", topic).
		Msg("websocket client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()
	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(2 * pingPeriod))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(2 * pingPeriod))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, nil)
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
