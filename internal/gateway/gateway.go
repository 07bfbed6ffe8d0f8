package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/energosphere/game-engine/internal/auth"
	"github.com/energosphere/game-engine/internal/economy"
	"github.com/energosphere/game-engine/internal/events"
	"github.com/energosphere/game-engine/internal/metrics"
	"github.com/energosphere/game-engine/internal/model"
	"github.com/energosphere/game-engine/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// tickInterval drives periodic session updates to each connection.
	tickInterval = 60 * time.Second

	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// Gateway dispatches WebSocket commands to the session layer and pushes
// resulting state back out over the hub.
type Gateway struct {
	hub      *Hub
	sessions *session.Manager
	verifier *auth.TokenVerifier
	events   *events.Scheduler
}

// NewGateway wires the WebSocket surface to the session manager.
func NewGateway(hub *Hub, sessions *session.Manager, verifier *auth.TokenVerifier, sched *events.Scheduler) *Gateway {
	return &Gateway{hub: hub, sessions: sessions, verifier: verifier, events: sched}
}

// Hub returns the gateway's hub, which implements the scheduler's
// Broadcaster.
func (g *Gateway) Hub() *Hub { return g.hub }

// HandleWS handles WebSocket upgrade requests at GET /ws. Every command
// before a successful authenticate is rejected.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	g.hub.register <- c

	go g.writePump(c)
	go g.readPump(c)
}

// writePump drains the client's send buffer onto the wire and keeps the
// connection alive through proxies with pings.
func (g *Gateway) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump parses inbound envelopes and dispatches commands until the
// connection drops, then closes out the player's session.
func (g *Gateway) readPump(c *client) {
	ctx := context.Background()
	ticker := time.NewTicker(tickInterval)

	defer func() {
		ticker.Stop()
		g.disconnect(ctx, c)
		g.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, msg, err := c.conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			frames <- msg
		}
	}()

	for {
		select {
		case msg := <-frames:
			var env Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				g.sendTo(c, "error", map[string]any{"message": "malformed message"})
				continue
			}
			g.dispatch(ctx, c, env)

		case <-ticker.C:
			g.tick(ctx, c)

		case <-readErr:
			return
		}
	}
}

// sendTo queues an event for a single connection, dropping it if the
// client cannot keep up.
func (g *Gateway) sendTo(c *client, event string, payload any) {
	frame, ok := encode(event, payload)
	if !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *client, env Envelope) {
	if env.Type == "authenticate" {
		g.handleAuthenticate(ctx, c, env.Data)
		return
	}
	if c.playerID == "" {
		g.sendTo(c, "error", map[string]any{"message": "not authenticated"})
		return
	}

	switch env.Type {
	case "click_crystal":
		g.handleClick(ctx, c)
	case "buy_generator":
		g.handleBuyGenerator(ctx, c, env.Data)
	case "request_rebirth":
		g.handleRebirth(ctx, c)
	default:
		g.sendTo(c, "error", map[string]any{"message": "unknown command: " + env.Type})
	}
}

func (g *Gateway) handleAuthenticate(ctx context.Context, c *client, data json.RawMessage) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Token == "" {
		g.sendTo(c, "auth_error", map[string]any{"message": "token is required"})
		return
	}

	claims, err := g.verifier.Verify(req.Token)
	if err != nil {
		g.sendTo(c, "auth_error", map[string]any{"message": "invalid token"})
		return
	}

	p, err := g.sessions.Authenticate(ctx, claims.Subject, claims.Username)
	if err != nil {
		slog.Error("authenticate failed", "player", claims.Subject, "err", err)
		g.sendTo(c, "auth_error", map[string]any{"message": "authentication failed"})
		return
	}

	g.hub.identify(c, p.ID, p.GuildID)

	payload := map[string]any{"player": p}
	if g.events != nil {
		payload["active_events"] = g.events.ActiveEvents()
	}
	g.sendTo(c, "authenticated", payload)

	if p.GuildID != "" {
		g.hub.BroadcastGuild(p.GuildID, "player_online", map[string]any{
			"player_id": p.ID,
			"username":  p.Username,
		})
	}
}

func (g *Gateway) handleClick(ctx context.Context, c *client) {
	out, err := g.sessions.Click(ctx, c.playerID)
	if err != nil {
		g.sendTo(c, "error", map[string]any{"message": "click failed"})
		return
	}

	if out.Critical {
		metrics.ClicksTotal.WithLabelValues("true").Inc()
	} else {
		metrics.ClicksTotal.WithLabelValues("false").Inc()
	}

	g.sendTo(c, "energy_update", map[string]any{
		"energy":              out.Player.Energy,
		"total_energy_earned": out.Player.TotalEnergyEarned,
		"gained":              out.Energy,
	})
	if out.Critical {
		g.sendTo(c, "bonus_click", map[string]any{
			"energy":   out.Energy,
			"critical": true,
		})
	}
	if c.guildID != "" {
		g.hub.BroadcastGuild(c.guildID, "guild_member_activity", map[string]any{
			"player_id": c.playerID,
			"activity":  "clicking",
		})
	}
}

func (g *Gateway) handleBuyGenerator(ctx context.Context, c *client, data json.RawMessage) {
	var req struct {
		GeneratorType model.GeneratorType `json:"generator_type"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.GeneratorType == "" {
		g.sendTo(c, "error", map[string]any{"message": "generator_type is required"})
		return
	}

	out, err := g.sessions.BuyGenerator(ctx, c.playerID, req.GeneratorType)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInsufficientFunds):
			g.sendTo(c, "error", map[string]any{"message": "insufficient energy"})
		default:
			g.sendTo(c, "error", map[string]any{"message": "purchase failed"})
		}
		return
	}

	metrics.GeneratorsPurchased.WithLabelValues(string(req.GeneratorType)).Inc()

	rate, _ := economy.ProductionOf(out.Generator.Type, out.Generator.Count,
		out.Generator.Level, out.Generator.Efficiency)
	g.sendTo(c, "generator_purchased", map[string]any{
		"type":                  out.Generator.Type,
		"count":                 out.Generator.Count,
		"cost":                  out.Cost,
		"production_per_second": rate,
		"energy":                out.Player.Energy,
	})
	if c.guildID != "" {
		g.hub.BroadcastGuild(c.guildID, "guild_member_upgrade", map[string]any{
			"player_id": c.playerID,
			"upgrade":   "generator",
			"type":      out.Generator.Type,
			"count":     out.Generator.Count,
		})
	}
}

func (g *Gateway) handleRebirth(ctx context.Context, c *client) {
	out, p, err := g.sessions.Rebirth(ctx, c.playerID)
	if err != nil {
		if errors.Is(err, session.ErrRebirthNotEligible) {
			g.sendTo(c, "rebirth_error", map[string]any{"message": "rebirth not yet available"})
			return
		}
		g.sendTo(c, "rebirth_error", map[string]any{"message": "rebirth failed"})
		return
	}

	metrics.RebirthsTotal.Inc()

	g.sendTo(c, "rebirth_completed", map[string]any{
		"quantum_points_earned": out.QuantumPointsEarned,
		"rebirth_count":         out.NewRebirthCount,
		"player":                p,
	})
	g.hub.BroadcastAll("global_event", map[string]any{
		"type":          "rebirth",
		"player":        p.Username,
		"rebirth_count": out.NewRebirthCount,
	})
	if c.guildID != "" {
		g.hub.BroadcastGuild(c.guildID, "guild_member_activity", map[string]any{
			"player_id": c.playerID,
			"activity":  "rebirth",
			"count":     out.NewRebirthCount,
		})
	}
}

// tick advances the session clock for a connected, authenticated player
// and pushes a fresh snapshot.
func (g *Gateway) tick(ctx context.Context, c *client) {
	if c.playerID == "" {
		return
	}
	p, err := g.sessions.Tick(ctx, c.playerID, tickInterval)
	if err != nil {
		// Logged and skipped; the next tick gets a fresh attempt.
		slog.Warn("session tick failed", "player", c.playerID, "err", err)
		return
	}
	g.sendTo(c, "session_update", map[string]any{
		"session_time": p.SessionTimeForRebirth,
		"can_rebirth":  p.SessionTimeForRebirth >= session.RebirthMinSessionSeconds,
		"player":       p,
	})
}

func (g *Gateway) disconnect(ctx context.Context, c *client) {
	if c.playerID == "" {
		return
	}
	if _, err := g.sessions.Disconnect(ctx, c.playerID); err != nil {
		slog.Warn("disconnect bookkeeping failed", "player", c.playerID, "err", err)
	}
	if c.guildID != "" {
		g.hub.BroadcastGuild(c.guildID, "guild_member_offline", map[string]any{
			"player_id": c.playerID,
		})
	}
}
