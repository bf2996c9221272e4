// Package live pushes authoritative game state to websocket viewers.
// Each session gets one broadcaster; each subscriber gets an
// independent delivery queue so a slow or dead client never stalls the
// others. Queues coalesce to the newest state on overflow, which is
// safe because every update carries the full board.
package live

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mattdh/officepulse/internal/game"
	"github.com/mattdh/officepulse/internal/metrics"
	"github.com/mattdh/officepulse/internal/models"
	"github.com/mattdh/officepulse/internal/tiebreak"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

const (
	subscriberQueueLen = 16
	writeTimeout       = 10 * time.Second
)

type wsMsg struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
	Data any    `json:"data"`
}

type stateUpdate struct {
	SessionID   string   `json:"session_id"`
	Kind        string   `json:"game_type"`
	Status      string   `json:"status"`
	Board       []string `json:"board"`
	CurrentTurn string   `json:"current_turn"`
	Player1     string   `json:"player1"`
	Player2     string   `json:"player2"`
	Winner      string   `json:"winner,omitempty"`
}

type gameCompleted struct {
	SessionID     string `json:"session_id"`
	Winner        string `json:"winner,omitempty"`
	Draw          bool   `json:"draw"`
	NextSessionID string `json:"next_session_id,omitempty"`
}

type clientIn struct {
	Type     string `json:"type"`
	Position int    `json:"position"`
}

// Gateway owns the per-session hubs and serves the websocket endpoint.
type Gateway struct {
	mgr *tiebreak.Manager
	log *slog.Logger

	mu   sync.Mutex
	hubs map[string]*hub
}

// New wires a gateway and registers itself as the manager's notifier.
func New(mgr *tiebreak.Manager, lg *slog.Logger) *Gateway {
	g := &Gateway{
		mgr:  mgr,
		log:  lg.With(slog.String("component", "live")),
		hubs: map[string]*hub{},
	}
	mgr.SetNotifier(g.publish)
	return g
}

// hubFor returns the session's hub, creating it on first use.
func (g *Gateway) hubFor(sessionID string) *hub {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.hubs[sessionID]
	if !ok {
		h = newHub()
		g.hubs[sessionID] = h
	}
	return h
}

// publish fans a session event out to its subscribers. Ordering per
// subscriber follows the monotonically increasing seq.
func (g *Gateway) publish(ev tiebreak.SessionEvent) {
	h := g.hubFor(ev.Session.ID)
	h.broadcast(wsMsg{Type: "state_update", Data: snapshotOf(ev.Session)})

	if ev.Session.Status != models.SessionCompleted {
		return
	}
	h.broadcast(wsMsg{Type: "game_completed", Data: gameCompleted{
		SessionID:     ev.Session.ID,
		Winner:        ev.Session.Winner,
		Draw:          ev.Outcome.Result == game.Draw,
		NextSessionID: ev.NextSessionID,
	}})
	// Completed sessions get no further updates; drop the hub once the
	// remaining queued messages drain.
	g.mu.Lock()
	delete(g.hubs, ev.Session.ID)
	g.mu.Unlock()
	h.closeLater()
}

func snapshotOf(s models.GameSession) stateUpdate {
	return stateUpdate{
		SessionID:   s.ID,
		Kind:        s.Kind,
		Status:      s.Status,
		Board:       s.Board,
		CurrentTurn: s.CurrentTurn,
		Player1:     s.Player1,
		Player2:     s.Player2,
		Winner:      s.Winner,
	}
}

// ServeWS upgrades a viewer connection for GET /ws/games/{id}. The
// current state is sent immediately so late joiners can render without
// waiting for the next move. A "player" query parameter lets a seated
// player submit moves over the same connection.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	player := r.URL.Query().Get("player")

	if _, err := g.mgr.Session(r.Context(), sessionID); err != nil {
		http.Error(w, "unknown game session", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied
	}
	g.log.Info("viewer_connected",
		slog.String("session", sessionID),
		slog.String("player", player),
		slog.String("remote", r.RemoteAddr),
	)

	// Register before reading state: a completion between the read and
	// the registration is broadcast on a hub this viewer never joined.
	// Registered first, the viewer gets it either from the broadcast or
	// from the reread.
	h := g.hubFor(sessionID)
	sub, seq0 := h.subscribe()
	if s, err := g.mgr.Session(r.Context(), sessionID); err == nil {
		msgs := []wsMsg{{Type: "state_update", Data: snapshotOf(s)}}
		if s.Status == models.SessionCompleted {
			msgs = append(msgs, wsMsg{Type: "game_completed", Data: gameCompleted{
				SessionID: s.ID,
				Winner:    s.Winner,
				Draw:      s.Winner == "",
			}})
		}
		h.prime(sub, seq0, msgs...)
	}
	metrics.LiveSubscribers.Inc()
	defer metrics.LiveSubscribers.Dec()
	go g.writer(conn, sub)
	g.reader(conn, h, sub, sessionID, player)
}

// writer drains one subscriber queue onto the wire.
func (g *Gateway) writer(conn *websocket.Conn, sub *subscriber) {
	for msg := range sub.queue {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			g.log.Debug("write_failed", slog.String("err", err.Error()))
			_ = conn.Close()
			return
		}
	}
	_ = conn.Close()
}

// reader consumes client messages until disconnect. Seated players may
// submit moves; everything else is ignored.
func (g *Gateway) reader(conn *websocket.Conn, h *hub, sub *subscriber, sessionID, player string) {
	defer h.unsubscribe(sub)
	for {
		var in clientIn
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		switch in.Type {
		case "move":
			if player == "" {
				sub.send(wsMsg{Type: "error", Data: "connection has no player seat"})
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, _, err := g.mgr.SubmitMove(ctx, sessionID, player, in.Position)
			cancel()
			if err != nil {
				// Rejections carry no state change; the client resyncs
				// from the last state_update.
				sub.send(wsMsg{Type: "error", Data: err.Error()})
			}
		case "join":
			if player == "" {
				sub.send(wsMsg{Type: "error", Data: "connection has no player seat"})
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, err := g.mgr.JoinGame(ctx, sessionID, player)
			cancel()
			if err != nil {
				sub.send(wsMsg{Type: "error", Data: err.Error()})
			}
		}
	}
}

// Subscribers reports the current viewer count across all sessions.
func (g *Gateway) Subscribers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, h := range g.hubs {
		n += h.count()
	}
	return n
}

// ========================= hub =========================

type subscriber struct {
	mu     sync.Mutex
	closed bool
	queue  chan wsMsg
}

// send enqueues without ever blocking the broadcaster: when the queue
// is full the oldest message is dropped in favour of the newest. Sends
// after close are no-ops.
func (s *subscriber) send(msg wsMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.queue <- msg:
			return
		default:
			select {
			case <-s.queue:
			default:
			}
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
}

type hub struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[*subscriber]bool
	closed bool
}

func newHub() *hub {
	return &hub{subs: map[*subscriber]bool{}}
}

// subscribe registers a queue and reports the seq at registration, so
// the caller can prime a snapshot only when no broadcast raced in.
func (h *hub) subscribe() (*subscriber, uint64) {
	sub := &subscriber{queue: make(chan wsMsg, subscriberQueueLen)}
	h.mu.Lock()
	if !h.closed {
		h.subs[sub] = true
	}
	seq := h.seq
	h.mu.Unlock()
	return sub, seq
}

// prime delivers fetched state to one subscriber unless a broadcast
// advanced the hub since registration; the queue already carries
// fresher state then.
func (h *hub) prime(sub *subscriber, seq0 uint64, msgs ...wsMsg) {
	h.mu.Lock()
	if h.seq == seq0 {
		for _, msg := range msgs {
			h.seq++
			msg.Seq = h.seq
			sub.send(msg)
		}
	}
	h.mu.Unlock()
}

func (h *hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.close()
}

// broadcast stamps the next seq and fans out. Stamping and fan-out
// share the lock so every subscriber observes the same order.
func (h *hub) broadcast(msg wsMsg) {
	h.mu.Lock()
	h.seq++
	msg.Seq = h.seq
	for sub := range h.subs {
		sub.send(msg)
	}
	h.mu.Unlock()
}

// closeLater closes all subscriber queues; writers drain what is
// already buffered and then hang up.
func (h *hub) closeLater() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		delete(h.subs, sub)
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
