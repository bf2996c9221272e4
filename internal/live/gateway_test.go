package live

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mattdh/officepulse/internal/models"
	"github.com/mattdh/officepulse/internal/rankings"
	"github.com/mattdh/officepulse/internal/store"
	"github.com/mattdh/officepulse/internal/tiebreak"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func drain(sub *subscriber) []wsMsg {
	out := []wsMsg{}
	for {
		select {
		case msg, ok := <-sub.queue:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func primeState(h *hub, sub *subscriber, seq0 uint64, snapshot stateUpdate) {
	h.prime(sub, seq0, wsMsg{Type: "state_update", Data: snapshot})
}

func TestSubscribePrimesWithSnapshot(t *testing.T) {
	h := newHub()
	sub, seq0 := h.subscribe()
	primeState(h, sub, seq0, stateUpdate{SessionID: "s1", CurrentTurn: "alice"})

	msgs := drain(sub)
	if len(msgs) != 1 {
		t.Fatalf("got %d primed messages, want 1", len(msgs))
	}
	if msgs[0].Type != "state_update" {
		t.Fatalf("primed type = %s, want state_update", msgs[0].Type)
	}
	if msgs[0].Seq == 0 {
		t.Fatal("primed message carries no sequence number")
	}
}

func TestBroadcastSequenceIsMonotonic(t *testing.T) {
	h := newHub()
	sub, seq0 := h.subscribe()
	primeState(h, sub, seq0, stateUpdate{SessionID: "s1"})
	drain(sub)

	for i := 0; i < 5; i++ {
		h.broadcast(wsMsg{Type: "state_update", Data: stateUpdate{SessionID: "s1"}})
	}

	var last uint64
	for _, msg := range drain(sub) {
		if msg.Seq <= last {
			t.Fatalf("sequence went %d -> %d, want strictly increasing", last, msg.Seq)
		}
		last = msg.Seq
	}
}

func TestPrimeSkippedWhenBroadcastRacesIn(t *testing.T) {
	h := newHub()
	sub, seq0 := h.subscribe()

	// A move lands between registration and the state read; the stale
	// snapshot must not be primed over it.
	h.broadcast(wsMsg{Type: "state_update", Data: stateUpdate{SessionID: "s1", Status: models.SessionCompleted}})
	primeState(h, sub, seq0, stateUpdate{SessionID: "s1", Status: models.SessionActive})

	msgs := drain(sub)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want the broadcast only", len(msgs))
	}
	if got := msgs[0].Data.(stateUpdate).Status; got != models.SessionCompleted {
		t.Fatalf("delivered status = %s, want the fresher completed state", got)
	}
}

func TestLateViewerGetsTerminalState(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	done := time.Now().UTC()
	if err := mem.CreateTieBreaker(ctx, models.TieBreaker{
		ID: "tb1", Period: models.PeriodWeekly, Mode: models.ModeEarlyBird,
		Status: models.TieBreakerCompleted,
		Participants: []models.Participant{
			{ID: "p1", Person: "alice", Winner: true},
			{ID: "p2", Person: "bob"},
		},
	}); err != nil {
		t.Fatalf("CreateTieBreaker: %v", err)
	}
	if err := mem.CreateSession(ctx, models.GameSession{
		ID: "g1", TieBreakerID: "tb1", Kind: models.GameTicTacToe,
		Player1: "alice", Player2: "bob", Status: models.SessionCompleted,
		Board: make([]string, 9), Winner: "alice", CompletedAt: &done,
	}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	mgr := tiebreak.New(mem, rankings.New(mem, testLogger()), testLogger())
	g := New(mgr, testLogger())

	r := mux.NewRouter()
	r.HandleFunc("/ws/games/{id}", g.ServeWS)
	ts := httptest.NewServer(r)
	defer ts.Close()

	// The game finished and its hub is long gone; a viewer connecting
	// now must still see the completed state, not hang on an empty hub.
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/games/g1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first wsMsg
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != "state_update" {
		t.Fatalf("first message type = %s, want state_update", first.Type)
	}
	state := first.Data.(map[string]any)
	if state["status"] != models.SessionCompleted {
		t.Fatalf("snapshot status = %v, want completed", state["status"])
	}
	if state["winner"] != "alice" {
		t.Fatalf("snapshot winner = %v, want alice", state["winner"])
	}

	var second wsMsg
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read completion: %v", err)
	}
	if second.Type != "game_completed" {
		t.Fatalf("second message type = %s, want game_completed", second.Type)
	}
	if second.Seq <= first.Seq {
		t.Fatalf("sequence went %d -> %d, want strictly increasing", first.Seq, second.Seq)
	}
}

func TestSlowSubscriberCoalescesToNewest(t *testing.T) {
	h := newHub()
	sub, _ := h.subscribe()

	// Nobody drains; overflow must drop the oldest, keep the newest,
	// and never block the broadcaster.
	total := subscriberQueueLen * 3
	for i := 0; i < total; i++ {
		h.broadcast(wsMsg{Type: "state_update", Data: i})
	}

	msgs := drain(sub)
	if len(msgs) != subscriberQueueLen {
		t.Fatalf("queue held %d messages, want %d", len(msgs), subscriberQueueLen)
	}
	newest := msgs[len(msgs)-1]
	if got := newest.Data.(int); got != total-1 {
		t.Fatalf("newest payload = %v, want %d", got, total-1)
	}
}

func TestUnsubscribedQueueIsIndependent(t *testing.T) {
	h := newHub()
	a, _ := h.subscribe()
	b, _ := h.subscribe()
	drain(a)
	drain(b)

	h.unsubscribe(a)
	h.broadcast(wsMsg{Type: "state_update"})

	if got := len(drain(b)); got != 1 {
		t.Fatalf("remaining subscriber got %d messages, want 1", got)
	}
	// Departed subscriber must tolerate late sends without panicking.
	a.send(wsMsg{Type: "state_update"})
	if h.count() != 1 {
		t.Fatalf("hub count = %d, want 1", h.count())
	}
}

func TestCloseLaterEndsAllQueues(t *testing.T) {
	h := newHub()
	a, _ := h.subscribe()
	drain(a)

	h.closeLater()
	if _, ok := <-a.queue; ok {
		t.Fatal("queue still open after closeLater")
	}
	a.send(wsMsg{Type: "state_update"}) // must be a no-op
	if h.count() != 0 {
		t.Fatalf("hub count = %d, want 0", h.count())
	}
}
