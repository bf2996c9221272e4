package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/mattdh/officepulse/internal/config"
	"github.com/mattdh/officepulse/internal/live"
	"github.com/mattdh/officepulse/internal/models"
	"github.com/mattdh/officepulse/internal/rankings"
	"github.com/mattdh/officepulse/internal/store"
	"github.com/mattdh/officepulse/internal/streaks"
	"github.com/mattdh/officepulse/internal/tiebreak"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testServer wires a full handler over an in-memory store seeded with a
// closed week where alice and bob tie at 12.0 points under both modes.
func testServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	settings := models.DefaultSettings()
	settings.Points[models.StatusInOffice] = 5
	settings.EarlyBirdBonus = 1
	settings.LastInBonus = 1
	settings.WorkingDays = map[string][]string{
		"alice": {"mon", "tue"},
		"bob":   {"mon", "tue"},
	}
	if err := mem.SaveSettings(ctx, settings); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	for _, e := range []models.AttendanceEntry{
		{ID: "a1", Person: "alice", Date: "2025-06-02", Time: "08:00", Status: models.StatusInOffice},
		{ID: "b1", Person: "bob", Date: "2025-06-02", Time: "09:00", Status: models.StatusInOffice},
		{ID: "a2", Person: "alice", Date: "2025-06-03", Time: "09:00", Status: models.StatusInOffice},
		{ID: "b2", Person: "bob", Date: "2025-06-03", Time: "08:00", Status: models.StatusInOffice},
	} {
		if err := mem.PutEntry(ctx, e); err != nil {
			t.Fatalf("PutEntry: %v", err)
		}
	}

	now, _ := models.ParseDate("2025-06-10")
	ranks := rankings.New(mem, testLogger())
	if err := ranks.Refresh(ctx, now); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	tracker := streaks.New(mem, testLogger())
	if err := tracker.Refresh(ctx, now); err != nil {
		t.Fatalf("streaks Refresh: %v", err)
	}
	ties := tiebreak.New(mem, ranks, testLogger())
	if err := ties.Detect(ctx, now); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	gateway := live.New(ties, testLogger())

	srv := New(config.Config{CORSOrigins: []string{"*"}}, ranks, tracker, ties, gateway, func() {}, "test", testLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, mem
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status = %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRankingsEndpoint(t *testing.T) {
	ts, _ := testServer(t)

	var body struct {
		Mode      string              `json:"mode"`
		Standings []rankings.Standing `json:"standings"`
	}
	getJSON(t, ts.URL+"/rankings/weekly?date=2025-06-02&mode=last-in", &body)

	if body.Mode != models.ModeLastIn {
		t.Fatalf("mode = %s, want last-in", body.Mode)
	}
	if len(body.Standings) != 2 {
		t.Fatalf("got %d standings, want 2", len(body.Standings))
	}
	for _, s := range body.Standings {
		if s.Score != 12 {
			t.Fatalf("score for %s = %v, want 12", s.Person, s.Score)
		}
	}
}

func TestRankingsValidation(t *testing.T) {
	ts, _ := testServer(t)
	for path, want := range map[string]int{
		"/rankings/hourly":                 http.StatusBadRequest,
		"/rankings/weekly?mode=psychic":    http.StatusBadRequest,
		"/rankings/weekly?date=junk":       http.StatusBadRequest,
		"/rankings/weekly?date=2025-06-02": http.StatusOK,
		"/rankings/today":                  http.StatusOK,
		"/streaks":                         http.StatusOK,
		"/tie-breakers?mode=last-in":       http.StatusOK,
		"/tie-breakers?mode=sideways":      http.StatusBadRequest,
		"/health":                          http.StatusOK,
		"/version":                         http.StatusOK,
		"/metrics":                         http.StatusOK,
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("GET %s status = %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestStreaksEndpoint(t *testing.T) {
	ts, _ := testServer(t)
	var body struct {
		Streaks []models.Streak `json:"streaks"`
	}
	getJSON(t, ts.URL+"/streaks", &body)
	if len(body.Streaks) != 2 {
		t.Fatalf("got %d streaks, want 2", len(body.Streaks))
	}
}

func TestGameFlowOverHTTP(t *testing.T) {
	ts, _ := testServer(t)

	var listing struct {
		TieBreakers []models.TieBreaker `json:"tie_breakers"`
	}
	getJSON(t, ts.URL+"/tie-breakers?mode=last-in", &listing)
	if len(listing.TieBreakers) != 1 {
		t.Fatalf("got %d cases, want 1", len(listing.TieBreakers))
	}
	tbID := listing.TieBreakers[0].ID

	// Malformed choice: missing person.
	if resp := postJSON(t, ts.URL+"/tie-breakers/"+tbID+"/choose-game",
		map[string]string{"game": "tictactoe"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing person status = %d, want 400", resp.StatusCode)
	}
	// Unknown kind is caught by the DTO validator.
	if resp := postJSON(t, ts.URL+"/tie-breakers/"+tbID+"/choose-game",
		map[string]string{"person": "alice", "game": "chess"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad kind status = %d, want 400", resp.StatusCode)
	}

	for _, person := range []string{"alice", "bob"} {
		resp := postJSON(t, ts.URL+"/tie-breakers/"+tbID+"/choose-game",
			map[string]string{"person": person, "game": "tictactoe"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("choose-game(%s) status = %d", person, resp.StatusCode)
		}
	}

	var tb models.TieBreaker
	getJSON(t, ts.URL+"/tie-breakers?mode=last-in", &listing)
	tb = listing.TieBreakers[0]
	if tb.Status != models.TieBreakerInProgress || len(tb.Games) != 1 {
		t.Fatalf("case = %s with %d games, want in_progress with 1", tb.Status, len(tb.Games))
	}
	gameID := tb.Games[0].ID

	// Moving before the opponent joined is a conflict.
	if resp := postJSON(t, ts.URL+"/games/"+gameID+"/move",
		map[string]any{"person": "alice", "position": 0}); resp.StatusCode != http.StatusConflict {
		t.Fatalf("move before join status = %d, want 409", resp.StatusCode)
	}
	if resp := postJSON(t, ts.URL+"/games/"+gameID+"/join",
		map[string]string{"person": "bob"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("join status = %d", resp.StatusCode)
	}

	// Out-of-turn move loses the race and is told so.
	if resp := postJSON(t, ts.URL+"/games/"+gameID+"/move",
		map[string]any{"person": "bob", "position": 8}); resp.StatusCode != http.StatusConflict {
		t.Fatalf("out-of-turn status = %d, want 409", resp.StatusCode)
	}

	for _, mv := range []struct {
		person string
		pos    int
	}{{"alice", 0}, {"bob", 3}, {"alice", 1}, {"bob", 4}, {"alice", 2}} {
		resp := postJSON(t, ts.URL+"/games/"+gameID+"/move",
			map[string]any{"person": mv.person, "position": mv.pos})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("move(%s, %d) status = %d", mv.person, mv.pos, resp.StatusCode)
		}
	}

	getJSON(t, ts.URL+"/tie-breakers?mode=last-in", &listing)
	if got := listing.TieBreakers[0].Status; got != models.TieBreakerCompleted {
		t.Fatalf("case status = %s, want completed", got)
	}

	// Unknown game id maps to 404.
	if resp := postJSON(t, ts.URL+"/games/nope/move",
		map[string]any{"person": "alice", "position": 0}); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown game status = %d, want 404", resp.StatusCode)
	}
}

func TestMaintenanceEndpoints(t *testing.T) {
	ts, mem := testServer(t)

	for _, path := range []string{
		"/maintenance/reset-tiebreakers",
		"/maintenance/reset-tiebreaker-effects",
		"/maintenance/reset-streaks",
	} {
		resp := postJSON(t, ts.URL+path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("POST %s status = %d", path, resp.StatusCode)
		}
	}

	left, err := mem.ListTieBreakers(context.Background(), "")
	if err != nil {
		t.Fatalf("ListTieBreakers: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("%d cases left after reset", len(left))
	}
	streaksLeft, err := mem.ListStreaks(context.Background())
	if err != nil {
		t.Fatalf("ListStreaks: %v", err)
	}
	if len(streaksLeft) != 0 {
		t.Fatalf("%d streaks left after reset", len(streaksLeft))
	}
}

func TestVersionEndpoint(t *testing.T) {
	ts, _ := testServer(t)
	var body map[string]string
	getJSON(t, ts.URL+"/version", &body)
	if body["version"] != "test" {
		t.Fatalf("version = %q, want test", body["version"])
	}
}

func TestHealthReportsFreshness(t *testing.T) {
	ts, _ := testServer(t)
	var body struct {
		Status      string    `json:"status"`
		GeneratedAt time.Time `json:"generated_at"`
	}
	getJSON(t, ts.URL+"/health", &body)
	if body.Status != "ok" {
		t.Fatalf("status = %q, want ok", body.Status)
	}
	if body.GeneratedAt.IsZero() {
		t.Fatal("generated_at not populated")
	}
}
