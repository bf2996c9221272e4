// Package api exposes the core over HTTP: ranking and streak reads,
// tie-breaker actions, administrative resets and the websocket
// endpoint. Handlers are thin; all rules live in the domain packages.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/mattdh/officepulse/internal/config"
	"github.com/mattdh/officepulse/internal/game"
	"github.com/mattdh/officepulse/internal/live"
	"github.com/mattdh/officepulse/internal/metrics"
	"github.com/mattdh/officepulse/internal/models"
	"github.com/mattdh/officepulse/internal/rankings"
	"github.com/mattdh/officepulse/internal/store"
	"github.com/mattdh/officepulse/internal/streaks"
	"github.com/mattdh/officepulse/internal/tiebreak"
)

var validate = validator.New()

// Server bundles the handler dependencies.
type Server struct {
	cfg     config.Config
	ranks   *rankings.Aggregator
	streaks *streaks.Tracker
	ties    *tiebreak.Manager
	gateway *live.Gateway
	kick    func()
	log     *slog.Logger
	version string
}

// New builds a server; kick requests an out-of-cycle refresh after
// administrative writes.
func New(cfg config.Config, ranks *rankings.Aggregator, tracker *streaks.Tracker, ties *tiebreak.Manager, gw *live.Gateway, kick func(), version string, lg *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		ranks:   ranks,
		streaks: tracker,
		ties:    ties,
		gateway: gw,
		kick:    kick,
		log:     lg.With(slog.String("component", "api")),
		version: version,
	}
}

// Handler assembles the router with CORS and request logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/rankings/today", s.handleRankingsToday).Methods(http.MethodGet)
	r.HandleFunc("/rankings/{period}", s.handleRankings).Methods(http.MethodGet)
	r.HandleFunc("/streaks", s.handleStreaks).Methods(http.MethodGet)

	r.HandleFunc("/tie-breakers", s.handleListTieBreakers).Methods(http.MethodGet)
	r.HandleFunc("/tie-breakers/{id}/choose-game", s.handleChooseGame).Methods(http.MethodPost)
	r.HandleFunc("/games/{id}/join", s.handleJoinGame).Methods(http.MethodPost)
	r.HandleFunc("/games/{id}/move", s.handleMove).Methods(http.MethodPost)
	r.HandleFunc("/ws/games/{id}", s.gateway.ServeWS).Methods(http.MethodGet)

	r.HandleFunc("/maintenance/reset-tiebreakers", s.handleResetTieBreakers).Methods(http.MethodPost)
	r.HandleFunc("/maintenance/reset-tiebreaker-effects", s.handleResetEffects).Methods(http.MethodPost)
	r.HandleFunc("/maintenance/reset-streaks", s.handleResetStreaks).Methods(http.MethodPost)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.Use(s.logRequests)

	return handlers.CORS(
		handlers.AllowedOrigins(s.cfg.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("took", time.Since(started)),
		)
	})
}

// ========================= rankings and streaks =========================

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	period := models.Period(mux.Vars(r)["period"])
	if !period.Valid() {
		writeError(w, http.StatusBadRequest, "unknown period")
		return
	}
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = models.ModeEarlyBird
	}
	if !models.ValidMode(mode) {
		writeError(w, http.StatusBadRequest, "unknown mode")
		return
	}
	date := time.Now().UTC()
	if q := r.URL.Query().Get("date"); q != "" {
		d, err := models.ParseDate(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad date, want YYYY-MM-DD")
			return
		}
		date = d
	}

	metrics.RankingQueries.WithLabelValues(string(period), mode).Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"period":       period,
		"mode":         mode,
		"rankings":     s.ranks.Rows(period, date, mode),
		"standings":    s.ranks.Standings(period, date, mode),
		"generated_at": s.ranks.LastGeneratedAt(),
	})
}

func (s *Server) handleRankingsToday(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	q.Set("date", time.Now().UTC().Format(models.DateLayout))
	r.URL.RawQuery = q.Encode()
	r = mux.SetURLVars(r, map[string]string{"period": string(models.PeriodDaily)})
	s.handleRankings(w, r)
}

func (s *Server) handleStreaks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"streaks": s.streaks.Streaks()})
}

// ========================= tie-breakers =========================

func (s *Server) handleListTieBreakers(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode != "" && !models.ValidMode(mode) {
		writeError(w, http.StatusBadRequest, "unknown mode")
		return
	}
	list, err := s.ties.List(r.Context(), mode)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tie_breakers": list})
}

type chooseGameReq struct {
	Person string `json:"person" validate:"required"`
	Game   string `json:"game" validate:"required,oneof=tictactoe connect4"`
}

func (s *Server) handleChooseGame(w http.ResponseWriter, r *http.Request) {
	var req chooseGameReq
	if !decode(w, r, &req) {
		return
	}
	tb, err := s.ties.ChooseGame(r.Context(), mux.Vars(r)["id"], req.Person, req.Game)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tb)
}

type joinGameReq struct {
	Person string `json:"person" validate:"required"`
}

func (s *Server) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	var req joinGameReq
	if !decode(w, r, &req) {
		return
	}
	session, err := s.ties.JoinGame(r.Context(), mux.Vars(r)["id"], req.Person)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type moveReq struct {
	Person   string `json:"person" validate:"required"`
	Position *int   `json:"position" validate:"required"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveReq
	if !decode(w, r, &req) {
		return
	}
	session, outcome, err := s.ties.SubmitMove(r.Context(), mux.Vars(r)["id"], req.Person, *req.Position)
	if err != nil {
		metrics.MovesRejected.Inc()
		s.fail(w, err)
		return
	}
	metrics.MovesAccepted.Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": true,
		"state":    session,
		"outcome":  outcome,
	})
}

// ========================= maintenance =========================

func (s *Server) handleResetTieBreakers(w http.ResponseWriter, r *http.Request) {
	if err := s.ties.ResetAll(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	s.kick()
	writeJSON(w, http.StatusOK, map[string]string{"status": "tie-breakers cleared"})
}

func (s *Server) handleResetEffects(w http.ResponseWriter, r *http.Request) {
	if err := s.ties.ResetEffects(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	s.kick()
	writeJSON(w, http.StatusOK, map[string]string{"status": "tie-breaker effects reverted"})
}

func (s *Server) handleResetStreaks(w http.ResponseWriter, r *http.Request) {
	if err := s.streaks.Reset(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	s.kick()
	writeJSON(w, http.StatusOK, map[string]string{"status": "streaks cleared"})
}

// ========================= health =========================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"generated_at": s.ranks.LastGeneratedAt(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// ========================= plumbing =========================

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// fail maps domain errors onto status codes: unknown ids are 404,
// lifecycle and move rejections are 409, everything else is a 500.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, tiebreak.ErrBadGameKind),
		errors.Is(err, game.ErrBadPosition),
		errors.Is(err, game.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, tiebreak.ErrNotParticipant),
		errors.Is(err, tiebreak.ErrAlreadyChosen),
		errors.Is(err, tiebreak.ErrNotPending),
		errors.Is(err, tiebreak.ErrCompleted),
		errors.Is(err, tiebreak.ErrNoWinner),
		errors.Is(err, tiebreak.ErrNotYourSeat),
		errors.Is(err, tiebreak.ErrAlreadyActive),
		errors.Is(err, game.ErrNotActive),
		errors.Is(err, game.ErrNotYourTurn),
		errors.Is(err, game.ErrNotAPlayer),
		errors.Is(err, game.ErrOccupied),
		errors.Is(err, game.ErrColumnFull):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("handler failed", slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
