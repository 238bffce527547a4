package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessgraph/personal/internal/indexer"
	"github.com/freeeve/chessgraph/personal/internal/model"
	"github.com/freeeve/chessgraph/personal/internal/query"
	"github.com/freeeve/chessgraph/personal/internal/rules"
	"github.com/freeeve/chessgraph/personal/internal/store"
)

var errValidation = errors.New("validation failed")

// Indexer is the part of the index coordinator the API uses.
type Indexer interface {
	EnsureIndexed(ctx context.Context, player model.PlayerID, color model.Color, variant model.Variant) (model.Status, error)
	Status(player model.PlayerID, color model.Color, variant model.Variant) (*model.IndexState, error)
	Running() []indexer.Job
}

// Querier runs position queries.
type Querier interface {
	Query(ctx context.Context, req query.Request) (*query.Result, error)
}

// Config wires the router.
type Config struct {
	Indexer Indexer
	Query   Querier
	Store   store.Store  // optional, enables /v1/stats
	Metrics http.Handler // optional, served at /metrics

	// IndexWait bounds how long /personal waits for indexing before
	// answering from the counters committed so far.
	IndexWait time.Duration
}

// Handler serves the personal explorer API.
type Handler struct {
	cfg Config
	log zerolog.Logger
}

// NewRouter creates the HTTP router.
func NewRouter(log zerolog.Logger, cfg Config) http.Handler {
	if cfg.IndexWait <= 0 {
		cfg.IndexWait = 10 * time.Second
	}
	h := &Handler{cfg: cfg, log: log}

	mux := http.NewServeMux()
	mux.Handle("/healthz", http.HandlerFunc(h.health))
	mux.Handle("/readyz", http.HandlerFunc(h.health))
	mux.Handle("/personal", http.HandlerFunc(h.personal))
	mux.Handle("/index", http.HandlerFunc(h.index))
	mux.Handle("/v1/jobs", http.HandlerFunc(h.jobs))
	if cfg.Store != nil {
		mux.Handle("/v1/stats", http.HandlerFunc(h.stats))
	}
	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics)
	}

	// pprof endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return CORS(RequestID(AccessLog(log, mux)))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// personal indexes the player (bounded by IndexWait) and returns the ranked
// continuations of the requested position.
func (h *Handler) personal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	req := parsePersonalRequest(r.URL.Query())
	if err := validateStruct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	t, err := req.resolve()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	waitCtx, cancel := context.WithTimeout(r.Context(), h.cfg.IndexWait)
	status, err := h.cfg.Indexer.EnsureIndexed(waitCtx, t.player, t.color, t.variant)
	cancel()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	res, err := h.cfg.Query.Query(r.Context(), query.Request{
		Player:  t.player,
		Color:   t.color,
		Variant: t.variant,
		RootFEN: req.FEN,
		Played:  req.Play,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToPersonalResponse(res, status))
}

// index starts indexing on POST and reports the stored state on GET.
func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	req := parseIndexRequest(r.URL.Query())
	t, err := req.resolve()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	if r.Method == http.MethodPost {
		waitCtx, cancel := context.WithTimeout(r.Context(), h.cfg.IndexWait)
		_, err := h.cfg.Indexer.EnsureIndexed(waitCtx, t.player, t.color, t.variant)
		cancel()
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
	}

	st, err := h.cfg.Indexer.Status(t.player, t.color, t.variant)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	code := http.StatusOK
	if st.Status == model.InProgress {
		code = http.StatusAccepted
	}
	writeJSON(w, code, toIndexResponse(t, st))
}

func (h *Handler) jobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toJobResponses(h.cfg.Indexer.Running()))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.cfg.Store.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"reads":   stats.Reads,
		"writes":  stats.Writes,
		"merges":  stats.Merges,
		"commits": stats.Commits,
		"scans":   stats.Scans,
		"jobs":    len(h.cfg.Indexer.Running()),
	})
}

// writeErr maps domain errors to status codes.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, query.ErrInvalidPosition):
		writeError(w, http.StatusBadRequest, "invalid position", err.Error())
	case errors.Is(err, rules.ErrUnsupportedVariant):
		writeError(w, http.StatusBadRequest, "unsupported variant", err.Error())
	case errors.Is(err, model.ErrInvalidPlayer):
		writeError(w, http.StatusBadRequest, "invalid player", err.Error())
	case errors.Is(err, indexer.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting down", "")
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func writeError(w http.ResponseWriter, code int, msg, details string) {
	writeJSON(w, code, ErrorResponse{Error: msg, Details: details})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
