package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"levfolio/bank"
	"levfolio/engine"
	"levfolio/ledger"
	"levfolio/market"
)

// Server exposes the engine over HTTP. Mutating endpoints debit the caller's
// book account for the operation's pre-funding, so a failed operation leaves
// the caller's balances untouched.
type Server struct {
	engine  *engine.Engine
	book    *bank.Book
	log     *slog.Logger
	limiter *clientLimiter

	mu sync.Mutex
}

// NewServer wires the HTTP surface. perSecond/burst bound each client's
// request rate; zero values disable limiting.
func NewServer(eng *engine.Engine, book *bank.Book, log *slog.Logger, perSecond float64, burst int) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: eng, book: book, log: log, limiter: newClientLimiter(perSecond, burst)}
}

// mutate runs a pre-fund-then-operate composite under a single snapshot,
// reverting the book when it fails. Reverting truncates the shared journal,
// so the whole composite is serialized: no other mutation may append journal
// entries between the snapshot and a potential revert.
func (s *Server) mutate(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev := s.book.Snapshot()
	if err := fn(); err != nil {
		s.book.RevertToSnapshot(rev)
		return err
	}
	return nil
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.throttle)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/position", s.handlePosition)
		v1.Get("/leverage", s.handleLeverage)
		v1.Get("/price", s.handlePrice)
		v1.Get("/preview/mint", s.handlePreviewMint)
		v1.Get("/preview/burn", s.handlePreviewBurn)

		v1.Post("/mint", s.handleMint)
		v1.Post("/burn", s.handleBurn)
		v1.Post("/rebalance/up", s.handleRebalance(true))
		v1.Post("/rebalance/down", s.handleRebalance(false))
	})
	return r
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(r) {
			s.writeError(w, r, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("rpc: encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.log.Warn("rpc: request failed", "path", r.URL.Path, "status", status, "err", err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeEngineError maps engine failures onto HTTP statuses: authorization
// problems, state conflicts, and economic bounds each get their own class.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrUninitialized),
		errors.Is(err, engine.ErrAlreadyInitialized),
		errors.Is(err, engine.ErrBalanced),
		errors.Is(err, ledger.ErrUninitialized):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrAmountInTooLow),
		errors.Is(err, engine.ErrAmountInTooHigh),
		errors.Is(err, engine.ErrAmountOutTooLow),
		errors.Is(err, engine.ErrAmountOutTooHigh),
		errors.Is(err, engine.ErrSlippageTooHigh),
		errors.Is(err, bank.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInsolvent):
		status = http.StatusConflict
	default:
		var marketErr *market.Error
		if errors.As(err, &marketErr) {
			status = http.StatusUnprocessableEntity
		}
	}
	s.writeError(w, r, status, err)
}
