package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/fairdice-platform/internal/dice"
	"github.com/radieske/fairdice-platform/internal/dice-service/dto"
	"github.com/radieske/fairdice-platform/internal/fairness"
	"github.com/radieske/fairdice-platform/internal/feed"
	"github.com/radieske/fairdice-platform/internal/shared/cache"
)

const (
	leaderboardKey      = "top"
	defaultPingInterval = 30 * time.Second
)

// Server expõe o jogo por HTTP e o feed /live por websocket.
type Server struct {
	log  *zap.Logger
	svc  *dice.Service
	live *feed.Broadcaster

	board    *cache.JSONCache // opcional
	boardTTL time.Duration

	adminToken   string
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

type Option func(*Server)

// WithLeaderboardCache guarda o leaderboard no Redis por ttl.
func WithLeaderboardCache(c *cache.JSONCache, ttl time.Duration) Option {
	return func(s *Server) { s.board, s.boardTTL = c, ttl }
}

// WithAdminToken habilita POST /deposit para quem apresentar o token.
func WithAdminToken(token string) Option { return func(s *Server) { s.adminToken = token } }

func WithPingInterval(d time.Duration) Option { return func(s *Server) { s.pingInterval = d } }

func NewServer(log *zap.Logger, svc *dice.Service, live *feed.Broadcaster, opts ...Option) *Server {
	s := &Server{
		log:          log,
		svc:          svc,
		live:         live,
		pingInterval: defaultPingInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withCORS)

	r.Get("/config", s.getConfig)
	r.Get("/balance/{wallet}", s.getBalance)
	r.Post("/register", s.register)
	r.Post("/deposit", s.deposit)

	r.Post("/bet", s.placeBet)
	r.Post("/roll", s.roll)
	r.Get("/bets", s.listBets)     // ?wallet=&limit=
	r.Get("/bets/{id}", s.getBet) // qualquer estado

	r.Get("/seed/current", s.currentSeed)
	r.Get("/seed/{round}", s.revealSeed)
	r.Get("/verify", s.verify)

	r.Get("/leaderboard", s.leaderboard)
	r.Get("/live", s.liveFeed)
	return r
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// statusFor traduz a taxonomia de erros do domínio em status HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dice.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, dice.ErrBetNotFound), errors.Is(err, fairness.ErrRoundNotFound):
		return http.StatusNotFound
	case errors.Is(err, dice.ErrInsufficientBalance),
		errors.Is(err, dice.ErrInsufficientHouseFunds),
		errors.Is(err, dice.ErrAlreadyResolved),
		errors.Is(err, dice.ErrBetFailed),
		errors.Is(err, dice.ErrSeedNotYetRevealable):
		return http.StatusConflict
	case errors.Is(err, dice.ErrGameDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, dice.ErrSettlementFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := dto.ErrorResponse{Error: err.Error()}

	var ve *dice.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: msg, Field: field})
}
