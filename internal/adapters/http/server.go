package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"crisisguard/internal/domain"
	"crisisguard/internal/ports"
	"crisisguard/internal/services/emergency"
	"crisisguard/internal/services/matchlog"
)

// Pushes is the emergency push surface the server exposes.
type Pushes interface {
	Push(ctx context.Context, req domain.PushRequest) (emergency.PushResult, error)
	Get(ctx context.Context, id string) (domain.EmergencyPushRecord, error)
	List(ctx context.Context, limit int) ([]domain.EmergencyPushRecord, error)
	Document(ctx context.Context) (domain.AllowlistDocument, error)
	Supersede(ctx context.Context, release domain.Allowlist) (int, error)
}

type MatchLogs interface {
	Ingest(ctx context.Context, ip string, req domain.MatchLogRequest) (bool, error)
	TopMisses(ctx context.Context, since time.Time, limit int) ([]domain.MissCount, error)
}

// Server serves the public allowlist, log ingestion and the operator API.
type Server struct {
	pushes   Pushes
	logs     MatchLogs
	auth     ports.OperatorAuthenticator
	throttle *Throttle
	proxies  []netip.Prefix
	logger   *zap.Logger
}

// New builds the server. throttle may be nil to serve the allowlist without a
// per-caller limit.
func New(pushes Pushes, logs MatchLogs, auth ports.OperatorAuthenticator, throttle *Throttle, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{pushes: pushes, logs: logs, auth: auth, throttle: throttle, logger: logger}
}

// TrustProxies sets the peers allowed to supply X-Forwarded-For. With none
// set, rate limits key on the socket peer address. Call before Routes.
func (s *Server) TrustProxies(prefixes []netip.Prefix) {
	s.proxies = prefixes
}

const maxBodyBytes = 1 << 20

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(clientAddr(s.proxies))
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(maxBodyBytes))

	r.Get("/healthz", s.healthz)
	r.Get("/v1/allowlist", s.getAllowlist)
	r.Post("/v1/fuzzy-match-log", s.postMatchLog)

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(s.requireOperator)
		r.Post("/emergency-push", s.postEmergencyPush)
		r.Get("/emergency-push", s.listPushes)
		r.Get("/emergency-push/{id}", s.getPush)
		r.Put("/allowlist", s.putAllowlist)
		r.Get("/fuzzy-matches/top", s.topMisses)
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getAllowlist(w http.ResponseWriter, r *http.Request) {
	if s.throttle != nil {
		if wait, ok := s.throttle.Allow(r.Context(), r.RemoteAddr); !ok {
			secs := int(wait / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", Message: "too many allowlist requests", RetryAfter: &secs})
			return
		}
	}
	doc, err := s.pushes.Document(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSON(w, http.StatusOK, doc)
}

// postMatchLog answers 202 for every well-formed log, whether it was stored
// or dropped by the rate limit.
func (s *Server) postMatchLog(w http.ResponseWriter, r *http.Request) {
	var req domain.MatchLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "malformed JSON body"})
		return
	}
	if _, err := s.logs.Ingest(r.Context(), hostOnly(r.RemoteAddr), req); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) postEmergencyPush(w http.ResponseWriter, r *http.Request) {
	var req domain.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "malformed JSON body"})
		return
	}
	s.audit(r, "emergency_push", zap.String("push_id", req.PushID), zap.Int("entries", len(req.Entries)))
	res, err := s.pushes.Push(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getPush(w http.ResponseWriter, r *http.Request) {
	rec, err := s.pushes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listPushes(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := s.pushes.List(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []domain.EmergencyPushRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pushes": recs})
}

func (s *Server) putAllowlist(w http.ResponseWriter, r *http.Request) {
	var release domain.Allowlist
	if err := json.NewDecoder(r.Body).Decode(&release); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "malformed JSON body"})
		return
	}
	s.audit(r, "publish_release", zap.String("version", release.Version))
	pruned, err := s.pushes.Supersede(r.Context(), release)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": release.Version, "overridesPruned": pruned})
}

func (s *Server) topMisses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days, err := strconv.Atoi(q.Get("days"))
	if err != nil || days <= 0 {
		days = 7
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	top, err := s.logs.TopMisses(r.Context(), time.Now().Add(-time.Duration(days)*24*time.Hour), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if top == nil {
		top = []domain.MissCount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "misses": top})
}

type operatorKey struct{}

// OperatorFrom returns the authenticated operator on admin requests.
func OperatorFrom(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey{}).(string)
	return op
}

// audit records who performed an operator action.
func (s *Server) audit(r *http.Request, action string, fields ...zap.Field) {
	fields = append([]zap.Field{
		zap.String("action", action),
		zap.String("operator", OperatorFrom(r.Context())),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	}, fields...)
	s.logger.Info("operator action", fields...)
}

func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		op, ok := "", false
		if token != "" && s.auth != nil {
			op, ok = s.auth.Authenticate(r.Context(), token)
		}
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized", Message: "operator credentials required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey{}, op)))
	})
}

// fail maps service errors onto status codes. Anything unexpected is logged
// and answered with a generic 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: ve.Error()})
	case errors.Is(err, ports.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "no such record"})
	case errors.Is(err, emergency.ErrPushIDReused), errors.Is(err, ports.ErrStatusConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "conflict", Message: err.Error()})
	case errors.Is(err, emergency.ErrEmergencyRelease):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
	default:
		s.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("route", chi.RouteContext(r.Context()).RoutePattern()),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "internal server error"})
	}
}

var (
	_ Pushes    = (*emergency.Coordinator)(nil)
	_ MatchLogs = (*matchlog.Ingestor)(nil)
)
