package httpadapter

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"crisisguard/internal/domain"
	"crisisguard/internal/services/search"
)

// Guard answers blocking questions for local monitoring components.
type Guard interface {
	Evaluate(rawURL string, action domain.MonitoringAction) domain.BlockingDecision
}

type CacheStatus interface {
	Status() domain.CacheStatus
}

type Detector interface {
	Detect(query string) search.Result
}

// Agent is the on-device endpoint. It only answers loopback callers, has no
// request logging, and never echoes the URL or query it was asked about.
type Agent struct {
	guard    Guard
	cache    CacheStatus
	detector Detector
}

func NewAgent(guard Guard, cache CacheStatus, detector Detector) *Agent {
	return &Agent{guard: guard, cache: cache, detector: detector}
}

func (a *Agent) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(loopbackOnly)
	r.Use(quietRecoverer)
	r.Use(middleware.NoCache)
	r.Use(middleware.RequestSize(64 << 10))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/v1/guard/status", a.status)
	r.Get("/v1/guard/{action}", a.evaluate)
	r.Post("/v1/search/detect", a.detect)
	return r
}

func (a *Agent) evaluate(w http.ResponseWriter, r *http.Request) {
	action, ok := domain.ParseMonitoringAction(chi.URLParam(r, "action"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "unknown monitoring action"})
		return
	}
	d := a.guard.Evaluate(r.URL.Query().Get("url"), action)
	writeJSON(w, http.StatusOK, struct {
		Blocked bool `json:"blocked"`
	}{d.Blocked})
}

func (a *Agent) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.cache.Status())
}

func (a *Agent) detect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "malformed JSON body"})
		return
	}
	writeJSON(w, http.StatusOK, a.detector.Detect(body.Query))
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := net.ParseIP(hostOnly(r.RemoteAddr))
		if ip == nil || !ip.IsLoopback() {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: "loopback callers only"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// quietRecoverer turns a panic into a 500 without printing the request.
func quietRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
