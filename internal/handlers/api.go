package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/MegaGrindStone/assistant-web-ui/internal/models"
	"github.com/MegaGrindStone/assistant-web-ui/internal/services"
	"github.com/MegaGrindStone/assistant-web-ui/internal/turn"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// API serves the assistant service to clients that must not hold its credentials: one route per
// operation of the thread, message and run model.
type API struct {
	transport    turn.Transport
	instructions string

	limiters *limiterPool

	logger *slog.Logger
}

// RateLimit bounds the request rate of every client address. Zero values fall back to 5 requests per
// second with a burst of 10.
type RateLimit struct {
	RPS   float64
	Burst int
}

type limiterPool struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	cfg RateLimit
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

var apiRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "assistant_proxy_requests_total",
		Help: "Number of proxy requests by route and status code.",
	},
	[]string{"route", "code"},
)

func init() {
	prometheus.MustRegister(apiRequests)
}

// NewAPI creates an API that forwards to transport. instructions is sent with runs whose request carries
// none.
func NewAPI(transport turn.Transport, instructions string, limit RateLimit, logger *slog.Logger) API {
	return API{
		transport:    transport,
		instructions: instructions,
		limiters:     &limiterPool{cfg: limit},
		logger:       logger.With(slog.String("module", "api")),
	}
}

// Register registers the proxy routes to the provided router, which is usually a subrouter mounted at
// /api/assistants.
func (a API) Register(r *mux.Router) {
	r.Use(a.instrument, a.rateLimit)

	r.HandleFunc("/threads", a.createThread).Methods(http.MethodPost)

	r.HandleFunc("/threads/{threadId}/messages", a.addMessage).Methods(http.MethodPost)
	r.HandleFunc("/threads/{threadId}/messages", a.listMessages).Methods(http.MethodGet)

	r.HandleFunc("/threads/{threadId}/runs", a.createRun).Methods(http.MethodPost)
	r.HandleFunc("/threads/{threadId}/runs/{runId}", a.getRun).Methods(http.MethodGet)
}

func (a API) createThread(w http.ResponseWriter, r *http.Request) {
	id, err := a.transport.CreateThread(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.logger.Debug("Created thread", slog.String("threadID", id))
	writeJSON(w, http.StatusOK, models.CreateThreadResponse{ThreadID: id})
}

// addMessage handles POST /threads/{threadId}/messages. The role defaults to user; any role outside
// user, assistant and code is rejected with 400, as is an empty content.
func (a API) addMessage(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadId"]

	var req models.AddMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	role := models.RoleUser
	if req.Role != "" {
		var err error
		if role, err = models.ParseRole(req.Role); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	id, err := a.transport.AddMessage(r.Context(), threadID, models.NewMessage{
		Role:    role,
		Content: req.Content,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.logger.Debug("Added message", slog.String("threadID", threadID), slog.String("messageID", id))
	writeJSON(w, http.StatusOK, models.AddMessageResponse{ID: id})
}

func (a API) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.transport.ListMessages(r.Context(), mux.Vars(r)["threadId"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []models.RemoteMessage{}
	}

	writeJSON(w, http.StatusOK, msgs)
}

// createRun handles POST /threads/{threadId}/runs. The body is optional.
func (a API) createRun(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadId"]

	var req models.CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	instructions := req.Instructions
	if instructions == "" {
		instructions = a.instructions
	}

	id, err := a.transport.CreateRun(r.Context(), threadID, instructions)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.CreateRunResponse{RunID: id})
}

func (a API) getRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	run, err := a.transport.RunStatus(r.Context(), vars["threadId"], vars["runId"])
	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// fail reports a transport error. Only errors the local services classify get a specific status; any
// other failure of the assistant service is a 500.
func (a API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrRunActive):
		status = http.StatusConflict
	case errors.Is(err, models.ErrUnknownRole):
		status = http.StatusBadRequest
	}

	a.logger.Error("Assistant service call failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String(errLoggerKey, err.Error()))
	writeError(w, status, err.Error())
}

func (a API) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiters.allow(clientIP(r)) {
			a.logger.Warn("Rate limited", slog.String("path", r.URL.Path))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		apiRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	burst := p.cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) allow(key string) bool {
	return p.get(key).Allow()
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
