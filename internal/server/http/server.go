// Package httpserver exposes the classifier API over HTTP.
package httpserver

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/limiter"
	"github.com/and161185/qris-classifier/internal/service"
	"github.com/and161185/qris-classifier/internal/validate"
)

// Options tunes request handling.
type Options struct {
	Window         time.Duration
	AnonymousLimit int
	CORSOrigins    []string
	TrustProxy     bool
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Auth      service.AuthService
	Classify  *service.ClassifyService
	Admin     *service.AdminService
	Limiter   limiter.Limiter
	Validator *validate.Validator
}

// Server holds the HTTP handlers.
type Server struct {
	auth     service.AuthService
	classify *service.ClassifyService
	admin    *service.AdminService
	lim      limiter.Limiter
	val      *validate.Validator
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

// New constructs Server.
func New(d Deps, opts Options, log *zap.Logger) *Server {
	if opts.Window <= 0 {
		opts.Window = limiter.DefaultWindow
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if d.Validator == nil {
		d.Validator = validate.New(0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		auth:     d.Auth,
		classify: d.Classify,
		admin:    d.Admin,
		lim:      d.Limiter,
		val:      d.Validator,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// Handler returns the routed handler with the middleware stack applied.
// Every route answers both at /name and /api/name.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	for _, p := range []string{"", "/api"} {
		r.HandleFunc(p+"/classify", s.handleClassify).Methods(http.MethodPost)
		r.HandleFunc(p+"/classify", s.handleClassifyStatus).Methods(http.MethodGet)
		r.HandleFunc(p+"/auth", s.handleAuth).Methods(http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete)
		r.HandleFunc(p+"/api-keys", s.handleAPIKeys).Methods(http.MethodGet, http.MethodPost, http.MethodDelete)
		r.HandleFunc(p+"/admin", s.handleAdmin).Methods(http.MethodGet, http.MethodPost)
		r.HandleFunc(p+"/health", s.handleHealth).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errs.CodeNotFound, "Route not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errs.CodeMethodNotAllowed, "Method "+req.Method+" not allowed", nil)
	})

	return Chain(r,
		RequestID,
		Logging(s.log),
		Recover(s.log),
		SecurityHeaders,
		CORS(s.opts.CORSOrigins),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.admin.Health(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    h.Status,
		"degraded":  h.Degraded,
		"timestamp": timestamp(),
		"version":   h.Version,
	})
}
