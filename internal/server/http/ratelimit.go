package httpserver

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/limiter"
	"github.com/and161185/qris-classifier/internal/model"
)

func userKey(u model.User) string { return "user:" + u.ID.String() }

// checkBudget consumes one unit of identifier's budget. Limiter failures
// admit the request with a full budget.
func (s *Server) checkBudget(r *http.Request, identifier string, limit int) limiter.Result {
	res, err := s.lim.Check(r.Context(), identifier, limit, s.opts.Window)
	if err != nil {
		s.log.Warn("rate limiter unavailable, admitting request",
			zap.String("identifier", identifier),
			zap.Error(err),
		)
		return s.openResult(limit)
	}
	return res
}

// peekBudget reports identifier's budget without consuming it.
func (s *Server) peekBudget(r *http.Request, identifier string, limit int) limiter.Result {
	res, err := s.lim.Peek(r.Context(), identifier, limit, s.opts.Window)
	if err != nil {
		s.log.Warn("rate limiter unavailable", zap.String("identifier", identifier), zap.Error(err))
		return s.openResult(limit)
	}
	return res
}

func (s *Server) openResult(limit int) limiter.Result {
	return limiter.Result{Allowed: true, Limit: limit, Remaining: limit, ResetTime: s.now().Add(s.opts.Window)}
}

func setRateLimitHeaders(w http.ResponseWriter, res limiter.Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))
}

func toRateLimitView(res limiter.Result) *rateLimitView {
	return &rateLimitView{Remaining: res.Remaining, ResetTime: res.ResetTime.UnixMilli(), Limit: res.Limit}
}

type rateLimitDetails struct {
	RetryAfter int   `json:"retryAfter"` // seconds
	Limit      int   `json:"limit"`
	Remaining  int   `json:"remaining"`
	ResetTime  int64 `json:"resetTime"`
}

// applyRateLimit sets the X-RateLimit headers and, when the budget is spent,
// writes the 429 response and returns false.
func (s *Server) applyRateLimit(w http.ResponseWriter, res limiter.Result) bool {
	setRateLimitHeaders(w, res)
	if res.Allowed {
		return true
	}
	retry := int(math.Ceil(res.RetryAfter(s.now()).Seconds()))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, errs.CodeRateLimitExceeded,
		"Rate limit exceeded, retry in "+(time.Duration(retry)*time.Second).String(),
		rateLimitDetails{
			RetryAfter: retry,
			Limit:      res.Limit,
			Remaining:  res.Remaining,
			ResetTime:  res.ResetTime.UnixMilli(),
		})
	return false
}

// authenticate resolves credentials. Callers without valid credentials are
// charged against the anonymous per-IP budget and receive 429 when it is
// spent, 401 otherwise. On failure the response is written and its status returned.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*model.AuthContext, int) {
	bearer, apiKey := credentials(r)
	if bearer != "" || apiKey != "" {
		ac, err := s.auth.Authenticate(r.Context(), bearer, apiKey)
		if err == nil {
			return ac, http.StatusOK
		}
	}
	res := s.checkBudget(r, limiter.AnonymousKey(clientIP(r, s.opts.TrustProxy)), s.opts.AnonymousLimit)
	if !s.applyRateLimit(w, res) {
		return nil, http.StatusTooManyRequests
	}
	writeError(w, http.StatusUnauthorized, errs.CodeAuthenticationRequired, "Authentication required: invalid or expired credentials", nil)
	return nil, http.StatusUnauthorized
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (*model.AuthContext, bool) {
	ac, _ := s.authenticate(w, r)
	return ac, ac != nil
}

// requireAdmin is requireAuth plus the admin role check.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) (*model.AuthContext, bool) {
	ac, ok := s.requireAuth(w, r)
	if !ok {
		return nil, false
	}
	if !ac.User.IsAdmin() {
		writeError(w, http.StatusForbidden, errs.CodeInsufficientPermissions, "Admin role required", nil)
		return nil, false
	}
	return ac, true
}
