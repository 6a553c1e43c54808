package httpserver

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/model"
)

// Classify pipeline stages, used in logs.
const (
	stagePrecheck     = "precheck"
	stageAuthenticate = "authenticate"
	stageRateLimit    = "rate_limit"
	stageValidate     = "validate"
	stageClassify     = "classify"
	stageRespond      = "respond"
)

type classifyData struct {
	BusinessType string            `json:"businessType"`
	RequestID    string            `json:"requestId,omitempty"`
	ProcessedAt  string            `json:"processedAt"`
	Comparison   *model.Comparison `json:"comparison,omitempty"`
	ImageCount   int               `json:"imageCount"`
	Metadata     any               `json:"metadata,omitempty"`
}

// classifyRun tracks one pass through the pipeline for logging and the request log.
type classifyRun struct {
	s     *Server
	w     http.ResponseWriter
	r     *http.Request
	stage string
	start time.Time
	rec   model.RequestLog
}

func (p *classifyRun) fail(status int, code, message string, details any) {
	p.rec.StatusCode = status
	p.rec.ErrorCode = code
	p.s.log.Info("classify rejected",
		zap.String("stage", p.stage),
		zap.Int("status", status),
		zap.String("code", code),
		zap.String("request_id", p.rec.RequestID),
	)
	writeError(p.w, status, code, message, details)
}

func (p *classifyRun) finish() {
	if p.rec.StatusCode == 0 {
		p.rec.StatusCode = http.StatusOK
	}
	p.rec.DurationMS = p.s.now().Sub(p.start).Milliseconds()
	p.s.classify.Record(p.r.Context(), p.rec)
}

// handleClassify runs PRECHECK, AUTHENTICATE, RATE_LIMIT, VALIDATE, CLASSIFY
// (with COMPARE when a business name is present) and RESPOND. The first
// failing stage answers the request.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	p := &classifyRun{
		s:     s,
		w:     w,
		r:     r,
		stage: stagePrecheck,
		start: s.now(),
		rec: model.RequestLog{
			RequestID: RequestIDFromCtx(r.Context()),
			Endpoint:  r.URL.Path,
			Method:    r.Method,
			ClientIP:  clientIP(r, s.opts.TrustProxy),
		},
	}
	defer p.finish()

	if f := s.val.Precheck(r.ContentLength, r.Header.Get("Content-Type")); f != nil {
		p.fail(f.Status, f.Code, f.Message, nil)
		return
	}

	p.stage = stageAuthenticate
	ac, status := s.authenticate(w, r)
	if ac == nil {
		p.rec.StatusCode = status
		p.rec.ErrorCode = errs.CodeAuthenticationRequired
		if status == http.StatusTooManyRequests {
			p.rec.ErrorCode = errs.CodeRateLimitExceeded
		}
		s.log.Info("classify rejected",
			zap.String("stage", p.stage),
			zap.Int("status", status),
			zap.String("request_id", p.rec.RequestID),
		)
		return
	}
	uid := ac.User.ID
	p.rec.UserID = &uid

	p.stage = stageRateLimit
	budget := s.checkBudget(r, userKey(ac.User), ac.User.RateLimit)
	if !s.applyRateLimit(w, budget) {
		p.rec.StatusCode = http.StatusTooManyRequests
		p.rec.ErrorCode = errs.CodeRateLimitExceeded
		return
	}

	p.stage = stageValidate
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.val.MaxRequestBytes()))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			f := s.val.TooLarge()
			p.fail(f.Status, f.Code, f.Message, nil)
			return
		}
		p.fail(http.StatusBadRequest, errs.CodeInvalidRequestBody, "Could not read request body", nil)
		return
	}
	req, f := s.val.Parse(body)
	if f != nil {
		var details any
		if f.Field != "" {
			details = map[string]string{"field": f.Field}
		}
		p.fail(f.Status, f.Code, f.Message, details)
		return
	}
	p.rec.ImageCount = len(req.Images)
	if id := req.RequestID(); id != "" {
		p.rec.RequestID = id
	}

	p.stage = stageClassify
	out, err := s.classify.Classify(r.Context(), req)
	if err != nil {
		status, code, msg := errorStatus(err)
		if status < http.StatusInternalServerError {
			status, code, msg = http.StatusInternalServerError, errs.CodeInternal, "Classification failed"
		}
		s.log.Error("classification failed",
			zap.String("request_id", p.rec.RequestID),
			zap.String("user_id", uid.String()),
			zap.Error(err),
		)
		p.fail(status, code, msg, nil)
		return
	}
	p.rec.BusinessType = out.BusinessType

	p.stage = stageRespond
	writeJSON(w, http.StatusOK, successEnvelope{
		Success: true,
		Data: classifyData{
			BusinessType: out.BusinessType,
			RequestID:    req.RequestID(),
			ProcessedAt:  out.ProcessedAt.Format(timeLayout),
			Comparison:   out.Comparison,
			ImageCount:   len(req.Images),
			Metadata:     req.Metadata,
		},
		RateLimit: toRateLimitView(budget),
		Timestamp: timestamp(),
	})
}

type statusUser struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	RateLimit int       `json:"rateLimit"`
}

// handleClassifyStatus reports service status to an authenticated caller. It does not consume budget.
func (s *Server) handleClassifyStatus(w http.ResponseWriter, r *http.Request) {
	ac, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	setRateLimitHeaders(w, s.peekBudget(r, userKey(ac.User), ac.User.RateLimit))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": timestamp(),
		"version":   s.admin.Version(),
		"user": statusUser{
			ID:        ac.User.ID,
			Email:     ac.User.Email,
			RateLimit: ac.User.RateLimit,
		},
	})
}
