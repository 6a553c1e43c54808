package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/qris-classifier/internal/classifier"
	"github.com/and161185/qris-classifier/internal/compare"
	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/model"
	"github.com/and161185/qris-classifier/internal/repository"
)

// DefaultClassifyTimeout bounds one classification call.
const DefaultClassifyTimeout = 30 * time.Second

const requestLogTimeout = 2 * time.Second

// ClassifyService runs the classification collaborator and the optional name comparison.
type ClassifyService struct {
	cls     classifier.Classifier
	cmp     compare.Comparator
	logs    repository.LogRepository
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
}

// NewClassifyService wires the collaborators. cmp may be nil, in which case
// comparisons use the keyword table only.
func NewClassifyService(cls classifier.Classifier, cmp compare.Comparator, logs repository.LogRepository, timeout time.Duration, log *zap.Logger) *ClassifyService {
	if timeout <= 0 {
		timeout = DefaultClassifyTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cmp == nil {
		cmp = compare.NewWithFallback(nil, 0, log)
	}
	return &ClassifyService{cls: cls, cmp: cmp, logs: logs, timeout: timeout, log: log, now: time.Now}
}

// Classify makes exactly one classifier call. A deadline overrun yields
// ErrClassifierTimeout; any other collaborator failure ErrUnavailable.
// Comparison failures never fail the request.
func (s *ClassifyService) Classify(ctx context.Context, req model.ClassificationRequest) (model.Classification, error) {
	start := s.now()

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	label, err := s.cls.Classify(cctx, req.Images)
	timedOut := errors.Is(cctx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			return model.Classification{}, fmt.Errorf("%w after %s", errs.ErrClassifierTimeout, s.timeout)
		}
		if ctx.Err() != nil {
			return model.Classification{}, ctx.Err()
		}
		return model.Classification{}, fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}

	out := model.Classification{BusinessType: label}
	if req.BusinessName != "" {
		cmp, err := s.cmp.Compare(ctx, req.BusinessName, label)
		if err != nil {
			s.log.Warn("comparison failed, using keyword match", zap.Error(err))
			cmp = compare.Keyword{}.Match(req.BusinessName, label)
		}
		out.Comparison = &cmp
	}
	out.ProcessedAt = s.now().UTC()
	out.Duration = out.ProcessedAt.Sub(start)
	return out, nil
}

// Record persists the outcome of a classify request. Failures are logged only.
func (s *ClassifyService) Record(ctx context.Context, l model.RequestLog) {
	if s.logs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requestLogTimeout)
	defer cancel()
	if err := s.logs.InsertRequest(ctx, l); err != nil {
		s.log.Warn("request log insert failed", zap.String("request_id", l.RequestID), zap.Error(err))
	}
}
