package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/and161185/qris-classifier/internal/compare"
	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/model"
	"github.com/and161185/qris-classifier/internal/repository/memory"
)

type fakeClassifier struct {
	label string
	err   error
	delay time.Duration
	calls int
}

func (f *fakeClassifier) Classify(ctx context.Context, _ []model.Image) (string, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.label, f.err
}

type fakeComparator struct {
	res model.Comparison
	err error
}

func (f fakeComparator) Compare(context.Context, string, string) (model.Comparison, error) {
	return f.res, f.err
}

var req = model.ClassificationRequest{
	Images: []model.Image{{Slot: "image1", MimeType: "image/jpeg", Data: "AAAA", Size: 3}},
}

func TestClassify_Success(t *testing.T) {
	t.Parallel()
	cls := &fakeClassifier{label: "restaurant"}
	s := NewClassifyService(cls, nil, nil, time.Second, zaptest.NewLogger(t))

	out, err := s.Classify(context.Background(), req)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if out.BusinessType != "restaurant" || out.Comparison != nil || out.ProcessedAt.IsZero() {
		t.Fatalf("unexpected: %+v", out)
	}
	if cls.calls != 1 {
		t.Fatalf("classifier must be called exactly once, got %d", cls.calls)
	}
}

func TestClassify_ComparesWhenNameGiven(t *testing.T) {
	t.Parallel()
	r := req
	r.BusinessName = "Warung Makan Sederhana"

	s := NewClassifyService(&fakeClassifier{label: "restaurant"}, nil, nil, time.Second, nil)
	out, err := s.Classify(context.Background(), r)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if out.Comparison == nil || !out.Comparison.IsMatch || out.Comparison.Method != compare.MethodKeyword {
		t.Fatalf("unexpected comparison: %+v", out.Comparison)
	}

	failing := NewClassifyService(&fakeClassifier{label: "restaurant"}, fakeComparator{err: errors.New("boom")}, nil, time.Second, zaptest.NewLogger(t))
	out, err = failing.Classify(context.Background(), r)
	if err != nil || out.Comparison == nil || out.Comparison.Method != compare.MethodKeyword {
		t.Fatalf("comparison failure must fall back: %+v %v", out.Comparison, err)
	}

	ai := NewClassifyService(&fakeClassifier{label: "restaurant"}, fakeComparator{res: model.Comparison{IsMatch: true, Method: compare.MethodAI}}, nil, time.Second, nil)
	out, _ = ai.Classify(context.Background(), r)
	if out.Comparison.Method != compare.MethodAI {
		t.Fatalf("primary comparator result expected")
	}
}

func TestClassify_Timeout(t *testing.T) {
	t.Parallel()
	s := NewClassifyService(&fakeClassifier{label: "x", delay: time.Second}, nil, nil, 20*time.Millisecond, nil)
	_, err := s.Classify(context.Background(), req)
	if !errors.Is(err, errs.ErrClassifierTimeout) {
		t.Fatalf("want ErrClassifierTimeout, got %v", err)
	}
}

func TestClassify_CollaboratorFailure(t *testing.T) {
	t.Parallel()
	cls := &fakeClassifier{err: errors.New("quota exceeded")}
	s := NewClassifyService(cls, nil, nil, time.Second, nil)
	_, err := s.Classify(context.Background(), req)
	if !errors.Is(err, errs.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	if cls.calls != 1 {
		t.Fatalf("no retries expected, got %d calls", cls.calls)
	}
}

func TestClassify_Record(t *testing.T) {
	t.Parallel()
	logs := memory.NewLogRepo(10)
	s := NewClassifyService(&fakeClassifier{label: "x"}, nil, logs, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Record(ctx, model.RequestLog{RequestID: "r1", StatusCode: 200, Endpoint: "/classify"})

	got, err := logs.ListRequests(context.Background(), model.LogFilter{})
	if err != nil || len(got) != 1 || got[0].RequestID != "r1" {
		t.Fatalf("record must survive a canceled request context: %+v %v", got, err)
	}
}
