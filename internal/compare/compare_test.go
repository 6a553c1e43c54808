package compare

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/and161185/qris-classifier/internal/classifier"
	"github.com/and161185/qris-classifier/internal/model"
)

type fakeGen struct {
	text  string
	err   error
	delay time.Duration
}

func (f fakeGen) Generate(ctx context.Context, _ string, _ []model.Image, _ bool) (string, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.text, f.err
}

func TestKeyword_Match(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, kind string
		match      bool
	}{
		{"Warung Makan Sederhana", classifier.Restaurant, true},
		{"Warung Sederhana", classifier.Restaurant, true},
		{"Warung Makan Bahagia", classifier.Restaurant, true},
		{"Toko Elektronik Modern", classifier.Restaurant, false},
		{"Toko Sepatu Sport", classifier.ShoeStore, true},
		{"Toko Kelontong Bahagia", classifier.Grocery, true},
		{"Toko Bahagia", classifier.Retail, true},
		{"Toko Sepatu Sport", classifier.Retail, false},
	}
	for _, tc := range cases {
		got := Keyword{}.Match(tc.name, tc.kind)
		if got.IsMatch != tc.match {
			t.Fatalf("%q vs %s: isMatch=%v want %v (%s)", tc.name, tc.kind, got.IsMatch, tc.match, got.MatchReason)
		}
		if got.Method != MethodKeyword || got.ProvidedName != tc.name || got.ClassifiedType != tc.kind {
			t.Fatalf("bad envelope: %+v", got)
		}
		if got.MatchScore < 0 || got.MatchScore > 1 {
			t.Fatalf("score out of range: %v", got.MatchScore)
		}
	}
}

func TestKeyword_NoKeywords(t *testing.T) {
	t.Parallel()
	got := Keyword{}.Match("PT Maju Jaya", classifier.Retail)
	if got.IsMatch || got.MatchScore != 0.5 || got.MatchReason == "" {
		t.Fatalf("unexpected: %+v", got)
	}
}

func TestAI_Compare(t *testing.T) {
	t.Parallel()
	ai := NewAI(fakeGen{text: "```json\n{\"isMatch\":true,\"matchScore\":1.4,\"matchReason\":\"food stall\"}\n```"})
	got, err := ai.Compare(context.Background(), "Warung Makan", classifier.Restaurant)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if !got.IsMatch || got.MatchScore != 1 || got.Method != MethodAI || got.MatchReason != "food stall" {
		t.Fatalf("unexpected: %+v", got)
	}

	if _, err := NewAI(fakeGen{text: `{"matchReason":"?"}`}).Compare(context.Background(), "x", "y"); err == nil {
		t.Fatalf("incomplete answer must fail")
	}
	if _, err := NewAI(fakeGen{text: "yes"}).Compare(context.Background(), "x", "y"); err == nil {
		t.Fatalf("non-json answer must fail")
	}
}

func TestWithFallback(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t)

	ok := NewWithFallback(NewAI(fakeGen{text: `{"isMatch":false,"matchScore":0.2,"matchReason":"no"}`}), time.Second, log)
	got, err := ok.Compare(context.Background(), "Warung Makan", classifier.Restaurant)
	if err != nil || got.Method != MethodAI {
		t.Fatalf("primary result expected: %+v %v", got, err)
	}

	failing := NewWithFallback(NewAI(fakeGen{err: errors.New("boom")}), time.Second, log)
	got, err = failing.Compare(context.Background(), "Warung Makan", classifier.Restaurant)
	if err != nil || got.Method != MethodKeyword || !got.IsMatch {
		t.Fatalf("keyword fallback expected: %+v %v", got, err)
	}

	slow := NewWithFallback(NewAI(fakeGen{delay: time.Second}), 20*time.Millisecond, log)
	start := time.Now()
	got, err = slow.Compare(context.Background(), "Toko Elektronik", classifier.Electronics)
	if err != nil || got.Method != MethodKeyword {
		t.Fatalf("timeout fallback expected: %+v %v", got, err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("fallback did not honor the timeout")
	}

	none := NewWithFallback(nil, 0, nil)
	if got, _ := none.Compare(context.Background(), "Apotek Sehat", classifier.Pharmacy); got.Method != MethodKeyword || !got.IsMatch {
		t.Fatalf("nil primary: %+v", got)
	}
}
