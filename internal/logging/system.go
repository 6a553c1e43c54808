package logging

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/qris-classifier/internal/model"
)

const (
	defaultBuffer = 256
	insertTimeout = 2 * time.Second
)

// SystemWriter persists system log entries.
type SystemWriter interface {
	InsertSystem(ctx context.Context, l model.SystemLog) error
}

// SystemSink buffers warn-and-above entries for asynchronous persistence.
// Entries are dropped when the buffer is full.
type SystemSink struct {
	w       SystemWriter
	ch      chan model.SystemLog
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewSystemSink creates a sink with room for buffer pending entries.
func NewSystemSink(w SystemWriter, buffer int) *SystemSink {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &SystemSink{w: w, ch: make(chan model.SystemLog, buffer)}
}

// Dropped returns how many entries were discarded because the buffer was full.
func (s *SystemSink) Dropped() int64 { return s.dropped.Load() }

// Failed returns how many inserts returned an error.
func (s *SystemSink) Failed() int64 { return s.failed.Load() }

// Tee returns log with warn-and-above entries also delivered to the sink.
func (s *SystemSink) Tee(log *zap.Logger) *zap.Logger {
	return log.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, s.Core())
	}))
}

// Core returns a zapcore.Core feeding the sink.
func (s *SystemSink) Core() zapcore.Core {
	return &systemCore{sink: s}
}

// Run drains the buffer until ctx is done, then flushes what is left.
func (s *SystemSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-s.ch:
					s.insert(e)
				default:
					return
				}
			}
		case e := <-s.ch:
			s.insert(e)
		}
	}
}

func (s *SystemSink) insert(e model.SystemLog) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	if err := s.w.InsertSystem(ctx, e); err != nil {
		s.failed.Add(1)
	}
}

func (s *SystemSink) offer(e model.SystemLog) {
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

type systemCore struct {
	sink   *SystemSink
	fields []zapcore.Field
}

func (c *systemCore) Enabled(l zapcore.Level) bool { return l >= zapcore.WarnLevel }

func (c *systemCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &systemCore{sink: c.sink, fields: merged}
}

func (c *systemCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *systemCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	if ent.LoggerName != "" {
		enc.Fields["logger"] = ent.LoggerName
	}
	if ent.Caller.Defined {
		enc.Fields["caller"] = ent.Caller.TrimmedPath()
	}
	c.sink.offer(model.SystemLog{
		Level:     ent.Level.String(),
		Message:   ent.Message,
		Context:   enc.Fields,
		CreatedAt: ent.Time.UTC(),
	})
	return nil
}

func (c *systemCore) Sync() error { return nil }
