package diagnostics

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink consumes diagnostic records. Record must not block.
type Sink interface {
	Record(r Record)
}

type SinkFunc func(r Record)

func (f SinkFunc) Record(r Record) { f(r) }

// Emitter stamps records and fans them out to every registered sink.
type Emitter struct {
	mu    sync.RWMutex
	sinks []Sink
	now   func() time.Time
}

func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks, now: time.Now}
}

func (e *Emitter) Add(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Emit is safe to call on a nil Emitter.
func (e *Emitter) Emit(r Record) {
	if e == nil {
		return
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Time.IsZero() {
		r.Time = e.now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, s := range e.sinks {
		s.Record(r)
	}
}

// ZapSink renders records as structured log lines.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("diagnostics")}
}

func (z *ZapSink) Record(r Record) {
	fields := []zap.Field{
		zap.String("kind", string(r.Kind)),
		zap.String("id", r.ID.String()),
	}
	if r.Endpoint != "" {
		fields = append(fields, zap.String("endpoint", r.Endpoint))
	}
	if r.Panel != "" {
		fields = append(fields, zap.String("panel", string(r.Panel)))
	}
	if r.Element != "" {
		fields = append(fields, zap.String("element", string(r.Element)))
	}
	if r.Variable != "" {
		fields = append(fields, zap.String("variable", r.Variable))
	}
	if r.From != "" || r.To != "" {
		fields = append(fields, zap.String("from", r.From), zap.String("to", r.To))
	}
	if r.Value != nil {
		fields = append(fields, zap.Float64("value", *r.Value))
	}
	if r.Error != "" {
		fields = append(fields, zap.String("error", r.Error))
	}

	msg := r.Message
	if msg == "" {
		msg = string(r.Kind)
	}

	if ce := z.logger.Check(levelFor(r), msg); ce != nil {
		ce.Write(fields...)
	}
}

func levelFor(r Record) zapcore.Level {
	switch r.Kind {
	case KindSessionState:
		if r.To == "faulted" {
			return zapcore.WarnLevel
		}
		return zapcore.InfoLevel
	case KindMalformedFrame, KindWriteFailure, KindTransformError:
		return zapcore.WarnLevel
	case KindDroppedEvent:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// Recorder keeps every record in memory.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Record(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

func (r *Recorder) OfKind(kind Kind) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Recorder) Count(kind Kind) int {
	return len(r.OfKind(kind))
}
