package diagnostics

import (
	"errors"
	"testing"

	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestEmitterStampsAndFansOut(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	e := NewEmitter(a)
	e.Add(b)

	e.Emit(RoutingMiss(types.PanelInput{Panel: "p1", Element: "MISC1", Value: 1}))

	require.Len(t, a.Records(), 1)
	require.Len(t, b.Records(), 1)
	rec := a.Records()[0]
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.False(t, rec.Time.IsZero())
	assert.Equal(t, KindRoutingMiss, rec.Kind)
	require.NotNil(t, rec.Value)
	assert.Equal(t, 1.0, *rec.Value)
}

func TestNilEmitter(t *testing.T) {
	var e *Emitter
	assert.NotPanics(t, func() { e.Emit(Record{Kind: KindDroppedEvent}) })
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewZapSink(zap.New(core))

	sink.Record(SessionState("panel/p1", "connecting", "faulted", errors.New("port busy")))
	sink.Record(SessionState("simulator", "connecting", "connected", nil))
	sink.Record(Record{Kind: KindUnknownHandle, Message: "value for unknown handle"})

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "port busy", entries[0].ContextMap()["error"])
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)
	assert.Equal(t, "value for unknown handle", entries[2].Message)
}

func TestStreamer(t *testing.T) {
	s := NewStreamer()
	ch := s.Subscribe()
	assert.Equal(t, 1, s.SubscriberCount())

	s.Record(Record{Kind: KindDroppedEvent})
	assert.Equal(t, KindDroppedEvent, (<-ch).Kind)

	// a full subscriber does not block the producer
	for i := 0; i < streamBufferSize+10; i++ {
		s.Record(Record{Kind: KindWriteFailure})
	}
	assert.Len(t, ch, streamBufferSize)

	s.Unsubscribe(ch)
	assert.Equal(t, 0, s.SubscriberCount())
}

func TestStreamerWithBuffer(t *testing.T) {
	s := NewStreamerWithBuffer(3)
	ch := s.Subscribe()
	for i := 0; i < 5; i++ {
		s.Record(Record{Kind: KindRoutingMiss})
	}
	assert.Len(t, ch, 3)

	assert.Equal(t, streamBufferSize, NewStreamerWithBuffer(0).buffer)
}
