package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/codec"
	"github.com/KevinKickass/PanelBridge/internal/diagnostics"
	"github.com/KevinKickass/PanelBridge/internal/transport"
	"github.com/KevinKickass/PanelBridge/internal/types"
	"go.uber.org/zap"
)

var (
	ErrQueueFull        = errors.New("panel output queue full")
	ErrLinkClosed       = errors.New("panel link closed")
	ErrHandshakeTimeout = errors.New("panel handshake timed out")
)

const (
	defaultQueueSize = 64
	readBufferSize   = 256
)

type PanelConfig struct {
	ID               types.PanelID
	Address          string
	Spec             *codec.Spec
	Options          transport.Options
	SettleDelay      time.Duration
	HandshakeTimeout time.Duration
	QueueSize        int
}

// PanelEndpoint runs sessions with one physical panel.
type PanelEndpoint struct {
	cfg     PanelConfig
	opener  transport.Opener
	inputs  chan<- types.PanelInput
	emitter *diagnostics.Emitter
	logger  *zap.Logger
	now     func() time.Time
}

// NewPanelEndpoint creates an endpoint that forwards decoded inputs to
// inputs in arrival order.
func NewPanelEndpoint(cfg PanelConfig, opener transport.Opener, inputs chan<- types.PanelInput, emitter *diagnostics.Emitter, logger *zap.Logger) *PanelEndpoint {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Options.BaudRate == 0 {
		cfg.Options.BaudRate = cfg.Spec.BaudRate
	}
	return &PanelEndpoint{
		cfg:     cfg,
		opener:  opener,
		inputs:  inputs,
		emitter: emitter,
		logger:  logger.With(zap.String("panel", string(cfg.ID))),
		now:     time.Now,
	}
}

func (p *PanelEndpoint) Ref() Ref {
	return PanelRef(p.cfg.ID)
}

func (p *PanelEndpoint) Run(ctx context.Context, up func(Link)) error {
	ch, err := p.opener.Open(ctx, p.cfg.Address, p.cfg.Options)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Schließen entsperrt einen blockierenden Read
	var closeOnce sync.Once
	closeChannel := func() { closeOnce.Do(func() { ch.Close() }) }
	defer closeChannel()
	go func() {
		<-runCtx.Done()
		closeChannel()
	}()

	p.logger.Debug("Panel channel opened", zap.String("address", p.cfg.Address))

	// device resets when the port opens
	if p.cfg.SettleDelay > 0 {
		timer := time.NewTimer(p.cfg.SettleDelay)
		select {
		case <-timer.C:
		case <-runCtx.Done():
			timer.Stop()
			return nil
		}
	}

	dec := p.cfg.Spec.NewDecoder()
	link := &panelLink{queue: make(chan []byte, p.cfg.QueueSize), done: make(chan struct{})}
	defer link.close()

	var timedOut atomic.Bool
	var handshake *time.Timer
	if p.cfg.HandshakeTimeout > 0 && !dec.Ready() {
		handshake = time.AfterFunc(p.cfg.HandshakeTimeout, func() {
			timedOut.Store(true)
			cancel()
		})
		defer handshake.Stop()
	}

	replies := make(chan []byte, p.cfg.QueueSize)
	writeErr := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.writeLoop(runCtx, ch, dec, link, replies); err != nil {
			writeErr <- err
			cancel()
		}
	}()
	defer wg.Wait()
	defer cancel()

	err = p.readLoop(runCtx, ch, dec, replies, func() {
		if handshake != nil && !handshake.Stop() && timedOut.Load() {
			return
		}
		p.logger.Info("Panel session established", zap.String("address", p.cfg.Address))
		up(link)
	})

	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return err
	}
	select {
	case werr := <-writeErr:
		return werr
	default:
	}
	if timedOut.Load() {
		return ErrHandshakeTimeout
	}
	return nil
}

// readLoop decodes until the session ends. onReady runs once, when the
// protocol handshake or identification completes.
func (p *PanelEndpoint) readLoop(ctx context.Context, ch transport.Channel, dec codec.Decoder, replies chan<- []byte, onReady func()) error {
	ready := false
	markReady := func() {
		if !ready {
			ready = true
			onReady()
		}
	}

	if dec.Ready() {
		markReady()
	}

	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := ch.Read(buf)
		if n > 0 {
			res := dec.Decode(buf[:n])

			for _, m := range res.Malformed {
				p.emitter.Emit(diagnostics.MalformedFrame(p.cfg.ID, m))
			}
			for _, reply := range res.Replies {
				select {
				case replies <- reply:
				case <-ctx.Done():
					return nil
				}
			}
			if res.Err != nil {
				return Permanent(fmt.Errorf("panel %s: %w", p.cfg.ID, res.Err))
			}
			if res.Ready || dec.Ready() {
				markReady()
			}
			if ready {
				if err := p.forward(ctx, res.Events); err != nil {
					return nil
				}
			}
			if res.Reset {
				p.logger.Info("Panel requested reset")
				return ErrDisconnected
			}
		}

		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case transport.IsTimeout(err):
			case errors.Is(err, io.EOF):
				return ErrDisconnected
			default:
				return types.NewTransportError(p.cfg.Address, "read", err)
			}
		}
	}
}

func (p *PanelEndpoint) forward(ctx context.Context, events []codec.Event) error {
	for _, ev := range events {
		input := types.PanelInput{
			Panel:      p.cfg.ID,
			Element:    ev.Element,
			Value:      ev.Value,
			ReceivedAt: p.now(),
		}
		select {
		case p.inputs <- input:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *PanelEndpoint) writeLoop(ctx context.Context, ch transport.Channel, dec codec.Decoder, link *panelLink, replies <-chan []byte) error {
	write := func(frame []byte) error {
		if _, err := ch.Write(frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return types.NewTransportError(p.cfg.Address, "write", err)
		}
		return nil
	}

	if g, ok := dec.(codec.Greeter); ok {
		if err := write(g.Hello()); err != nil {
			return err
		}
	}

	var tick <-chan time.Time
	var keepAlive []byte
	if k, ok := dec.(codec.KeepAliver); ok {
		interval, frame := k.KeepAlive()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
		keepAlive = frame
	}

	for {
		var err error
		select {
		case <-ctx.Done():
			return nil
		case frame := <-replies:
			err = write(frame)
		case frame := <-link.queue:
			err = write(frame)
		case <-tick:
			err = write(keepAlive)
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

type panelLink struct {
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (l *panelLink) Send(frame []byte) error {
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}

	select {
	case l.queue <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

func (l *panelLink) close() {
	l.closeOnce.Do(func() { close(l.done) })
}
