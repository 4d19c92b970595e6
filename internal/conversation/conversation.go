package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"voice-bridge/internal/calls"
	"voice-bridge/internal/events"
	"voice-bridge/internal/mediastream"
	"voice-bridge/internal/metrics"
	"voice-bridge/internal/output"
	"voice-bridge/internal/streaming"
	"voice-bridge/pkg/logger"
)

var (
	ErrUnsupportedCarrier = errors.New("conversation: unsupported carrier")
	ErrAlreadyStarted     = errors.New("conversation: already started")
	ErrNoStartFrame       = errors.New("conversation: no start frame before timeout")
)

const (
	StatusNoStartFrame       = "no_start_frame"
	StatusStoppedBeforeStart = "stopped_before_start"
	StatusDisconnected       = "disconnected_before_start"
)

type Options struct {
	SampleRate    int
	StartTimeout  time.Duration
	QueueSize     int
	SubChunkBytes int
	Metrics       *metrics.Metrics
	Logger        *slog.Logger

	// NewProvider builds the pipeline; defaults to streaming.New.
	NewProvider func(streaming.Params) (streaming.Provider, error)
}

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = 16000
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = 8 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.NewProvider == nil {
		o.NewProvider = streaming.New
	}
	return o
}

// Conversation bridges one carrier media socket to one streaming provider.
//
// Lifecycle: Created -> AwaitingStart -> Active -> Terminating -> Terminated.
// Terminate may be called any number of times from any goroutine; only the
// first call has effects, and exactly one CallEnded is published.
type Conversation struct {
	cfg        calls.CallConfig
	socket     Socket
	serializer mediastream.Serializer
	device     *output.Device
	provider   streaming.Provider
	bus        *events.Bus
	opts       Options
	log        *slog.Logger

	state atomic.Int32

	mu        sync.Mutex
	cancel    context.CancelFunc
	eventCtx  context.Context
	startedAt time.Time
	streamSID string
	status    string

	terminateOnce sync.Once
	done          chan struct{}
}

// FromCallConfig builds a Conversation for a stored config.
// Only Twilio configs can be bridged; other known carriers yield ErrUnsupportedCarrier.
func FromCallConfig(cfg calls.CallConfig, socket Socket, bus *events.Bus, opts Options) (*Conversation, error) {
	if err := CheckSupported(cfg); err != nil {
		return nil, err
	}
	return New(cfg, socket, bus, opts)
}

// CheckSupported reports whether a conversation can be built for cfg,
// without needing a socket.
func CheckSupported(cfg calls.CallConfig) error {
	switch cfg.(type) {
	case *calls.TwilioCallConfig:
		return nil
	case *calls.PlivoCallConfig:
		return fmt.Errorf("%w: %s", ErrUnsupportedCarrier, cfg.Type())
	case nil:
		return calls.ErrInvalidConfig
	default:
		return fmt.Errorf("%w: %s", calls.ErrUnknownConfigType, cfg.Type())
	}
}

func New(cfg calls.CallConfig, socket Socket, bus *events.Bus, opts Options) (*Conversation, error) {
	if cfg == nil || socket == nil || bus == nil {
		return nil, errors.New("conversation: config, socket and bus are required")
	}
	opts = opts.withDefaults()
	base := cfg.Base()

	// Codec and provider share one rate; a stored rate overrides the process default.
	streamCfg := base.StreamingProvider
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = opts.SampleRate
	}

	c := &Conversation{
		cfg:        cfg,
		socket:     socket,
		serializer: mediastream.NewSerializer(streamCfg.SampleRate),
		bus:        bus,
		opts:       opts,
		log:        logger.ForCall(opts.Logger, base.ConversationID),
		eventCtx:   context.Background(),
		done:       make(chan struct{}),
	}
	c.device = output.NewDevice(c.serializer, socket, output.Options{
		QueueSize:     opts.QueueSize,
		SubChunkBytes: opts.SubChunkBytes,
		Observer:      opts.Metrics,
		Logger:        c.log,
	})

	p, err := opts.NewProvider(streaming.Params{
		ConversationID: base.ConversationID,
		Config:         streamCfg,
		Output:         c.device,
		Bus:            bus,
		Logger:         c.log,
	})
	if err != nil {
		return nil, err
	}
	c.provider = p
	return c, nil
}

func (c *Conversation) ID() string { return c.cfg.Base().ConversationID }

func (c *Conversation) Config() calls.CallConfig { return c.cfg }

// SampleRate is the PCM rate exchanged with the streaming provider.
func (c *Conversation) SampleRate() int { return c.serializer.SampleRate }

func (c *Conversation) State() State { return State(c.state.Load()) }

func (c *Conversation) IsActive() bool { return c.State() == StateActive }

// Done is closed once the conversation reaches Terminated.
func (c *Conversation) Done() <-chan struct{} { return c.done }

// Run drives the call until the carrier stops, the socket fails, the
// provider finishes, or Terminate is called. It always leaves the
// conversation Terminated.
func (c *Conversation) Run(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateAwaitingStart)) {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.cancel = cancel
	c.eventCtx = context.WithoutCancel(ctx)
	c.mu.Unlock()
	c.opts.Metrics.CallStarted()

	start, err := c.awaitStart()
	if err != nil {
		if c.State() < StateTerminating {
			c.notConnected(err)
		}
		c.Terminate()
		if errors.Is(err, ErrNoStartFrame) {
			return err
		}
		return nil
	}

	if !c.activate(ctx, start) {
		c.Terminate()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer c.Terminate()
		return c.receive(gctx)
	})
	g.Go(func() error {
		defer c.Terminate()
		return c.device.Run(gctx)
	})
	g.Go(func() error {
		defer c.Terminate()
		if err := c.provider.Start(gctx); err != nil {
			return fmt.Errorf("conversation: streaming provider: %w", err)
		}
		return nil
	})

	err = g.Wait()
	c.Terminate()
	return err
}

var (
	errStoppedBeforeStart = errors.New("conversation: stopped before start")
	errClosedBeforeStart  = errors.New("conversation: socket closed before start")
)

func (c *Conversation) awaitStart() (mediastream.StartFrame, error) {
	if err := c.socket.SetReadDeadline(time.Now().Add(c.opts.StartTimeout)); err != nil {
		return mediastream.StartFrame{}, fmt.Errorf("%w: %v", errClosedBeforeStart, err)
	}
	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return mediastream.StartFrame{}, ErrNoStartFrame
			}
			return mediastream.StartFrame{}, fmt.Errorf("%w: %v", errClosedBeforeStart, err)
		}

		f, err := c.serializer.Decode(data)
		if err != nil {
			c.opts.Metrics.DecodeError()
			c.log.Warn("dropping malformed frame while awaiting start", "err", err)
			continue
		}
		switch f := f.(type) {
		case mediastream.StartFrame:
			c.opts.Metrics.InboundFrame(mediastream.EventStart)
			_ = c.socket.SetReadDeadline(time.Time{})
			return f, nil
		case mediastream.StopFrame:
			return mediastream.StartFrame{}, errStoppedBeforeStart
		}
	}
}

func (c *Conversation) notConnected(err error) {
	status := StatusDisconnected
	switch {
	case errors.Is(err, ErrNoStartFrame):
		status = StatusNoStartFrame
	case errors.Is(err, errStoppedBeforeStart):
		status = StatusStoppedBeforeStart
	}
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()

	c.log.Warn("call did not connect", "status", status, "err", err)
	c.bus.Publish(c.publishCtx(), events.CallDidNotConnect{
		Header:          events.NewHeader(c.ID()),
		TelephonyStatus: status,
	})
}

// activate binds the stream and publishes CallConnected. It reports false if
// the conversation was terminated concurrently.
func (c *Conversation) activate(ctx context.Context, start mediastream.StartFrame) bool {
	c.device.BindStream(start.StreamSID)

	c.mu.Lock()
	c.streamSID = start.StreamSID
	c.startedAt = time.Now()
	c.mu.Unlock()

	if !c.state.CompareAndSwap(int32(StateAwaitingStart), int32(StateActive)) {
		return false
	}

	base := c.cfg.Base()
	c.log.Info("call connected", "stream_sid", start.StreamSID, "direction", base.Direction)
	c.bus.Publish(ctx, events.CallConnected{
		Header:    events.NewHeader(c.ID()),
		Direction: string(base.Direction),
		FromPhone: base.FromPhone,
		ToPhone:   base.ToPhone,
		StreamSID: start.StreamSID,
	})
	return true
}

func (c *Conversation) receive(ctx context.Context) error {
	for {
		mt, data, err := c.socket.ReadMessage()
		if err != nil {
			if c.State() >= StateTerminating || ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("carrier closed media socket")
				return nil
			}
			return fmt.Errorf("conversation: read: %w", err)
		}
		if mt != websocket.TextMessage {
			c.log.Debug("ignoring non-text frame", "type", mt)
			continue
		}

		f, err := c.serializer.Decode(data)
		if err != nil {
			c.opts.Metrics.DecodeError()
			c.log.Warn("dropping malformed frame", "err", err)
			continue
		}
		if f == nil {
			continue
		}
		c.opts.Metrics.InboundFrame(f.Event())

		switch f := f.(type) {
		case mediastream.AudioFrame:
			c.provider.SendAudio(f.PCM)
		case mediastream.DTMFFrame:
			c.log.Debug("dtmf received", "digit", string(f.Digit))
			c.provider.SendDTMF(f.Digit)
		case mediastream.MarkFrame:
			if seq, ok := c.device.AckMark(f.Name); ok {
				c.log.Debug("chunk played", "seq", seq)
			}
		case mediastream.StopFrame:
			c.log.Info("carrier stopped stream")
			return nil
		case mediastream.StartFrame:
			c.log.Warn("ignoring repeated start frame", "stream_sid", f.StreamSID)
		}
	}
}

// Interrupt barges in on the current playback without ending the call.
func (c *Conversation) Interrupt(ctx context.Context) error {
	return c.device.Interrupt(ctx)
}

// Terminate ends the call. Only the first call has effects; later calls block
// until the first completes and then return.
func (c *Conversation) Terminate() {
	c.terminateOnce.Do(func() {
		prev := State(c.state.Swap(int32(StateTerminating)))

		c.mu.Lock()
		cancel := c.cancel
		started := c.startedAt
		status := c.status
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if err := c.socket.Close(websocket.CloseNormalClosure, ""); err != nil {
			c.log.Warn("media socket close failed", "err", err)
		}
		c.provider.Stop()
		c.device.Close()

		var dur time.Duration
		if !started.IsZero() {
			dur = time.Since(started)
		}
		outcome := "completed"
		if prev < StateActive {
			outcome = "did_not_connect"
			if status != "" {
				outcome = status
			}
		}
		if prev != StateCreated {
			c.opts.Metrics.CallFinished(string(c.cfg.Base().Direction), outcome, dur)
		}

		c.state.Store(int32(StateTerminated))
		c.log.Info("call ended", "outcome", outcome, "duration_s", dur.Seconds())
		c.bus.Publish(c.publishCtx(), events.CallEnded{
			Header:              events.NewHeader(c.ID()),
			ConversationMinutes: dur.Minutes(),
		})
		close(c.done)
	})
}

func (c *Conversation) publishCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eventCtx == nil {
		return context.Background()
	}
	return c.eventCtx
}
