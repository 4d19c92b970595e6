package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"voice-bridge/internal/audio"
	"voice-bridge/internal/mediastream"
	"voice-bridge/internal/worker"
)

var ErrAlreadyRunning = errors.New("output: playback loop already running")

const markPrefix = "chunk-"

// Chunk is one pipeline-visible unit of synthesized audio.
type Chunk struct {
	Seq uint64
	PCM []byte
}

type Options struct {
	// QueueSize bounds queued chunks; the oldest is dropped on overflow. 0 means unbounded.
	QueueSize int
	// SubChunkBytes is the mu-law payload size of one media frame.
	SubChunkBytes int
	// Observer receives queue depth and drop counts. Optional. When it also
	// implements InterruptObserver it is told about every barge-in.
	Observer worker.Observer
	Logger   *slog.Logger
}

type InterruptObserver interface {
	Interrupted()
}

// Device plays pipeline audio to the carrier at real-time pace and supports barge-in.
//
// Play and Interrupt are safe from any goroutine. Exactly one Run loop consumes
// the queue. Interrupt holds the send lock while it advances the epoch and sends
// the clear frame, so no stale media can follow the clear on the wire.
type Device struct {
	serializer mediastream.Serializer
	transport  Transport
	queue      *worker.Queue[Chunk]
	subChunk   int
	log        *slog.Logger
	interrupts InterruptObserver

	sendMu sync.Mutex

	mu        sync.Mutex
	streamSID string
	inFlight  map[uint64]struct{}
	acked     uint64

	seq     atomic.Uint64
	running atomic.Bool

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDevice(s mediastream.Serializer, t Transport, opts Options) *Device {
	if opts.SubChunkBytes <= 0 {
		opts.SubChunkBytes = 3200
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	interrupts, _ := opts.Observer.(InterruptObserver)
	return &Device{
		interrupts: interrupts,
		serializer: s,
		transport:  t,
		queue:      worker.NewQueue[Chunk](opts.QueueSize, opts.Observer),
		subChunk:   opts.SubChunkBytes,
		log:        opts.Logger,
		inFlight:   make(map[uint64]struct{}),
		sleep:      sleepCtx,
	}
}

// BindStream sets the carrier stream id used on every outbound frame.
func (d *Device) BindStream(streamSID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streamSID = streamSID
}

func (d *Device) stream() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streamSID
}

// Play enqueues pipeline PCM for playback. It never blocks.
func (d *Device) Play(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	seq := d.seq.Add(1)
	if d.queue.Put(Chunk{Seq: seq, PCM: pcm}) {
		d.log.Warn("output queue full, dropped oldest chunk", "seq", seq)
	}
}

// Interrupt discards everything not yet sent and tells the carrier to drop its buffer.
func (d *Device) Interrupt(ctx context.Context) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	epoch := d.queue.Interrupt()
	if d.interrupts != nil {
		d.interrupts.Interrupted()
	}
	d.mu.Lock()
	clear(d.inFlight)
	d.mu.Unlock()

	sid := d.stream()
	if sid == "" {
		return nil
	}
	frame, err := mediastream.EncodeClear(sid)
	if err != nil {
		return err
	}
	if err := d.transport.WriteText(ctx, frame); err != nil {
		return fmt.Errorf("output: send clear: %w", err)
	}
	d.log.Debug("output interrupted", "epoch", epoch)
	return nil
}

// Run consumes the queue until ctx is done or Close is called.
// A transport error ends the loop and is returned.
func (d *Device) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	for {
		it, err := d.queue.Next(ctx)
		if err != nil {
			if errors.Is(err, worker.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := d.playChunk(ctx, it); err != nil {
			return err
		}
	}
}

func (d *Device) playChunk(ctx context.Context, it worker.Item[Chunk]) error {
	ulaw := d.serializer.Transcode(it.Payload.PCM)
	for off := 0; off < len(ulaw); off += d.subChunk {
		end := min(off+d.subChunk, len(ulaw))
		sub := ulaw[off:end]
		if len(sub)%2 == 1 {
			sub = append(sub[:len(sub):len(sub)], audio.MuLawSilence)
		}

		started := time.Now()
		sent, err := d.send(ctx, it, func(sid string) ([]byte, error) {
			return mediastream.EncodeMedia(sid, sub)
		})
		if err != nil {
			return err
		}
		if !sent {
			return nil
		}
		if err := d.sleep(ctx, audio.MuLawDuration(len(sub))-time.Since(started)); err != nil {
			return nil
		}
	}

	// Registered before sending so a fast carrier ack always finds it.
	seq := it.Payload.Seq
	d.mu.Lock()
	d.inFlight[seq] = struct{}{}
	d.mu.Unlock()

	name := markPrefix + strconv.FormatUint(seq, 10)
	sent, err := d.send(ctx, it, func(sid string) ([]byte, error) {
		return mediastream.EncodeMark(sid, name)
	})
	if err != nil || !sent {
		d.mu.Lock()
		delete(d.inFlight, seq)
		d.mu.Unlock()
	}
	return err
}

// send writes one frame unless it has gone stale. It reports whether the frame was sent.
func (d *Device) send(ctx context.Context, it worker.Item[Chunk], build func(sid string) ([]byte, error)) (bool, error) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	if d.queue.IsStale(it) {
		return false, nil
	}
	frame, err := build(d.stream())
	if err != nil {
		return false, err
	}
	if err := d.transport.WriteText(ctx, frame); err != nil {
		return false, fmt.Errorf("output: send: %w", err)
	}
	return true, nil
}

// AckMark records a carrier mark acknowledgement. Marks are acknowledged in
// order, so every chunk up to and including the named one has finished playing.
func (d *Device) AckMark(name string) (uint64, bool) {
	if !strings.HasPrefix(name, markPrefix) {
		return 0, false
	}
	seq, err := strconv.ParseUint(strings.TrimPrefix(name, markPrefix), 10, 64)
	if err != nil {
		return 0, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inFlight[seq]; !ok {
		return seq, false
	}
	for s := range d.inFlight {
		if s <= seq {
			delete(d.inFlight, s)
		}
	}
	if seq > d.acked {
		d.acked = seq
	}
	return seq, true
}

// Unacknowledged reports chunks fully sent but not yet confirmed played.
func (d *Device) Unacknowledged() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}

func (d *Device) Acked() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked
}

func (d *Device) Queued() int { return d.queue.Len() }

// Close stops the playback loop and discards queued audio.
func (d *Device) Close() { d.queue.Close() }

func sleepCtx(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
