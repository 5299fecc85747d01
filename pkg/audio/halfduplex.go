package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Compile-time assertion that HalfDuplex satisfies Interface.
var _ Interface = (*HalfDuplex)(nil)

// HalfDuplex adapts a [Device] into an [Interface] that never lets the
// microphone hear the agent. Playback extends the [Gate] as the speaker
// consumes audio; captured frames are forwarded only when the gate allows.
//
// A HalfDuplex is reusable: Start resets the gate so a new session never
// inherits a stale mute deadline.
type HalfDuplex struct {
	device Device
	gate   *Gate

	mu      sync.Mutex
	running bool

	passed  atomic.Int64
	dropped atomic.Int64

	onDrop func()
}

// HalfDuplexOption configures a [HalfDuplex].
type HalfDuplexOption func(*HalfDuplex)

// WithDropHook registers fn to be called once for every microphone frame the
// gate suppresses. Used for metrics.
func WithDropHook(fn func()) HalfDuplexOption {
	return func(h *HalfDuplex) { h.onDrop = fn }
}

// NewHalfDuplex wraps device. When gate is nil a fresh [Gate] is created.
func NewHalfDuplex(device Device, gate *Gate, opts ...HalfDuplexOption) *HalfDuplex {
	if gate == nil {
		gate = NewGate()
	}
	h := &HalfDuplex{device: device, gate: gate}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Gate returns the gate this HalfDuplex consults.
func (h *HalfDuplex) Gate() *Gate { return h.gate }

// Start implements [Interface]. It resets the gate and begins forwarding
// allowed microphone frames to input.
func (h *HalfDuplex) Start(input func(frame []byte)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return nil
	}

	h.gate.Reset()
	f := h.device.Format()
	width := f.FrameWidth()

	gated := func(frame []byte) {
		if !h.gate.Allow() {
			h.dropped.Add(1)
			if h.onDrop != nil {
				h.onDrop()
			}
			return
		}
		h.passed.Add(1)
		input(frame)
	}
	played := func(n int) {
		h.gate.OnPlayback(n, f.SampleRate, width)
	}

	if err := h.device.Start(gated, played); err != nil {
		return err
	}
	h.running = true
	return nil
}

// Output implements [Interface]. The chunk is queued on the device; the gate
// is extended when the device reports it as played.
func (h *HalfDuplex) Output(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if err := h.device.Play(chunk); err != nil {
		slog.Debug("audio: dropping output chunk", "bytes", len(chunk), "err", err)
	}
}

// Interrupt implements [Interface] by discarding queued playback. The current
// mute deadline is left untouched so the tail of the cut-off audio is still
// covered by the padding.
func (h *HalfDuplex) Interrupt() {
	h.device.Flush()
}

// Stop implements [Interface]. Calling Stop more than once is safe.
func (h *HalfDuplex) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	h.device.Flush()
	if err := h.device.Stop(); err != nil {
		slog.Warn("audio: failed to stop device", "err", err)
	}
}

// Stats returns the number of microphone frames forwarded and suppressed since
// the HalfDuplex was created.
func (h *HalfDuplex) Stats() (passed, dropped int64) {
	return h.passed.Load(), h.dropped.Load()
}
