// Package local implements [audio.Platform] on the host's sound card.
//
// Capture uses miniaudio through github.com/gen2brain/malgo in 20 ms periods.
// Playback uses github.com/ebitengine/oto/v3 with a pull player that reads
// from an in-memory queue; when the queue is empty the player is fed silence
// so it never stalls the oto mixer goroutine.
//
// oto allows a single context per process, so a [Platform] creates it lazily
// on the first Open and reuses it for every later device. A failed creation
// is retried by the next Open.
package local

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/MrWong99/chinesetutor/pkg/audio"
)

// PeriodMillis is the capture period. Each microphone callback carries one
// period of audio.
const PeriodMillis = 20

// ErrClosed is returned by operations on a closed device.
var ErrClosed = errors.New("local audio: device closed")

// Compile-time interface assertions.
var (
	_ audio.Platform = (*Platform)(nil)
	_ audio.Device   = (*Device)(nil)
)

// Platform opens the default capture and playback devices.
type Platform struct {
	// newContext is oto.NewContext outside tests.
	newContext func(*oto.NewContextOptions) (*oto.Context, chan struct{}, error)

	mu       sync.Mutex
	otoReady bool
	otoCtx   *oto.Context
	otoFmt   audio.Format
}

// New returns a Platform. No hardware is touched until Open.
func New() *Platform { return &Platform{newContext: oto.NewContext} }

// Open implements [audio.Platform]. Only 16-bit mono or stereo PCM is
// supported. The first Open fixes the playback format for the process.
func (p *Platform) Open(_ context.Context, format audio.Format) (audio.Device, error) {
	if format.SampleWidth != 2 || format.SampleRate <= 0 || format.Channels < 1 || format.Channels > 2 {
		return nil, fmt.Errorf("local audio: unsupported format %s", format)
	}

	otoCtx, err := p.speakerContext(format)
	if err != nil {
		return nil, err
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, nil)
	if err != nil {
		return nil, fmt.Errorf("local audio: init capture context: %w", err)
	}

	d := &Device{format: format, malgoCtx: mctx}
	d.speaker = &speaker{}
	d.speaker.player = otoCtx.NewPlayer(d.speaker)

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(format.Channels)
	cfg.SampleRate = uint32(format.SampleRate)
	cfg.PeriodSizeInMilliseconds = PeriodMillis

	mic, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) { d.capture(in) },
	})
	if err != nil {
		_ = d.speaker.player.Close()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("local audio: init microphone: %w", err)
	}
	d.mic = mic
	return d, nil
}

// speakerContext returns the process-wide oto context, creating it when no
// earlier attempt succeeded.
func (p *Platform) speakerContext(format audio.Format) (*oto.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.otoReady {
		newContext := p.newContext
		if newContext == nil {
			newContext = oto.NewContext
		}
		ctx, ready, err := newContext(&oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			return nil, fmt.Errorf("local audio: init speaker: %w", err)
		}
		<-ready
		p.otoReady, p.otoCtx, p.otoFmt = true, ctx, format
	}
	if p.otoFmt != format {
		return nil, fmt.Errorf("local audio: speaker already opened as %s, cannot reopen as %s", p.otoFmt, format)
	}
	return p.otoCtx, nil
}

// ─── Device ──────────────────────────────────────────────────────────────────

// Device is one microphone plus the shared speaker.
type Device struct {
	format   audio.Format
	malgoCtx *malgo.AllocatedContext
	mic      *malgo.Device
	speaker  *speaker

	mu      sync.Mutex
	input   func([]byte)
	running bool
	closed  bool
}

// Format implements [audio.Device].
func (d *Device) Format() audio.Format { return d.format }

// Start implements [audio.Device].
func (d *Device) Start(input func([]byte), played func(int)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.running {
		return nil
	}
	d.input = input
	d.speaker.setPlayed(played)
	d.speaker.player.Play()
	if err := d.mic.Start(); err != nil {
		d.speaker.player.Pause()
		return fmt.Errorf("local audio: start microphone: %w", err)
	}
	d.running = true
	return nil
}

func (d *Device) capture(in []byte) {
	d.mu.Lock()
	input, running := d.input, d.running
	d.mu.Unlock()
	if !running || input == nil || len(in) == 0 {
		return
	}
	// malgo reuses its buffer after the callback returns.
	input(append([]byte(nil), in...))
}

// Play implements [audio.Device].
func (d *Device) Play(chunk []byte) error {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if !running {
		return ErrClosed
	}
	d.speaker.enqueue(chunk)
	return nil
}

// Flush implements [audio.Device].
func (d *Device) Flush() { d.speaker.flush() }

// Stop implements [audio.Device].
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.running = false
	d.speaker.flush()
	d.speaker.player.Pause()
	if err := d.mic.Stop(); err != nil {
		return fmt.Errorf("local audio: stop microphone: %w", err)
	}
	return nil
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	if err := d.Stop(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.mic.Uninit()
	err := d.speaker.player.Close()
	if uerr := d.malgoCtx.Uninit(); uerr != nil && err == nil {
		err = uerr
	}
	d.malgoCtx.Free()
	return err
}

// ─── speaker ─────────────────────────────────────────────────────────────────

// speaker is the io.Reader oto pulls from.
type speaker struct {
	player *oto.Player

	mu     sync.Mutex
	buf    []byte
	played func(int)
}

func (s *speaker) setPlayed(fn func(int)) {
	s.mu.Lock()
	s.played = fn
	s.mu.Unlock()
}

func (s *speaker) enqueue(chunk []byte) {
	s.mu.Lock()
	s.buf = append(s.buf, chunk...)
	s.mu.Unlock()
}

func (s *speaker) flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.mu.Unlock()
}

// Read implements io.Reader. Queued audio is returned first; an empty queue
// yields silence.
func (s *speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		clear(p)
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	played := s.played
	s.mu.Unlock()

	if played != nil {
		played(n)
	}
	return n, nil
}
