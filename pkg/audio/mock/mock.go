// Package mock provides in-memory mock implementations of [audio.Platform] and
// [audio.Device] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	platform := &mock.Platform{Device: dev}
//	d, _ := platform.Open(ctx, audio.DefaultFormat)
//	_ = d.Start(onFrame, onPlayed)
//	dev.Capture([]byte{0, 0}) // simulates a microphone frame
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/chinesetutor/pkg/audio"
)

// ErrStopped is returned by [Device.Play] when the device is not started.
var ErrStopped = errors.New("mock audio: device not started")

// ─── Device ──────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
//
// Play reports the chunk as played immediately, so the played callback passed
// to Start fires synchronously from Play.
type Device struct {
	mu sync.Mutex

	// FormatResult is returned by [Device.Format]. Defaults to audio.DefaultFormat.
	FormatResult audio.Format

	// StartErr is returned by [Device.Start].
	StartErr error

	// StopErr is returned by [Device.Stop].
	StopErr error

	// PlayErr is returned by [Device.Play].
	PlayErr error

	// Played holds every chunk passed to Play, in order.
	Played [][]byte

	// CallCountStart, CallCountStop, CallCountFlush and CallCountClose record
	// method invocations.
	CallCountStart int
	CallCountStop  int
	CallCountFlush int
	CallCountClose int

	input   func([]byte)
	played  func(int)
	running bool
}

// Format implements [audio.Device].
func (d *Device) Format() audio.Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FormatResult.SampleRate == 0 {
		return audio.DefaultFormat
	}
	return d.FormatResult
}

// Start implements [audio.Device].
func (d *Device) Start(input func([]byte), played func(int)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartErr != nil {
		return d.StartErr
	}
	d.input, d.played, d.running = input, played, true
	return nil
}

// Play implements [audio.Device].
func (d *Device) Play(chunk []byte) error {
	d.mu.Lock()
	if d.PlayErr != nil {
		err := d.PlayErr
		d.mu.Unlock()
		return err
	}
	if !d.running {
		d.mu.Unlock()
		return ErrStopped
	}
	d.Played = append(d.Played, append([]byte(nil), chunk...))
	played := d.played
	d.mu.Unlock()

	if played != nil {
		played(len(chunk))
	}
	return nil
}

// Flush implements [audio.Device].
func (d *Device) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountFlush++
}

// Stop implements [audio.Device].
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStop++
	d.running = false
	return d.StopErr
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.running = false
	return nil
}

// Capture simulates the microphone delivering frame. It is a no-op when the
// device is not started.
func (d *Device) Capture(frame []byte) {
	d.mu.Lock()
	input, running := d.input, d.running
	d.mu.Unlock()
	if running && input != nil {
		input(frame)
	}
}

// Running reports whether Start has been called without a subsequent Stop.
func (d *Device) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// PlayedChunks returns a copy of every chunk played so far.
func (d *Device) PlayedChunks() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.Played...)
}

// ─── Platform ────────────────────────────────────────────────────────────────

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// Device is returned by [Platform.Open]. A fresh Device is created when nil.
	Device *Device

	// OpenErr is returned by [Platform.Open] when non-nil.
	OpenErr error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// OpenedFormats records the format passed to each Open call.
	OpenedFormats []audio.Format
}

// Open implements [audio.Platform].
func (p *Platform) Open(_ context.Context, format audio.Format) (audio.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountOpen++
	p.OpenedFormats = append(p.OpenedFormats, format)
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	if p.Device == nil {
		p.Device = &Device{FormatResult: format}
	}
	return p.Device, nil
}

var (
	_ audio.Device   = (*Device)(nil)
	_ audio.Platform = (*Platform)(nil)
)
