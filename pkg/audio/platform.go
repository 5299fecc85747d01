// Package audio defines the local audio abstractions used by the tutor and the
// half-duplex gate that keeps the agent from hearing itself.
//
// The three abstractions are:
//
//   - [Platform] opens the local sound hardware and returns a [Device].
//   - [Device] is one microphone plus one speaker sharing a [Format].
//   - [Interface] is the audio hook set a conversational transport drives:
//     it starts capture, pushes synthesised speech out and interrupts playback.
//
// [HalfDuplex] adapts a Device into an Interface and routes every frame through
// a [Gate]. Concrete platforms live in sub-packages (audio/local for the real
// sound card, audio/mock for tests).
//
// This package lives under pkg/ because transports and platforms are expected
// to be swappable without touching the session orchestration code.
package audio

import "context"

// Device is an opened local audio endpoint. Implementations must be safe for
// concurrent use: capture callbacks and playback run on device-owned goroutines.
type Device interface {
	// Format returns the PCM format used for both capture and playback.
	Format() Format

	// Start begins capture and playback. input is invoked once per captured
	// microphone frame. played is invoked with the number of bytes each time
	// queued audio is actually handed to the speaker. Neither callback may
	// block for long; both run on the device's own goroutines.
	Start(input func(frame []byte), played func(n int)) error

	// Play queues chunk for playback and returns without waiting for the
	// speaker. Returns an error if the device is stopped or closed.
	Play(chunk []byte) error

	// Flush discards all queued but not yet played audio.
	Flush()

	// Stop halts capture and playback. Start may be called again afterwards.
	// Calling Stop on a stopped device is a no-op.
	Stop() error

	// Close releases the hardware. Calling Close more than once is safe.
	Close() error
}

// Platform opens local audio hardware.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Open initialises the capture and playback devices in the given format.
	// Returns an error when no usable microphone or speaker is present or the
	// audio backend cannot be initialised.
	Open(ctx context.Context, format Format) (Device, error)
}

// Interface is the audio hook set a conversational transport drives during a
// session. The transport calls Start once it is connected, Output for every
// chunk of synthesised agent speech, Interrupt when the agent is cut off, and
// Stop when the session ends.
type Interface interface {
	// Start begins delivering microphone frames to input.
	Start(input func(frame []byte)) error

	// Output plays one chunk of agent audio. It never blocks on the speaker.
	Output(chunk []byte)

	// Interrupt discards any agent audio that has not been played yet.
	Interrupt()

	// Stop ends capture and playback.
	Stop()
}
