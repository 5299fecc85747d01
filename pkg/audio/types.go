package audio

import (
	"fmt"
	"time"
)

// Format describes a raw little-endian PCM stream.
type Format struct {
	// SampleRate in Hz (e.g., 16000 for the agent service default).
	SampleRate int

	// Channels: 1 for mono. The tutor only ever uses mono.
	Channels int

	// SampleWidth is the size of a single sample in bytes (2 for 16-bit PCM).
	SampleWidth int
}

// DefaultFormat is 16 kHz mono 16-bit PCM, the format the conversational
// agent service speaks when no other format is negotiated.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1, SampleWidth: 2}

// FrameWidth returns the number of bytes per sample frame across all channels.
func (f Format) FrameWidth() int {
	ch := f.Channels
	if ch < 1 {
		ch = 1
	}
	return f.SampleWidth * ch
}

// Duration returns the playback length of n bytes in this format. Invalid
// formats yield zero.
func (f Format) Duration(n int) time.Duration {
	return ChunkDuration(n, f.SampleRate, f.FrameWidth())
}

// String returns a compact description such as "16000Hz mono s16".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s s%d", f.SampleRate, ch, f.SampleWidth*8)
}

// ChunkDuration computes byteLen / (sampleWidth * sampleRate) as a duration.
// Non-positive rates or widths yield zero.
func ChunkDuration(byteLen, sampleRate, sampleWidth int) time.Duration {
	if byteLen <= 0 || sampleRate <= 0 || sampleWidth <= 0 {
		return 0
	}
	return time.Duration(int64(byteLen) * int64(time.Second) / int64(sampleWidth*sampleRate))
}
