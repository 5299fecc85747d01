package audio

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

// ParseFormat parses an agent service format name such as "pcm_16000" or
// "pcm_44100" into a mono 16-bit [Format]. Non-PCM encodings (ulaw_8000 etc.)
// are rejected because the local device only plays linear PCM.
func ParseFormat(name string) (Format, error) {
	enc, rate, ok := strings.Cut(name, "_")
	if !ok || enc != "pcm" {
		return Format{}, fmt.Errorf("audio: unsupported format %q", name)
	}
	hz, err := strconv.Atoi(rate)
	if err != nil || hz <= 0 {
		return Format{}, fmt.Errorf("audio: invalid sample rate in format %q", name)
	}
	return Format{SampleRate: hz, Channels: 1, SampleWidth: 2}, nil
}

// Converter resamples mono 16-bit PCM chunks from one sample rate to the
// device rate. Create one per session; a Converter is safe for concurrent use
// only in the sense that its warning is logged once.
type Converter struct {
	From Format
	To   Format

	warned sync.Once
}

// Convert returns chunk in the target rate. When the rates already match the
// input slice is returned unchanged. A trailing odd byte is dropped.
func (c *Converter) Convert(chunk []byte) []byte {
	if len(chunk)%2 != 0 {
		chunk = chunk[:len(chunk)-1]
	}
	if c.From.SampleRate == c.To.SampleRate {
		return chunk
	}
	c.warned.Do(func() {
		slog.Debug("audio: resampling agent output", "from", c.From, "to", c.To)
	})
	return ResampleMono16(chunk, c.From.SampleRate, c.To.SampleRate)
}

// ResampleMono16 resamples little-endian 16-bit mono PCM from srcRate to
// dstRate using linear interpolation. Invalid or equal rates return the input.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	m := int(int64(n) * int64(dstRate) / int64(srcRate))
	if m == 0 {
		return nil
	}

	sample := func(i int) float64 {
		return float64(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}

	out := make([]byte, m*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range m {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx
		if idx+1 < n {
			next = idx + 1
		}
		v := int16(sample(idx)*(1-frac) + sample(next)*frac)
		out[2*i] = byte(v)
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}
