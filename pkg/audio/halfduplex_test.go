package audio_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/chinesetutor/pkg/audio"
	"github.com/MrWong99/chinesetutor/pkg/audio/mock"
)

func TestHalfDuplex_ForwardsWhenIdle(t *testing.T) {
	t.Parallel()
	dev := &mock.Device{}
	h := audio.NewHalfDuplex(dev, nil)

	var got [][]byte
	if err := h.Start(func(f []byte) { got = append(got, f) }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dev.Capture([]byte{1, 2})
	dev.Capture([]byte{3, 4})

	if len(got) != 2 {
		t.Fatalf("forwarded %d frames, want 2", len(got))
	}
	if passed, dropped := h.Stats(); passed != 2 || dropped != 0 {
		t.Errorf("Stats = (%d, %d), want (2, 0)", passed, dropped)
	}
}

func TestHalfDuplex_DropsDuringPlayback(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	dev := &mock.Device{}
	var drops atomic.Int64
	h := audio.NewHalfDuplex(dev, audio.NewGate(audio.WithClock(clk.Now)),
		audio.WithDropHook(func() { drops.Add(1) }))

	var forwarded int
	if err := h.Start(func([]byte) { forwarded++ }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.Output(make([]byte, 32000)) // 1s of 16k s16 mono
	dev.Capture([]byte{0, 0})
	clk.Advance(time.Second)
	dev.Capture([]byte{0, 0}) // still inside the padding
	clk.Advance(audio.MutePadding)
	dev.Capture([]byte{0, 0})

	if forwarded != 1 {
		t.Errorf("forwarded %d frames, want 1", forwarded)
	}
	if drops.Load() != 2 {
		t.Errorf("drop hook fired %d times, want 2", drops.Load())
	}
	if len(dev.PlayedChunks()) != 1 {
		t.Errorf("played %d chunks, want 1", len(dev.PlayedChunks()))
	}
}

func TestHalfDuplex_StartResetsGate(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	dev := &mock.Device{}
	gate := audio.NewGate(audio.WithClock(clk.Now))
	gate.OnPlayback(32000, 16000, 2)
	h := audio.NewHalfDuplex(dev, gate)

	if err := h.Start(func([]byte) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !gate.Allow() {
		t.Error("Start should clear a stale mute deadline")
	}
}

func TestHalfDuplex_StartError(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("no microphone")
	dev := &mock.Device{StartErr: wantErr}
	h := audio.NewHalfDuplex(dev, nil)

	if err := h.Start(func([]byte) {}); !errors.Is(err, wantErr) {
		t.Fatalf("Start error = %v, want %v", err, wantErr)
	}
	h.Stop()
	if dev.CallCountStop != 0 {
		t.Errorf("Stop on a never-started HalfDuplex called device.Stop %d times", dev.CallCountStop)
	}
}

func TestHalfDuplex_InterruptAndStop(t *testing.T) {
	t.Parallel()
	dev := &mock.Device{}
	h := audio.NewHalfDuplex(dev, nil)
	if err := h.Start(func([]byte) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.Interrupt()
	h.Stop()
	h.Stop()

	if dev.CallCountFlush != 2 {
		t.Errorf("Flush called %d times, want 2 (interrupt + stop)", dev.CallCountFlush)
	}
	if dev.CallCountStop != 1 {
		t.Errorf("device Stop called %d times, want 1", dev.CallCountStop)
	}
	if dev.Running() {
		t.Error("device still running after Stop")
	}
}

func TestHalfDuplex_OutputAfterStopIsDropped(t *testing.T) {
	t.Parallel()
	dev := &mock.Device{}
	h := audio.NewHalfDuplex(dev, nil)
	if err := h.Start(func([]byte) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.Stop()

	h.Output([]byte{1, 2, 3, 4})

	if n := len(dev.PlayedChunks()); n != 0 {
		t.Errorf("played %d chunks after Stop, want 0", n)
	}
}
