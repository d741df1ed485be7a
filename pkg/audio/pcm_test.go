package audio

import (
	"testing"
	"time"
)

func TestInt16RoundTrip(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	got := BytesToInt16(Int16ToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("len = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestBytesToInt16DropsTrailingOddByte(t *testing.T) {
	t.Parallel()

	if got := BytesToInt16([]byte{0x01, 0x02, 0x03}); len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}

func TestFloat32Clamping(t *testing.T) {
	t.Parallel()

	pcm := Float32ToBytes([]float32{2.0, -2.0, 0})
	samples := BytesToInt16(pcm)
	if samples[0] != 32767 {
		t.Errorf("over-range sample = %d, want 32767", samples[0])
	}
	if samples[1] != -32768 {
		t.Errorf("under-range sample = %d, want -32768", samples[1])
	}
	if samples[2] != 0 {
		t.Errorf("zero sample = %d", samples[2])
	}
}

func TestBytesToFloat32Range(t *testing.T) {
	t.Parallel()

	fs := BytesToFloat32(Int16ToBytes([]int16{32767, -32768, 0}))
	if fs[0] <= 0.99 || fs[0] > 1 {
		t.Errorf("max sample = %f", fs[0])
	}
	if fs[1] != -1 {
		t.Errorf("min sample = %f, want -1", fs[1])
	}
	if fs[2] != 0 {
		t.Errorf("zero sample = %f", fs[2])
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	// 16000 samples of mono 16-bit at 16 kHz is one second.
	if d := Duration(make([]byte, 32000), 16000); d != time.Second {
		t.Errorf("Duration = %s, want 1s", d)
	}
	if d := Duration(make([]byte, 320), 16000); d != 10*time.Millisecond {
		t.Errorf("Duration = %s, want 10ms", d)
	}
	if d := Duration(make([]byte, 320), 0); d != 0 {
		t.Errorf("Duration with zero rate = %s, want 0", d)
	}
}

func TestChunkBytes(t *testing.T) {
	t.Parallel()

	if n := ChunkBytes(16000, 100); n != 3200 {
		t.Errorf("ChunkBytes(16000, 100) = %d, want 3200", n)
	}
	if n := ChunkBytes(16000, 10); n != 320 {
		t.Errorf("ChunkBytes(16000, 10) = %d, want 320", n)
	}
}

func TestResampleMono16Halves(t *testing.T) {
	t.Parallel()

	src := make([]int16, 100)
	for i := range src {
		src[i] = int16(i * 100)
	}
	out := ResampleMono16(Int16ToBytes(src), 32000, 16000)
	if got := len(out) / 2; got != 50 {
		t.Fatalf("resampled to %d samples, want 50", got)
	}

	// Downsampling by two keeps every other sample exactly.
	samples := BytesToInt16(out)
	if samples[0] != 0 || samples[1] != 200 || samples[10] != 2000 {
		t.Errorf("samples = %d %d %d", samples[0], samples[1], samples[10])
	}
}

func TestResampleMono16Identity(t *testing.T) {
	t.Parallel()

	pcm := Int16ToBytes([]int16{1, 2, 3})
	if got := ResampleMono16(pcm, 16000, 16000); &got[0] != &pcm[0] {
		t.Error("same-rate resample must return the input unchanged")
	}
}
