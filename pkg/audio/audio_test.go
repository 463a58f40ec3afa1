package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/lastecho/pkg/audio"
)

func TestMonoFloat_StereoAveraged(t *testing.T) {
	pcm := audio.EncodeInt16([]int16{16384, -16384, 32767, 32767})
	got := audio.MonoFloat(pcm, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0] != 0 {
		t.Errorf("frame 0 = %v, want 0", got[0])
	}
	if math.Abs(got[1]-32767.0/32768.0) > 1e-9 {
		t.Errorf("frame 1 = %v, want ~1", got[1])
	}
}

func TestMonoFloat_OddByteIgnored(t *testing.T) {
	pcm := append(audio.EncodeInt16([]int16{-32768}), 0x7f)
	got := audio.MonoFloat(pcm, 1)
	if len(got) != 1 || got[0] != -1 {
		t.Errorf("got %v, want [-1]", got)
	}
}

func TestEncodeDecodeInt16(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768}
	out := audio.DecodeInt16(audio.EncodeInt16(in))
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, out[i], in[i])
		}
	}
}

func TestAudioFrame_Duration(t *testing.T) {
	f := audio.AudioFrame{Data: make([]byte, 960*2*2), SampleRate: 48000, Channels: 2}
	if got := f.Samples(); got != 960 {
		t.Errorf("Samples() = %d, want 960", got)
	}
	if got := f.Duration(); got != 20*time.Millisecond {
		t.Errorf("Duration() = %v, want 20ms", got)
	}
}

func TestFormat_Validate(t *testing.T) {
	tests := []struct {
		name    string
		format  audio.Format
		wantErr bool
	}{
		{"48k mono", audio.Format{SampleRate: 48000, Channels: 1}, false},
		{"44.1k stereo", audio.Format{SampleRate: 44100, Channels: 2}, false},
		{"too slow", audio.Format{SampleRate: 4000, Channels: 1}, true},
		{"surround", audio.Format{SampleRate: 48000, Channels: 6}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChanStream_StopIdempotent(t *testing.T) {
	t.Parallel()

	released := 0
	s := audio.NewChanStream(audio.Format{SampleRate: 48000, Channels: 1}, 2, func() { released++ })

	if !s.Push(audio.AudioFrame{Data: []byte{0, 0}}) {
		t.Fatal("Push on live stream returned false")
	}
	s.Stop()
	s.Stop()

	if released != 1 {
		t.Errorf("onStop ran %d times, want 1", released)
	}
	if s.Push(audio.AudioFrame{}) {
		t.Error("Push after Stop returned true")
	}

	// Buffered frame is still readable, then the channel is closed.
	if _, ok := <-s.Frames(); !ok {
		t.Error("buffered frame lost on Stop")
	}
	if _, ok := <-s.Frames(); ok {
		t.Error("Frames() not closed after Stop")
	}
}

func TestChanStream_DropsWhenFull(t *testing.T) {
	t.Parallel()

	s := audio.NewChanStream(audio.Format{SampleRate: 48000, Channels: 1}, 1)
	s.Push(audio.AudioFrame{})
	if s.Push(audio.AudioFrame{}) {
		t.Error("Push into full buffer returned true")
	}
	if got := s.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}
