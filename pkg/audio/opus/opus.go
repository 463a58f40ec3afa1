// Package opus decodes Opus packets sent by browser clients that record with
// MediaRecorder/WebCodecs instead of relaying raw PCM.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/lastecho/pkg/audio"
)

// maxFrameSize is the largest Opus frame (120 ms) in samples per channel at
// 48 kHz. libopus writes only as many samples as the packet carries.
const maxFrameSize = 5760

// Decoder turns a sequence of Opus packets from one client into PCM frames.
// A Decoder keeps inter-packet state and must not be shared between streams.
type Decoder struct {
	dec    *gopus.Decoder
	format audio.Format
}

// NewDecoder creates a decoder producing PCM in the given format. Opus only
// supports 8, 12, 16, 24 and 48 kHz output.
func NewDecoder(format audio.Format) (*Decoder, error) {
	switch format.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("opus: unsupported sample rate %d", format.SampleRate)
	}
	if format.Channels != 1 && format.Channels != 2 {
		return nil, fmt.Errorf("opus: unsupported channel count %d", format.Channels)
	}
	dec, err := gopus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, format: format}, nil
}

// Format returns the PCM format produced by Decode.
func (d *Decoder) Format() audio.Format { return d.format }

// Decode decodes one packet into little-endian int16 PCM.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	frameSize := maxFrameSize * d.format.SampleRate / 48000
	pcm, err := d.dec.Decode(packet, frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return audio.EncodeInt16(pcm), nil
}
