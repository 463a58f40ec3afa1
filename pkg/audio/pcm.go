package audio

// MonoFloat decodes interleaved int16 PCM into mono float samples in [-1, 1].
// Stereo input is averaged per frame. A trailing odd byte is ignored.
func MonoFloat(pcm []byte, channels int) []float64 {
	if channels <= 0 {
		channels = 1
	}
	stride := 2 * channels
	frames := len(pcm) / stride
	out := make([]float64, frames)
	for i := range frames {
		var sum int32
		for c := range channels {
			off := i*stride + c*2
			sum += int32(int16(pcm[off]) | int16(pcm[off+1])<<8)
		}
		out[i] = float64(sum) / float64(channels) / 32768.0
	}
	return out
}

// EncodeInt16 converts int16 samples to little-endian bytes.
func EncodeInt16(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// DecodeInt16 converts little-endian bytes to int16 samples.
func DecodeInt16(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
