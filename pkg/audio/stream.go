package audio

import "sync"

// Stream is a live microphone capture handed out by a host after access was
// granted. Frames arrive on [Stream.Frames] until the stream is stopped or the
// underlying device goes away, at which point the channel is closed.
type Stream interface {
	// Format reports the sample rate and channel count of every frame.
	Format() Format

	// Frames returns the capture channel. The channel is closed after Stop.
	Frames() <-chan AudioFrame

	// Stop ends every track of the capture. Calling Stop more than once is safe.
	Stop()
}

// ChanStream is a [Stream] backed by a buffered channel. Hosts that receive
// audio from somewhere else (a WebSocket, a device callback) push frames with
// [ChanStream.Push]; the consumer reads them through [ChanStream.Frames].
//
// Frames pushed while the buffer is full are dropped so a slow consumer never
// stalls the producer.
type ChanStream struct {
	format Format
	frames chan AudioFrame

	mu      sync.Mutex
	stopped bool
	onStop  []func()
	dropped int
}

var _ Stream = (*ChanStream)(nil)

// NewChanStream returns a stream with room for buffer pending frames.
// onStop callbacks run once, in order, the first time Stop is called; hosts
// use them to release the capture device.
func NewChanStream(format Format, buffer int, onStop ...func()) *ChanStream {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChanStream{
		format: format,
		frames: make(chan AudioFrame, buffer),
		onStop: onStop,
	}
}

// Format implements [Stream].
func (s *ChanStream) Format() Format { return s.format }

// Frames implements [Stream].
func (s *ChanStream) Frames() <-chan AudioFrame { return s.frames }

// Push enqueues f. It reports false when the stream is stopped or the frame
// was dropped because the buffer is full.
func (s *ChanStream) Push(f AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	select {
	case s.frames <- f:
		return true
	default:
		s.dropped++
		return false
	}
}

// Dropped returns the number of frames discarded because the buffer was full.
func (s *ChanStream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Stopped reports whether Stop has been called.
func (s *ChanStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop implements [Stream].
func (s *ChanStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.frames)
	hooks := s.onStop
	s.onStop = nil
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}
