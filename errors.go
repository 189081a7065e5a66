package streamdec

import "errors"

// Session errors. Retryable conditions map to positive statuses, fatal ones to
// negative statuses (see StatusOf).
var (
	ErrNeedMoreData      = errors.New("need more data")
	ErrPoolExhausted     = errors.New("surface pool exhausted")
	ErrHeader            = errors.New("invalid stream header")
	ErrCodec             = errors.New("codec error")
	ErrSession           = errors.New("codec session unavailable")
	ErrInvalidHandle     = errors.New("invalid session handle")
	ErrBitstreamOverflow = errors.New("bitstream buffer limit exceeded")
	ErrNotInitialized    = errors.New("decoder not initialized")
	ErrBufferTooSmall    = errors.New("buffer too small")
	ErrNotSupported      = errors.New("operation not supported")
)

// Backend signals. Backends return these; the Decoder translates them.
var (
	// ErrMoreSurface means the work surface was taken and another is needed
	// before output can be produced.
	ErrMoreSurface = errors.New("more surfaces required")
	// ErrNotReady means a sync token has not completed yet.
	ErrNotReady = errors.New("operation not complete")
	// ErrParamsChanged means the bitstream carries a new sequence header with
	// different geometry. The backend leaves that header at the head of the
	// bitstream.
	ErrParamsChanged = errors.New("stream parameters changed")
)

// Status is the integer result of a decode call. Negative values are fatal
// for the session; zero and positive values are flow control.
type Status int

const (
	StatusOK       Status = 0 // Decode: submitted
	StatusNotReady Status = 0 // GetFrame/DrainFrame: no frame available yet
	StatusFrame    Status = 1 // GetFrame/DrainFrame: frame written to the buffer

	StatusNeedMoreData   Status = 2 // input buffered, more bytes needed
	StatusPoolExhausted  Status = 3 // input rejected, drain frames and retry
	StatusPending        Status = 4 // input buffered, submission waits for a free surface
	StatusBufferTooSmall Status = 5 // output buffer too small, frame stays queued

	StatusHeaderError    Status = -1
	StatusCodecError     Status = -2
	StatusSessionError   Status = -3
	StatusInvalidHandle  Status = -4
	StatusOverflow       Status = -5
	StatusNotInitialized Status = -6
)

// Fatal reports whether the status requires tearing down the session.
func (s Status) Fatal() bool { return s < 0 }

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFrame:
		return "frame"
	case StatusNeedMoreData:
		return "need-more-data"
	case StatusPoolExhausted:
		return "pool-exhausted"
	case StatusPending:
		return "pending"
	case StatusHeaderError:
		return "header-error"
	case StatusCodecError:
		return "codec-error"
	case StatusSessionError:
		return "session-error"
	case StatusInvalidHandle:
		return "invalid-handle"
	case StatusOverflow:
		return "bitstream-overflow"
	case StatusNotInitialized:
		return "not-initialized"
	case StatusBufferTooSmall:
		return "buffer-too-small"
	default:
		return "unknown"
	}
}

// StatusOf maps an error returned by this package to its status code.
// A nil error maps to StatusOK.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrNeedMoreData):
		return StatusNeedMoreData
	case errors.Is(err, ErrPoolExhausted):
		return StatusPoolExhausted
	case errors.Is(err, ErrHeader):
		return StatusHeaderError
	case errors.Is(err, ErrSession):
		return StatusSessionError
	case errors.Is(err, ErrInvalidHandle):
		return StatusInvalidHandle
	case errors.Is(err, ErrBitstreamOverflow):
		return StatusOverflow
	case errors.Is(err, ErrNotInitialized):
		return StatusNotInitialized
	case errors.Is(err, ErrBufferTooSmall):
		return StatusBufferTooSmall
	default:
		return StatusCodecError
	}
}
