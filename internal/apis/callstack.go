package apis

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Frame is one entry of a captured call stack.
type Frame struct {
	Function string
	File     string
	Line     int
}

// FrameFilter reports whether a frame belongs to dispatch plumbing. Trace
// emission stops at the first frame the filter accepts, so the visible
// trace ends where user code does. The filter is supplied by whatever
// loads the bundle, since only the loader knows what its glue frames look
// like.
type FrameFilter func(Frame) bool

// dispatchFramePrefix marks this package's own frames, which sit directly
// beneath every bundle invocation.
const dispatchFramePrefix = "github.com/jakubmeysner/kobweb/internal/apis."

// DefaultFrameFilter hides the dispatcher's own frames.
func DefaultFrameFilter(f Frame) bool {
	return strings.HasPrefix(f.Function, dispatchFramePrefix)
}

// CallstackError pairs an error with the stack captured where it was
// raised. Bundle adapters produce these so a dev response can show the
// user their own frames without the machinery underneath.
type CallstackError struct {
	TypeName string
	Message  string
	Frames   []Frame
	cause    error
}

func (e *CallstackError) Error() string {
	if e.Message == "" {
		return e.TypeName
	}
	return e.TypeName + ": " + e.Message
}

func (e *CallstackError) Unwrap() error {
	return e.cause
}

// NewCallstackError builds a CallstackError capturing the caller's stack.
func NewCallstackError(typeName, message string, cause error) *CallstackError {
	return &CallstackError{
		TypeName: typeName,
		Message:  message,
		Frames:   CaptureFrames(1),
		cause:    cause,
	}
}

// CaptureFrames records the calling goroutine's stack. skip counts frames
// to drop above the caller; 0 starts at the caller itself.
func CaptureFrames(skip int) []Frame {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	out := make([]Frame, 0, n)
	for {
		fr, more := frames.Next()
		out = append(out, Frame{Function: fr.Function, File: fr.File, Line: fr.Line})
		if !more {
			break
		}
	}
	return out
}

// RecoveredError converts a recovered panic value into a CallstackError.
// It must be called from the deferred function that recovered, while the
// panicking frames are still on the stack.
func RecoveredError(v any) *CallstackError {
	if cs, ok := v.(*CallstackError); ok {
		return cs
	}

	frames := CaptureFrames(1)
	// Drop everything through the runtime's panic plumbing so the trace
	// starts at the panic site.
	for i, f := range frames {
		if f.Function == "runtime.gopanic" {
			frames = frames[i+1:]
			break
		}
	}

	cs := &CallstackError{
		TypeName: fmt.Sprintf("%T", v),
		Frames:   frames,
	}
	if err, ok := v.(error); ok {
		cs.Message = err.Error()
		cs.cause = errors.Unwrap(err)
	} else {
		cs.Message = fmt.Sprint(v)
	}
	return cs
}

// HasStopFrame reports whether any frame anywhere in err's cause chain
// satisfies stop. Dev responses only include a trace when the failure
// passed through known dispatch plumbing; anything else stays opaque.
func HasStopFrame(err error, stop FrameFilter) bool {
	if stop == nil {
		return false
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		cs, ok := e.(*CallstackError)
		if !ok {
			continue
		}
		for _, f := range cs.Frames {
			if stop(f) {
				return true
			}
		}
	}
	return false
}

// FormatTruncated renders err's cause chain for human eyes: each cause as
// "Type: message" followed by its frames, taken while stop rejects them
// and the frame does not repeat the previous cause's topmost frame. Causes
// after the first are prefixed with "caused by: ". A nil stop emits every
// frame.
func FormatTruncated(err error, stop FrameFilter) string {
	var b strings.Builder
	var prevTop *Frame

	first := true
	for e := err; e != nil; e = errors.Unwrap(e) {
		if !first {
			b.WriteString("caused by: ")
		}
		first = false

		cs, ok := e.(*CallstackError)
		if !ok {
			fmt.Fprintf(&b, "%T: %s\n", e, e.Error())
			prevTop = nil
			continue
		}

		b.WriteString(cs.Error())
		b.WriteByte('\n')

		for i := range cs.Frames {
			f := cs.Frames[i]
			if stop != nil && stop(f) {
				break
			}
			if prevTop != nil && f == *prevTop {
				break
			}
			fmt.Fprintf(&b, "\tat %s (%s:%d)\n", f.Function, f.File, f.Line)
		}

		if len(cs.Frames) > 0 {
			prevTop = &cs.Frames[0]
		} else {
			prevTop = nil
		}
	}

	return b.String()
}
