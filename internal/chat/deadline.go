package chat

import (
	"io"
	"time"
)

const errLoggerKey = "err"

type timer struct {
	t *time.Timer
}

// deadline calls onExpire after d, unless stopped first. A non-positive d never expires.
func (s *Session) deadline(d time.Duration, onExpire func()) timer {
	if d <= 0 {
		return timer{}
	}
	return timer{t: time.AfterFunc(d, onExpire)}
}

func (t timer) stop() {
	if t.t != nil {
		t.t.Stop()
	}
}

// idleReader calls onIdle when a single read of the underlying reader blocks for timeout. The clock only
// runs while Read waits on r, so time spent by the caller between reads never counts.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
}

func newIdleReader(r io.Reader, timeout time.Duration, onIdle func()) *idleReader {
	t := time.AfterFunc(timeout, onIdle)
	t.Stop()
	return &idleReader{
		r:       r,
		timeout: timeout,
		timer:   t,
	}
}

func (ir *idleReader) Read(p []byte) (int, error) {
	ir.timer.Reset(ir.timeout)
	n, err := ir.r.Read(p)
	ir.timer.Stop()
	return n, err
}

func (ir *idleReader) stop() {
	ir.timer.Stop()
}
