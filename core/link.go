package core

import (
	"io"
	"sync"
	"time"

	"ranger/protocol"
)

// LinkInputSize is the receive FIFO capacity
const LinkInputSize = 256

// Link connects a byte-stream port to the global command registry. Targets
// Feed it from their reader and call Poll from the main loop; Serve does
// both for ports that implement io.Reader.
type Link struct {
	mu  sync.Mutex
	in  *protocol.FifoBuffer
	out *protocol.ScratchOutput
	tr  *protocol.Transport
	w   io.Writer

	received      uint32
	overruns      uint32
	writeFailures uint32
	writeErr      error
}

// NewLink creates a link writing responses to w and installs its
// transport as the global response transport
func NewLink(w io.Writer) *Link {
	l := &Link{
		in:  protocol.NewFifoBuffer(LinkInputSize),
		out: protocol.NewScratchOutput(),
		w:   w,
	}

	l.tr = protocol.NewTransport(l.out, func(cmdID uint16, data *[]byte) error {
		return DispatchCommand(cmdID, data)
	})
	l.tr.SetResetCallback(func() {
		DebugPrintln("[link] host restarted sequence")
	})
	// ACKs go out right after each block so the host never waits on a
	// batch of responses
	l.tr.SetFlushCallback(l.flushLocked)

	SetGlobalTransport(l.tr)
	return l
}

// Feed queues received bytes and returns how many fit
func (l *Link) Feed(data []byte) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.in.Write(data)
	if n < len(data) {
		l.overruns++
	}
	return n
}

// Poll parses queued bytes, runs the commands they carry and writes any
// pending output. It returns the last write error, if any.
func (l *Link) Poll() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.in.Available() > 0 {
		l.tr.Receive(l.in)
		l.received++
	}
	l.flushLocked()

	err := l.writeErr
	l.writeErr = nil
	return err
}

// flushLocked writes pending output. Caller holds l.mu.
func (l *Link) flushLocked() {
	result := l.out.Result()
	if len(result) == 0 {
		return
	}

	written := 0
	for written < len(result) {
		n, err := l.w.Write(result[written:])
		if err != nil || n == 0 {
			// Likely a disconnect; stale output is not worth keeping
			l.writeFailures++
			l.writeErr = err
			if err == nil {
				l.writeErr = io.ErrShortWrite
			}
			break
		}
		written += n
	}
	l.out.Reset()
}

// Reset drops buffered data and restarts the sequence (USB reconnect)
func (l *Link) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.in.Reset()
	l.out.Reset()
	l.tr.Reset()
	l.received, l.overruns, l.writeFailures = 0, 0, 0
}

// LinkStats are the link debug counters
type LinkStats struct {
	Received      uint32 // Poll calls that had input
	Overruns      uint32 // Feed calls that dropped bytes
	WriteFailures uint32
}

// Stats returns the debug counters
func (l *Link) Stats() LinkStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LinkStats{
		Received:      l.received,
		Overruns:      l.overruns,
		WriteFailures: l.writeFailures,
	}
}

// Serve reads r until it fails, polling after every read. A read that
// returns no data and no error backs off briefly. Serve returns the read
// error, io.EOF when the peer hung up, or the first failed write.
func (l *Link) Serve(r io.Reader) error {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for data := buf[:n]; len(data) > 0; {
			m := l.Feed(data)
			data = data[m:]
			if err := l.Poll(); err != nil {
				DebugPrintln("[link] write failed: " + err.Error())
				return err
			}
			if m == 0 && len(data) > 0 {
				// FIFO full of unparseable bytes
				l.mu.Lock()
				l.in.Reset()
				l.mu.Unlock()
			}
		}
		if err != nil {
			return err
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}
