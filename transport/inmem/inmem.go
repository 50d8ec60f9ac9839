// Package inmem provides connected in-process transports. Frames sent on
// one end are received on the other in order; no encoding is involved
// beyond the frame bytes themselves.
package inmem

import (
	"context"
	"io"
	"sync"

	"github.com/ggoodman/mcp-hub-go/transport"
)

const defaultBuffer = 64

// Pipe is one end of an in-process duplex channel.
type Pipe struct {
	in   <-chan []byte
	out  chan<- []byte
	peer *Pipe

	// done is closed when either end closes; both ends share it.
	done      chan struct{}
	closeOnce *sync.Once
	userID    string
}

var _ transport.Transport = (*Pipe)(nil)

// NewPipe returns two connected transports.
func NewPipe() (*Pipe, *Pipe) {
	return NewPipeSize(defaultBuffer)
}

// NewPipeSize is NewPipe with an explicit per-direction buffer. A buffer of
// zero makes every Send rendezvous with a Receive on the other end.
func NewPipeSize(n int) (*Pipe, *Pipe) {
	ab := make(chan []byte, n)
	ba := make(chan []byte, n)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &Pipe{in: ba, out: ab, done: done, closeOnce: once}
	b := &Pipe{in: ab, out: ba, done: done, closeOnce: once}
	a.peer, b.peer = b, a
	return a, b
}

// WithUserID attaches a principal that the peer end reports via UserID.
func (p *Pipe) WithUserID(id string) *Pipe {
	p.peer.userID = id
	return p
}

// UserID returns the principal attached by the opposite end.
func (p *Pipe) UserID() string { return p.userID }

// Send delivers a copy of frame to the other end.
func (p *Pipe) Send(ctx context.Context, frame []byte) error {
	select {
	case <-p.done:
		return transport.ErrClosed
	default:
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case p.out <- cp:
		return nil
	case <-p.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next frame. Frames already buffered when the pipe is
// closed are still delivered before io.EOF.
func (p *Pipe) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	default:
	}
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.done:
		select {
		case frame := <-p.in:
			return frame, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both ends of the pipe.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
