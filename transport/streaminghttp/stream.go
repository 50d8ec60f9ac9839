package streaminghttp

import (
	"context"
	"io"
	"sync"

	"github.com/ggoodman/mcp-hub-go/transport"
	sse "github.com/tmaxmax/go-sse"
)

var (
	_ transport.Transport  = (*serverStream)(nil)
	_ transport.Identified = (*serverStream)(nil)
)

// serverStream is the transport behind one GET stream. Outbound frames are
// written straight to the response; inbound frames arrive through POST.
type serverStream struct {
	id     string
	userID string

	// wmu serializes writes to sess, which is not safe for concurrent use,
	// and guards finished.
	wmu      sync.Mutex
	sess     *sse.Session
	finished bool

	in        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newServerStream(id, userID string, sess *sse.Session, queue int) *serverStream {
	return &serverStream{
		id:     id,
		userID: userID,
		sess:   sess,
		in:     make(chan []byte, queue),
		done:   make(chan struct{}),
	}
}

func (s *serverStream) SessionID() string { return s.id }
func (s *serverStream) UserID() string    { return s.userID }
func (s *serverStream) Name() string      { return "http" }

func (s *serverStream) write(typ, data string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.finished {
		return transport.ErrClosed
	}
	msg := sse.Message{Type: sse.Type(typ)}
	msg.AppendData(data)
	if err := s.sess.Send(&msg); err != nil {
		return &transport.Error{Op: "write", Err: err}
	}
	if err := s.sess.Flush(); err != nil {
		return &transport.Error{Op: "flush", Err: err}
	}
	return nil
}

// finish is called once the HTTP handler returns; the response writer must
// not be touched afterwards.
func (s *serverStream) finish() {
	s.wmu.Lock()
	s.finished = true
	s.wmu.Unlock()
	_ = s.Close()
}

// deliver queues a posted frame for Receive.
func (s *serverStream) deliver(ctx context.Context, frame []byte) error {
	select {
	case <-s.done:
		return transport.ErrClosed
	default:
	}
	select {
	case s.in <- frame:
		return nil
	case <-s.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *serverStream) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return transport.ErrClosed
	default:
	}
	return s.write(eventMessage, string(frame))
}

// Receive returns the next posted frame, or io.EOF once the stream is gone
// and the queue is drained.
func (s *serverStream) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-s.in:
		return frame, nil
	default:
	}
	select {
	case frame := <-s.in:
		return frame, nil
	case <-s.done:
		select {
		case frame := <-s.in:
			return frame, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *serverStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
