package stdio

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/mcp-hub-go/transport"
)

const defaultMaxFrameSize = 4 << 20

var _ transport.Transport = (*Transport)(nil)
var _ transport.Identified = (*Transport)(nil)

// Transport reads newline-delimited frames from an io.Reader and writes them
// to an io.Writer. By default it uses os.Stdin and os.Stdout.
type Transport struct {
	r            io.Reader
	w            io.Writer
	l            *slog.Logger
	userProvider UserProvider
	maxFrame     int

	// closer is invoked on Close, if set. Used by the command transport to
	// release the child's stdin.
	closer func() error

	wmu    sync.Mutex
	frames chan []byte
	done   chan struct{}

	readErr   error
	closed    atomic.Bool
	closeOnce sync.Once

	userOnce sync.Once
	userID   string
}

// New constructs a stdio Transport and starts reading immediately.
func New(opts ...Option) *Transport {
	t := &Transport{
		r:            os.Stdin,
		w:            os.Stdout,
		l:            slog.New(slog.DiscardHandler),
		userProvider: OSUserProvider{},
		maxFrame:     defaultMaxFrameSize,
		frames:       make(chan []byte, 16),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	go t.readLoop()

	return t
}

func (t *Transport) readLoop() {
	defer close(t.frames)

	sc := bufio.NewScanner(t.r)
	sc.Buffer(make([]byte, 0, min(64*1024, t.maxFrame)), t.maxFrame)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)

		select {
		case t.frames <- frame:
		case <-t.done:
			return
		}
	}
	if err := sc.Err(); err != nil {
		t.l.Debug("stdio.read.fail", slog.String("err", err.Error()))
		t.readErr = &transport.Error{Op: "read", Err: err}
	}
}

// Receive returns the next frame. It returns io.EOF once the input stream
// ends or the transport is closed.
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-t.frames:
		if !ok {
			if t.readErr != nil {
				return nil, t.readErr
			}
			return nil, io.EOF
		}
		return frame, nil
	case <-t.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send writes one frame followed by a newline.
func (t *Transport) Send(ctx context.Context, frame []byte) error {
	if t.closed.Load() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if bytes.IndexByte(frame, '\n') >= 0 {
		frame = bytes.ReplaceAll(frame, []byte{'\n'}, nil)
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')
	if _, err := t.w.Write(buf); err != nil {
		return &transport.Error{Op: "write", Err: err}
	}
	return nil
}

// Close stops the transport. Pending and future Receive calls return io.EOF.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)
		if t.closer != nil {
			err = t.closer()
		}
	})
	return err
}

// UserID returns the local principal resolved through the UserProvider.
func (t *Transport) UserID() string {
	t.userOnce.Do(func() {
		id, err := t.userProvider.CurrentUserID()
		if err != nil {
			t.l.Debug("stdio.user.fail", slog.String("err", err.Error()))
			return
		}
		t.userID = id
	})
	return t.userID
}
