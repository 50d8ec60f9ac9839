package streaminghttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/ggoodman/mcp-hub-go/transport"
	sse "github.com/tmaxmax/go-sse"
)

var _ transport.Transport = (*ClientTransport)(nil)

// ClientTransport is the client end of a stream opened with Dial.
type ClientTransport struct {
	http     *http.Client
	token    string
	log      *slog.Logger
	maxEvent int

	base    *url.URL
	postURL string
	cancel  context.CancelFunc

	in        chan []byte
	done      chan struct{}
	closeOnce sync.Once
	readErr   error
}

// Dial opens a stream at endpoint and waits for the server to announce where
// messages should be posted. The stream outlives ctx, which only bounds the
// dial itself; call Close to end it.
func Dial(ctx context.Context, endpoint string, opts ...DialOption) (*ClientTransport, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL %q: %w", endpoint, err)
	}
	t := &ClientTransport{
		http:     http.DefaultClient,
		log:      slog.New(slog.DiscardHandler),
		maxEvent: defaultMaxFrameSize,
		base:     base,
		in:       make(chan []byte, defaultQueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", eventStreamMediaType.String())
	t.authorize(req)

	type result struct {
		resp *http.Response
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := t.http.Do(req)
		got <- result{resp, err}
	}()

	var resp *http.Response
	select {
	case r := <-got:
		if r.err != nil {
			cancel()
			return nil, &transport.Error{Op: "dial", Err: r.err}
		}
		resp = r.resp
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, &transport.Error{Op: "dial", Err: statusError(resp)}
	}

	ready := make(chan error, 1)
	go t.readLoop(resp.Body, ready)

	select {
	case err := <-ready:
		if err != nil {
			t.Close()
			return nil, err
		}
		return t, nil
	case <-ctx.Done():
		t.Close()
		return nil, ctx.Err()
	}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if ch := resp.Header.Get(wwwAuthenticateHeader); ch != "" {
		return fmt.Errorf("unexpected status %d (%s): %s", resp.StatusCode, ch, bytes.TrimSpace(body))
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}

func (t *ClientTransport) authorize(req *http.Request) {
	if t.token != "" {
		req.Header.Set(authorizationHeader, "Bearer "+t.token)
	}
}

func (t *ClientTransport) readLoop(body io.ReadCloser, ready chan<- error) {
	defer close(t.in)
	defer body.Close()

	announced := false
	for ev, err := range sse.Read(body, &sse.ReadConfig{MaxEventSize: t.maxEvent}) {
		if err != nil {
			select {
			case <-t.done:
			default:
				t.readErr = &transport.Error{Op: "read", Err: err}
				t.log.Debug("streaminghttp.read.fail", slog.String("err", err.Error()))
			}
			break
		}
		switch ev.Type {
		case eventEndpoint:
			if announced {
				continue
			}
			u, err := t.base.Parse(ev.Data)
			if err != nil || ev.Data == "" {
				ready <- &transport.Error{Op: "dial", Err: fmt.Errorf("invalid endpoint event %q", ev.Data)}
				return
			}
			t.postURL = u.String()
			announced = true
			ready <- nil
		case eventMessage:
			if !announced {
				t.log.Warn("streaminghttp.message.early")
				continue
			}
			select {
			case t.in <- []byte(ev.Data):
			case <-t.done:
				return
			}
		default:
			t.log.Debug("streaminghttp.event.unknown", slog.String("type", ev.Type))
		}
	}
	if !announced {
		ready <- &transport.Error{Op: "dial", Err: errors.New("stream ended before endpoint event")}
	}
}

// Send posts one frame to the announced endpoint.
func (t *ClientTransport) Send(ctx context.Context, frame []byte) error {
	select {
	case <-t.done:
		return transport.ErrClosed
	default:
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.postURL, bytes.NewReader(frame))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", jsonMediaType.String())
	t.authorize(req)
	resp, err := t.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &transport.Error{Op: "send", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &transport.Error{Op: "send", Err: statusError(resp)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Receive returns the next message event, or io.EOF once the stream ends.
func (t *ClientTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-t.in:
		if !ok {
			if t.readErr != nil {
				return nil, t.readErr
			}
			return nil, io.EOF
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends the stream.
func (t *ClientTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.cancel()
	})
	return nil
}
