package pushconn

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
)

// Socket is a receive-only push connection.
type Socket interface {
	ReadText(ctx context.Context) (string, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Socket, error)
}

var ErrClosed = errors.New("socket closed")

type FakeSocket struct {
	mu     sync.Mutex
	readCh chan string
	closed bool
	closes int
}

func NewFakeSocket() *FakeSocket {
	return &FakeSocket{readCh: make(chan string, 32)}
}

// EmitText queues a frame for the reader. Frames emitted after Close are dropped.
func (f *FakeSocket) EmitText(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case f.readCh <- text:
		return true
	default:
		return false
	}
}

func (f *FakeSocket) ReadText(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case text, ok := <-f.readCh:
		if !ok {
			return "", io.EOF
		}
		return text, nil
	}
}

func (f *FakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.readCh)
	return nil
}

func (f *FakeSocket) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeDialer hands out FakeSockets and records every dial.
type FakeDialer struct {
	mu      sync.Mutex
	Err     error
	URLs    []string
	Headers []http.Header
	Sockets []*FakeSocket
}

func (d *FakeDialer) Dial(ctx context.Context, url string, header http.Header) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.URLs = append(d.URLs, url)
	d.Headers = append(d.Headers, header.Clone())
	if d.Err != nil {
		return nil, d.Err
	}
	sock := NewFakeSocket()
	d.Sockets = append(d.Sockets, sock)
	return sock, nil
}

// Open counts sockets that were dialed and not yet closed.
func (d *FakeDialer) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.Sockets {
		if !s.Closed() {
			n++
		}
	}
	return n
}

func (d *FakeDialer) Last() *FakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Sockets) == 0 {
		return nil
	}
	return d.Sockets[len(d.Sockets)-1]
}
