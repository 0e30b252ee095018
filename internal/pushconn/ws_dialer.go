package pushconn

import (
	"context"
	"io"
	"net/http"

	"github.com/coder/websocket"
)

// maxFrameBytes bounds a single log frame; the server sends whole-file
// backlogs as one frame on connect.
const maxFrameBytes = 16 << 20

type RealDialer struct {
	HTTPClient *http.Client
}

func (d RealDialer) Dial(ctx context.Context, url string, header http.Header) (Socket, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxFrameBytes)
	return &realSocket{conn: conn}, nil
}

type realSocket struct {
	conn *websocket.Conn
}

// ReadText maps a normal close from the server to io.EOF.
func (s *realSocket) ReadText(ctx context.Context) (string, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return "", io.EOF
		}
		return "", err
	}
	return string(data), nil
}

func (s *realSocket) Close() error {
	return s.conn.CloseNow()
}
