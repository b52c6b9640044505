package camera

import (
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxFrameSize rejects length prefixes that cannot be a real JPEG; a corrupt
// prefix would otherwise make the reader allocate gigabytes.
const MaxFrameSize = 32 << 20

// VideoStream reads length-prefixed JPEG frames off the camera's TLS socket.
// Wire format after the handshake: {u32 big-endian length}{length JPEG
// bytes}, repeated until the connection closes.
type VideoStream struct {
	conn net.Conn
	lens [4]byte
}

// DialVideo opens the TLS connection to the camera video port. The camera's
// certificate is self-signed and addressed by IP, so chain verification is
// skipped; the socket only ever carries frames out of the vehicle's own
// camera on the local link.
func DialVideo(addr string, timeout time.Duration) (*VideoStream, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(d, "tcp", addr, &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
	})
	if err != nil {
		return nil, fmt.Errorf("dial camera video %s: %w", addr, err)
	}
	return &VideoStream{conn: conn}, nil
}

// NewVideoStream wraps an existing connection; tests feed it a pipe.
func NewVideoStream(conn net.Conn) *VideoStream {
	return &VideoStream{conn: conn}
}

// ReadFrame blocks for the next frame. io.EOF (or any read error) ends the
// session; the supervisor redials.
func (s *VideoStream) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(s.conn, s.lens[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(s.lens[:])
	if n == 0 || n > MaxFrameSize {
		return nil, fmt.Errorf("bad frame length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *VideoStream) Close() error { return s.conn.Close() }
