package replication

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
)

// MaxFrameSize bounds a single encoded envelope.
const MaxFrameSize = 1 << 24

// ALPN is the protocol name negotiated on QUIC connections.
const ALPN = "ecs-replication"

// StreamSink writes each envelope as a 4-byte big-endian length followed by
// its JSON encoding.
type StreamSink struct {
	mu     sync.Mutex
	w      io.Writer
	closed bool
}

func NewStreamSink(w io.Writer) *StreamSink {
	return &StreamSink{w: w}
}

func (s *StreamSink) Replicate(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "failed to encode envelope")
	}
	if len(data) > MaxFrameSize {
		return errors.Wrapf(ErrFrameTooLarge, "%d bytes", len(data))
	}
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err = s.w.Write(frame); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

// Close closes the underlying writer when it is an io.Closer.
func (s *StreamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ReadFrame reads one envelope written by a StreamSink.
func ReadFrame(r io.Reader) (Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Envelope{}, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return Envelope{}, errors.Wrapf(ErrFrameTooLarge, "%d bytes", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return Envelope{}, errors.Wrap(err, "failed to read frame")
	}
	env, err := decodeEnvelope(data)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "failed to decode envelope")
	}
	return env, nil
}

// decodeEnvelope keeps payload numbers as json.Number so integers above
// 2^53 reach the codec intact.
func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	err := dec.Decode(&env)
	return env, err
}

// Receive reads frames until r is exhausted, handing each to fn.
func Receive(r io.Reader, fn func(Envelope) error) error {
	for {
		env, err := ReadFrame(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err = fn(env); err != nil {
			return err
		}
	}
}

// WebSocketSink sends envelopes as JSON text frames.
type WebSocketSink struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
	closed       bool
}

func NewWebSocketSink(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketSink {
	return &WebSocketSink{conn: conn, writeTimeout: writeTimeout}
}

// DialWebSocket connects to a websocket endpoint.
func DialWebSocket(ctx context.Context, url string, timeout time.Duration) (*WebSocketSink, error) {
	dialer := *websocket.DefaultDialer
	if timeout > 0 {
		dialer.HandshakeTimeout = timeout
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", url)
	}
	return NewWebSocketSink(conn, timeout), nil
}

func (s *WebSocketSink) Replicate(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := s.conn.WriteJSON(env); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}

// quicStream closes the connection together with its stream.
type quicStream struct {
	*quic.Stream
	conn *quic.Conn
}

func (q quicStream) Close() error {
	err := q.Stream.Close()
	if cerr := q.conn.CloseWithError(0, "sink closed"); err == nil {
		err = cerr
	}
	return err
}

// DialQUIC opens a QUIC connection and a single stream to addr and frames
// envelopes onto it. tlsConf may be nil for an unverified development link.
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config, idleTimeout time.Duration) (*StreamSink, error) {
	if tlsConf == nil {
		tlsConf = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	tlsConf = tlsConf.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{ALPN}
	}
	conf := &quic.Config{KeepAlivePeriod: 15 * time.Second}
	if idleTimeout > 0 {
		conf.MaxIdleTimeout = idleTimeout
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, conf)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", addr)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "stream failed")
		return nil, errors.Wrap(err, "failed to open stream")
	}
	return NewStreamSink(quicStream{Stream: stream, conn: conn}), nil
}
