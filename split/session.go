package split

import (
	"fmt"
	"io"
	"net"
	"sync"

	"hegraph/utils"
)

// Session is one long-lived framed connection. A reader goroutine drains
// inbound messages into a queue; Recv hands them out in arrival order
// under a mutex and condition variable. Writes are serialized by the
// write mutex.
type Session struct {
	conn net.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	cond   *sync.Cond
	inbox  []*Message
	closed bool
	err    error
}

// NewSession wraps an accepted or dialed connection and starts the
// reader.
func NewSession(conn net.Conn) *Session {
	s := &Session{conn: conn}
	s.cond = sync.NewCond(&s.mu)
	go s.readLoop()
	return s
}

func (s *Session) readLoop() {
	for {
		msg, err := ReadMessage(s.conn)
		if err != nil {
			s.fail(err)
			return
		}
		s.mu.Lock()
		s.inbox = append(s.inbox, msg)
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	s.cond.Broadcast()
}

// Send writes one message to the peer.
func (s *Session) Send(msg *Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteMessage(s.conn, msg)
}

// Recv blocks until the next inbound message arrives. A session torn
// down mid-wait surfaces as ErrClientAborted so pending offloads abort
// their call.
func (s *Session) Recv() (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.inbox) == 0 {
		if s.closed {
			if s.err == io.EOF {
				return nil, fmt.Errorf("%w: connection closed", ErrClientAborted)
			}
			return nil, fmt.Errorf("%w: %v", ErrClientAborted, s.err)
		}
		s.cond.Wait()
	}
	msg := s.inbox[0]
	s.inbox = s.inbox[1:]
	return msg, nil
}

// Request sends a request and blocks for the paired response. The
// protocol keeps one outstanding request per operation, so the next
// response message is the answer.
func (s *Session) Request(msg *Message) (*Message, error) {
	msg.Type = MsgRequest
	if err := s.Send(msg); err != nil {
		return nil, err
	}
	resp, err := s.Recv()
	if err != nil {
		return nil, err
	}
	if resp.Type != MsgResponse {
		return nil, fmt.Errorf("%w: expected response, got message type %d", ErrClientProtocol, resp.Type)
	}
	return resp, nil
}

// Close tears down the connection; blocked receivers wake with
// ErrClientAborted.
func (s *Session) Close() error {
	err := s.conn.Close()
	s.fail(io.EOF)
	return err
}

// Listener accepts sessions on a TCP port, retrying transient accept
// errors.
type Listener struct {
	ln net.Listener
}

// Listen binds the server port.
func Listen(port int) (*Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	utils.Logf(1, "listening on %s", ln.Addr())
	return &Listener{ln: ln}, nil
}

// Accept waits for one client session.
func (l *Listener) Accept() (*Session, error) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return nil, err
		}
		utils.Logf(1, "accepted connection from %s", conn.RemoteAddr())
		return NewSession(conn), nil
	}
}

// Close stops accepting.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Dial connects a client session to the server.
func Dial(addr string) (*Session, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewSession(conn), nil
}
