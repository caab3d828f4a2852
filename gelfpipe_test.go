package gelfpipe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

const testHost = "127.0.0.1"

// TestMessage is a Fluent forward message, decoded the way a collector
// would.
type TestMessage struct {
	Tag    string
	Time   time.Time
	Record map[string]any
	Option map[string]any
}

// DecodeMsgpack deserializes the payload, which is expected to conform to the
// Fluent Message event mode format.
// [
//
//	 	tag<string>,
//		time<EventTime | int>,
//		record<map[string]any>,
//		option<optional map[string]any>
//
// ]
func (m *TestMessage) DecodeMsgpack(dec *msgpack.Decoder) error {

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return fmt.Errorf("failed to decode outer message array length: %v", err)
	}

	if err = dec.Decode(&m.Tag); err != nil {
		return fmt.Errorf("failed to decode tag field: %v", err)
	}

	typeCode, err := dec.PeekCode()
	if err != nil {
		return fmt.Errorf("failed to read type code for the time field: %v", err)
	}
	switch typeCode {
	case msgpcode.FixExt8:
		et := EventTime{}
		if err = dec.Decode(&et); err != nil {
			return fmt.Errorf("failed to decode the time field: %v", err)
		}
		m.Time = time.Time(et)
	default:
		unix, err := dec.DecodeInt64()
		if err != nil {
			return fmt.Errorf("failed to decode the time field: %v", err)
		}
		m.Time = time.Unix(unix, 0)
	}

	if err = dec.Decode(&m.Record); err != nil {
		return fmt.Errorf("failed to decode the record field: %v", err)
	}

	if n == 4 {
		if err = dec.Decode(&m.Option); err != nil {
			return fmt.Errorf("failed to decode the option field: %v", err)
		}
	}
	return nil
}

// testServer is an in-process collector on a random local port. Over tcp it
// reports everything read from each connection once the client closes it,
// or, when fluent is set, every decoded Fluent message. Over udp it reports
// every datagram.
type testServer struct {
	listener   net.Listener
	packetConn net.PacketConn
	received   chan []byte
	messageCh  chan *TestMessage
	network    string
	port       int
	shutdownCh chan struct{}
	*testServerOptions
}

type testServerOptions struct {
	network string
	fluent  bool
	verbose bool
}

func newTestServer(opts *testServerOptions) (*testServer, error) {
	if opts == nil {
		opts = &testServerOptions{}
	}
	if opts.network == "" {
		opts.network = "tcp"
	}

	s := &testServer{
		received:          make(chan []byte, 256),
		messageCh:         make(chan *TestMessage, 128),
		shutdownCh:        make(chan struct{}),
		network:           opts.network,
		testServerOptions: opts,
	}

	// use port 0 to assign dynamically
	if s.network == "udp" {
		pc, err := net.ListenPacket("udp", testHost+":0")
		if err != nil {
			return nil, fmt.Errorf("failed to start test server listener: %v", err)
		}
		s.packetConn = pc
		s.port = pc.LocalAddr().(*net.UDPAddr).Port
		go s.readPackets()
		return s, nil
	}

	l, err := net.Listen("tcp", testHost+":0")
	if err != nil {
		return nil, fmt.Errorf("failed to start test server listener: %v", err)
	}
	s.listener = l
	s.port = l.Addr().(*net.TCPAddr).Port

	go func() {
		s.debug("starting listener")
		for {
			conn, err := l.Accept()
			if err != nil {
				select {
				case <-s.shutdownCh:
					s.debug("shutting down")
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.debug("listener.Accept() error: %v", err)
				continue
			}
			s.debug("new client connected")
			go s.handle(conn)
		}
	}()

	return s, nil
}

func (s *testServer) addr() string {
	return net.JoinHostPort(testHost, strconv.Itoa(s.port))
}

func (s *testServer) Shutdown() {
	close(s.shutdownCh)
	if s.listener != nil {
		s.listener.Close()
	}
	if s.packetConn != nil {
		s.packetConn.Close()
	}
}

func (s *testServer) handle(conn net.Conn) {
	defer conn.Close()

	if s.fluent {
		d := msgpack.NewDecoder(conn)
		for {
			m := new(TestMessage)
			if err := d.Decode(m); err != nil {
				s.debug("failed to decode Fluent Message: %v", err)
				return
			}
			s.messageCh <- m
		}
	}

	b, err := io.ReadAll(conn)
	if err != nil {
		s.debug("failed to read connection: %v", err)
	}
	s.received <- b
	s.debug("closing connection after %d bytes", len(b))
}

func (s *testServer) readPackets() {
	buf := make([]byte, 65536)
	for {
		n, _, err := s.packetConn.ReadFrom(buf)
		if err != nil {
			s.debug("packet read error: %v", err)
			return
		}
		s.received <- append([]byte(nil), buf[:n]...)
	}
}

// next waits for the next payload received by the server.
func (s *testServer) next(timeout time.Duration) ([]byte, error) {
	select {
	case b := <-s.received:
		return b, nil
	case <-time.After(timeout):
		return nil, errors.New("nothing was received in time")
	}
}

func (s *testServer) debug(format string, args ...any) {
	if !s.verbose {
		return
	}
	InternalLogger().Printf("testServer: "+format, args...)
}

// closedPort returns a local address that refuses connections.
func closedPort() (string, error) {
	l, err := net.Listen("tcp", testHost+":0")
	if err != nil {
		return "", err
	}
	addr := l.Addr().String()
	return addr, l.Close()
}
