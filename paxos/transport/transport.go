// Package transport carries messages between members: one TCP connection
// per message, a single newline-terminated line each way. Sends are
// fire-and-forget; every transport failure models a lost message and is
// swallowed, since retry belongs to the protocol timeouts, not to the
// transport.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"go-electorate/paxos/config"
	"go-electorate/paxos/messages"
)

// Handler consumes one decoded inbound message.
type Handler func(messages.Message)

// TCPSender sends each message over a fresh connection: connect, write the
// line, close. Nagle is disabled and the whole exchange runs under one hard
// deadline.
type TCPSender struct {
	timeout time.Duration
}

func NewTCPSender(conf *config.Conf) *TCPSender {
	return &TCPSender{timeout: conf.DialTimeout()}
}

func (s *TCPSender) Send(to config.Member, m messages.Message) {
	conn, err := net.DialTimeout("tcp", to.Addr(), s.timeout)
	if err != nil {
		log.Printf("[TRANSPORT] -> %s is not reachable; message lost.", to.ID)
		return
	}
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	_ = conn.SetDeadline(time.Now().Add(s.timeout))

	if _, err := conn.Write([]byte(m.Encode() + "\n")); err != nil {
		log.Printf("[TRANSPORT] -> write to %s failed; message lost.", to.ID)
	}
}

// Listener binds one member's port and feeds every inbound line to the
// handler. One connection carries exactly one message; a bounded worker
// pool keeps a slow handler from exhausting goroutines under load.
type Listener struct {
	port        int
	readTimeout time.Duration
	workers     int
	handler     Handler

	ln    net.Listener
	conns chan net.Conn
	quit  chan struct{}
	wg    sync.WaitGroup
}

func NewListener(self config.Member, conf *config.Conf, handler Handler) *Listener {
	return &Listener{
		port:        self.Port,
		readTimeout: conf.ReadTimeout(),
		workers:     conf.WORKERS,
		handler:     handler,
		quit:        make(chan struct{}),
	}
}

// Start binds the port and launches the accept loop and the worker pool.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", l.port))
	if err != nil {
		return fmt.Errorf("transport: binding port %d: %v", l.port, err)
	}
	l.ln = ln
	l.conns = make(chan net.Conn, l.workers)

	for i := 0; i < l.workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	l.wg.Add(1)
	go l.acceptLoop()

	log.Printf("[TRANSPORT] -> listening on port %d.", l.port)
	return nil
}

// Addr returns the bound address, once started. Useful when the configured
// port is 0 and the kernel picked one.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Stop closes the listener and waits for in-flight handlers to drain.
func (l *Listener) Stop() {
	close(l.quit)
	if l.ln != nil {
		_ = l.ln.Close()
	}
	l.wg.Wait()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	defer close(l.conns)

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("[TRANSPORT] -> accept failed: %v", err)
			continue
		}
		l.conns <- conn
	}
}

func (l *Listener) worker() {
	defer l.wg.Done()
	for conn := range l.conns {
		l.serve(conn)
	}
}

// serve reads the single line of one connection, decodes it and hands it to
// the handler. Malformed lines are logged and the connection dropped; the
// core never sees them.
func (l *Listener) serve(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(l.readTimeout))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		log.Printf("[TRANSPORT] -> dropping connection from %s: %v", conn.RemoteAddr(), err)
		return
	}

	m, err := messages.Decode(line)
	if err != nil {
		log.Printf("[TRANSPORT] -> dropping undecodable line from %s: %v", conn.RemoteAddr(), err)
		return
	}
	l.handler(m)
}
