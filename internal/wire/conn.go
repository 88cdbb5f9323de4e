package wire

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
)

// State is the protocol state of one Engine, driven by ReadyForQuery status
// bytes and ErrorResponse/I-O-error transitions.
type State int

const (
	StateStartup State = iota
	StateAuthenticating
	StateIdle
	StateBusy
	StateInTransaction
	StateInFailedTransaction
	StateCopyIn
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStartup:
		return "startup"
	case StateAuthenticating:
		return "authenticating"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateInTransaction:
		return "in_transaction"
	case StateInFailedTransaction:
		return "in_failed_transaction"
	case StateCopyIn:
		return "copy_in"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	protoVersionMajor = 3
	protoVersionMinor = 0
	protoVersion      = protoVersionMajor<<16 | protoVersionMinor

	sslRequestCode = 80877103
)

// Engine drives the PostgreSQL wire protocol over a single socket. Only one
// protocol step may be outstanding at a time; concurrent calls fail fast
// via busy.
type Engine struct {
	conn net.Conn
	br   *bufio.Reader

	tryBusy chan struct{} // single-slot semaphore enforcing one step at a time

	mu         sync.Mutex // guards the fields below
	state      State
	backendPID uint32
	backendKey uint32
	params     map[string]string
	tlsState   *tls.ConnectionState
	broken     bool
	lastUser   string // set by Startup; needed by the MD5/SCRAM auth steps
}

// ErrBusy is returned when a second operation is attempted on an Engine
// that already has one in flight.
var ErrBusy = fmt.Errorf("wire: connection busy with another operation")

// bufferedReadWriter pairs the Engine's buffered reader with its raw
// connection for writes, so a sub-protocol reading length-prefixed
// messages (SCRAM) sees bytes bufio.Reader already pulled off the socket
// instead of racing it for the same underlying net.Conn.
type bufferedReadWriter struct {
	r *bufio.Reader
	w net.Conn
}

func (rw bufferedReadWriter) Read(p []byte) (int, error)  { return rw.r.Read(p) }
func (rw bufferedReadWriter) Write(p []byte) (int, error) { return rw.w.Write(p) }

// NewEngine wraps an already-dialed connection. Call Startup to perform the
// handshake before issuing queries.
func NewEngine(conn net.Conn) *Engine {
	return &Engine{
		conn:    conn,
		br:      bufio.NewReader(conn),
		tryBusy: make(chan struct{}, 1),
		state:   StateStartup,
		params:  make(map[string]string),
	}
}

// Conn returns the underlying network connection.
func (e *Engine) Conn() net.Conn { return e.conn }

// State returns the current protocol state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// BackendPID and BackendSecretKey identify this session to the dedicated
// cancellation side-channel.
func (e *Engine) BackendPID() uint32 { return e.backendPID }
func (e *Engine) BackendSecretKey() uint32 { return e.backendKey }

// ParameterStatus returns the last-known value of a startup/runtime
// parameter reported by the server (e.g. "server_version").
func (e *Engine) ParameterStatus(key string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params[key]
}

// MarkBroken flags the connection as unusable; the Pool must discard it.
func (e *Engine) MarkBroken() {
	e.mu.Lock()
	e.broken = true
	e.state = StateClosed
	e.mu.Unlock()
}

// Broken reports whether a fatal error was observed on this connection.
func (e *Engine) Broken() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.broken
}

// Close closes the underlying socket.
func (e *Engine) Close() error {
	e.setState(StateClosed)
	return e.conn.Close()
}

// acquireStep enforces exactly one in-flight protocol operation per
// Connection. It never blocks: a concurrent
// caller gets ErrBusy immediately rather than queuing, since queuing here
// would hide a caller bug (two goroutines sharing one Connection).
func (e *Engine) acquireStep() error {
	select {
	case e.tryBusy <- struct{}{}:
		return nil
	default:
		return ErrBusy
	}
}

func (e *Engine) releaseStep() {
	<-e.tryBusy
}

// withDeadline applies ctx's deadline (if any) to the socket for the
// duration of fn, clearing it afterward. This is how suspension points
// honor cancellation without a dedicated reader goroutine per call.
func (e *Engine) withDeadline(ctx context.Context, fn func() error) error {
	if dl, ok := ctx.Deadline(); ok {
		e.conn.SetDeadline(dl)
		defer e.conn.SetDeadline(time.Time{})
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// Unblock the in-flight read/write by closing the deadline down to
		// "now"; the goroutine above will observe an I/O timeout and the
		// connection is marked broken since its protocol state is now
		// indeterminate.
		e.conn.SetDeadline(time.Now())
		<-done
		e.MarkBroken()
		return ctx.Err()
	}
}

// StartupParams carries the values sent in the StartupMessage.
type StartupParams struct {
	User            string
	Database        string
	ApplicationName string
	Options         string
}

// Startup performs SSL negotiation (if tlsConfig is non-nil), sends the
// StartupMessage, and drives the authentication handshake to completion,
// absorbing ParameterStatus and BackendKeyData until ReadyForQuery.
func (e *Engine) Startup(ctx context.Context, params StartupParams, password string, tlsConfig *tls.Config) error {
	if err := e.acquireStep(); err != nil {
		return err
	}
	defer e.releaseStep()

	e.lastUser = params.User

	return e.withDeadline(ctx, func() error {
		if tlsConfig != nil {
			if err := e.negotiateTLS(tlsConfig); err != nil {
				return fmt.Errorf("TLS negotiation: %w", err)
			}
		}

		if err := e.sendStartupMessage(params); err != nil {
			return fmt.Errorf("sending startup message: %w", err)
		}

		for {
			msgType, payload, err := ReadMessage(e.br)
			if err != nil {
				e.MarkBroken()
				return fmt.Errorf("reading startup response: %w", err)
			}

			switch msgType {
			case MsgAuthentication:
				done, err := e.handleAuthentication(payload, password)
				if err != nil {
					e.MarkBroken()
					return err
				}
				if done {
					continue
				}

			case MsgParameterStatus:
				key, val, ok := splitCString(payload)
				if ok {
					if v, _, ok2 := splitCString(val); ok2 {
						e.mu.Lock()
						e.params[key] = v
						e.mu.Unlock()
					}
				}

			case MsgBackendKeyData:
				if len(payload) >= 8 {
					e.backendPID = binary.BigEndian.Uint32(payload[:4])
					e.backendKey = binary.BigEndian.Uint32(payload[4:8])
				}

			case MsgReadyForQuery:
				e.setState(readyState(payload))
				return nil

			case MsgErrorResponse:
				e.MarkBroken()
				return ParsePgError(payload)

			case MsgNoticeResponse:
				// Notices during startup are informational; ignore.
				continue

			default:
				continue
			}
		}
	})
}

func (e *Engine) sendStartupMessage(p StartupParams) error {
	var body []byte
	verBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(verBuf, protoVersion)
	body = append(body, verBuf...)

	body = cstring(body, "user")
	body = cstring(body, p.User)
	if p.Database != "" {
		body = cstring(body, "database")
		body = cstring(body, p.Database)
	}
	if p.ApplicationName != "" {
		body = cstring(body, "application_name")
		body = cstring(body, p.ApplicationName)
	}
	if p.Options != "" {
		body = cstring(body, "options")
		body = cstring(body, p.Options)
	}
	body = cstring(body, "replication")
	body = cstring(body, "off")
	body = append(body, 0) // terminator

	return WriteUntypedMessage(e.conn, body)
}

// negotiateTLS sends SSLRequest and, if the server accepts ('S'), performs
// the TLS handshake and swaps the underlying connection/reader.
func (e *Engine) negotiateTLS(tlsConfig *tls.Config) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, sslRequestCode)
	if err := WriteUntypedMessage(e.conn, buf); err != nil {
		return err
	}

	resp := make([]byte, 1)
	if _, err := e.br.Read(resp); err != nil {
		return err
	}
	if resp[0] != 'S' {
		return fmt.Errorf("server refused TLS negotiation")
	}

	tlsConn := tls.Client(e.conn, tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		return err
	}
	state := tlsConn.ConnectionState()
	e.mu.Lock()
	e.tlsState = &state
	e.mu.Unlock()
	e.conn = tlsConn
	e.br = bufio.NewReader(tlsConn)
	return nil
}

// handleAuthentication dispatches one AuthenticationRequest payload. It
// returns done=true when the exchange should continue reading the next
// startup message (including AuthenticationOk).
func (e *Engine) handleAuthentication(payload []byte, password string) (bool, error) {
	if len(payload) < 4 {
		return false, fmt.Errorf("authentication message too short")
	}
	authType := binary.BigEndian.Uint32(payload[:4])
	switch authType {
	case 0: // AuthenticationOk
		return true, nil
	case 3: // cleartext
		if err := sendPasswordMessage(e.conn, password); err != nil {
			return false, err
		}
		return true, nil
	case 5: // MD5
		if len(payload) < 8 {
			return false, fmt.Errorf("MD5 auth message too short")
		}
		salt := payload[4:8]
		md5Pass := computeMD5Password(e.lastUser, password, salt)
		if err := sendPasswordMessage(e.conn, md5Pass); err != nil {
			return false, err
		}
		return true, nil
	case 10: // SASL
		e.mu.Lock()
		tlsState := e.tlsState
		e.mu.Unlock()
		rw := bufferedReadWriter{r: e.br, w: e.conn}
		if err := scramSHA256Auth(rw, e.lastUser, password, payload, tlsState); err != nil {
			return false, fmt.Errorf("SCRAM-SHA-256 auth: %w", err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("unsupported authentication type: %d", authType)
	}
}

func readyState(payload []byte) State {
	if len(payload) == 0 {
		return StateIdle
	}
	switch payload[0] {
	case 'I':
		return StateIdle
	case 'T':
		return StateInTransaction
	case 'E':
		return StateInFailedTransaction
	default:
		return StateIdle
	}
}
