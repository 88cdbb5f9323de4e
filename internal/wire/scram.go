package wire

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// scramClient drives a SASL SCRAM-SHA-256 (or SCRAM-SHA-256-PLUS) exchange
// against a PostgreSQL backend that has already sent AuthenticationSASL
// (type 10). Unlike a relaying proxy, this side originates the exchange.
type scramClient struct {
	conn        io.ReadWriter
	user        string
	password    string
	mechanism   string // "SCRAM-SHA-256" or "SCRAM-SHA-256-PLUS"
	channelBind []byte // tls-server-end-point certificate hash, if -PLUS
}

// scramSHA256Auth performs the client side of SCRAM authentication.
// saslPayload is the whole AuthenticationSASL message body: the 4-byte
// auth-type field (skipped by parseSASLMechanisms), then the mechanisms
// the server offers.
func scramSHA256Auth(conn io.ReadWriter, user, password string, saslPayload []byte, tlsState *tls.ConnectionState) error {
	mechanisms := parseSASLMechanisms(saslPayload)

	sc := &scramClient{conn: conn, user: user, password: password}
	switch {
	case tlsState != nil && containsMechanism(mechanisms, "SCRAM-SHA-256-PLUS"):
		sc.mechanism = "SCRAM-SHA-256-PLUS"
		sum, err := tlsServerEndPointHash(tlsState)
		if err != nil {
			return fmt.Errorf("computing tls-server-end-point binding: %w", err)
		}
		sc.channelBind = sum
	case containsMechanism(mechanisms, "SCRAM-SHA-256"):
		sc.mechanism = "SCRAM-SHA-256"
	default:
		return fmt.Errorf("server does not support SCRAM-SHA-256, offered: %v", mechanisms)
	}

	return sc.run()
}

func (sc *scramClient) gs2Header() string {
	switch sc.mechanism {
	case "SCRAM-SHA-256-PLUS":
		return "p=tls-server-end-point,,"
	default:
		// "y,," tells the server we support channel binding but it wasn't
		// negotiated; "n,," means we don't support it at all. We always
		// support it, so use "y" when -PLUS wasn't selected.
		return "y,,"
	}
}

func (sc *scramClient) run() error {
	nonceBytes := make([]byte, 18)
	if _, err := rand.Read(nonceBytes); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	clientNonce := base64.StdEncoding.EncodeToString(nonceBytes)

	gs2Header := sc.gs2Header()
	clientFirstBare := fmt.Sprintf("n=%s,r=%s", saslEscapeUsername(sc.user), clientNonce)
	clientFirstMsg := gs2Header + clientFirstBare

	if err := sendSASLInitialResponse(sc.conn, sc.mechanism, []byte(clientFirstMsg)); err != nil {
		return fmt.Errorf("sending SASL initial response: %w", err)
	}

	serverFirstMsg, err := readAuthMessage(sc.conn, 11)
	if err != nil {
		return fmt.Errorf("reading server-first-message: %w", err)
	}

	serverNonce, salt, iterations, err := parseServerFirst(string(serverFirstMsg))
	if err != nil {
		return fmt.Errorf("parsing server-first-message: %w", err)
	}
	if !strings.HasPrefix(serverNonce, clientNonce) {
		return fmt.Errorf("server nonce does not start with client nonce")
	}

	saltedPassword := pbkdf2.Key([]byte(sc.password), salt, iterations, 32, sha256.New)
	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)

	cbindInput := []byte(gs2Header)
	if sc.mechanism == "SCRAM-SHA-256-PLUS" {
		cbindInput = append(cbindInput, sc.channelBind...)
	}
	channelBinding := "c=" + base64.StdEncoding.EncodeToString(cbindInput)
	clientFinalWithoutProof := fmt.Sprintf("%s,r=%s", channelBinding, serverNonce)

	authMessage := clientFirstBare + "," + string(serverFirstMsg) + "," + clientFinalWithoutProof
	clientSignature := hmacSHA256(storedKey, []byte(authMessage))
	clientProof := xorBytes(clientKey, clientSignature)

	clientFinalMsg := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	if err := sendSASLResponse(sc.conn, []byte(clientFinalMsg)); err != nil {
		return fmt.Errorf("sending SASL response: %w", err)
	}

	serverFinalMsg, err := readAuthMessage(sc.conn, 12)
	if err != nil {
		return fmt.Errorf("reading server-final-message: %w", err)
	}

	serverKey := hmacSHA256(saltedPassword, []byte("Server Key"))
	expectedServerSig := hmacSHA256(serverKey, []byte(authMessage))
	expectedServerFinal := "v=" + base64.StdEncoding.EncodeToString(expectedServerSig)

	if string(serverFinalMsg) != expectedServerFinal {
		return fmt.Errorf("server signature mismatch")
	}
	return nil
}

// tlsServerEndPointHash computes the tls-server-end-point channel binding
// value: the hash of the server's leaf certificate, using the same hash
// algorithm as the certificate's signature (SHA-256 unless the certificate
// specifies otherwise, per RFC 5929).
func tlsServerEndPointHash(state *tls.ConnectionState) ([]byte, error) {
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("no peer certificate available for channel binding")
	}
	cert := state.PeerCertificates[0]
	switch cert.SignatureAlgorithm {
	case x509.SHA384WithRSA, x509.ECDSAWithSHA384, x509.SHA384WithRSAPSS:
		sum := sha512.Sum384(cert.Raw)
		return sum[:], nil
	case x509.SHA512WithRSA, x509.ECDSAWithSHA512, x509.SHA512WithRSAPSS:
		sum := sha512.Sum512(cert.Raw)
		return sum[:], nil
	}
	sum := sha256.Sum256(cert.Raw)
	return sum[:], nil
}

func parseSASLMechanisms(data []byte) []string {
	if len(data) >= 4 {
		data = data[4:] // skip the 4-byte auth-type field
	}
	var mechs []string
	for len(data) > 0 {
		idx := 0
		for idx < len(data) && data[idx] != 0 {
			idx++
		}
		if idx > 0 {
			mechs = append(mechs, string(data[:idx]))
		}
		if idx >= len(data) {
			break
		}
		data = data[idx+1:]
	}
	return mechs
}

func containsMechanism(mechs []string, target string) bool {
	for _, m := range mechs {
		if m == target {
			return true
		}
	}
	return false
}

func parseServerFirst(msg string) (nonce string, salt []byte, iterations int, err error) {
	parts := strings.Split(msg, ",")
	for _, part := range parts {
		switch {
		case strings.HasPrefix(part, "r="):
			nonce = part[2:]
		case strings.HasPrefix(part, "s="):
			salt, err = base64.StdEncoding.DecodeString(part[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("decoding salt: %w", err)
			}
		case strings.HasPrefix(part, "i="):
			iterations, err = strconv.Atoi(part[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("parsing iteration count: %w", err)
			}
		}
	}
	if nonce == "" || salt == nil || iterations == 0 {
		return "", nil, 0, fmt.Errorf("incomplete server-first-message: %q", msg)
	}
	return nonce, salt, iterations, nil
}

func saslEscapeUsername(user string) string {
	user = strings.ReplaceAll(user, "=", "=3D")
	user = strings.ReplaceAll(user, ",", "=2C")
	return user
}

func sendSASLInitialResponse(w io.Writer, mechanism string, clientFirstMsg []byte) error {
	var payload []byte
	payload = cstring(payload, mechanism)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(clientFirstMsg)))
	payload = append(payload, lenBuf...)
	payload = append(payload, clientFirstMsg...)
	return WriteMessage(w, MsgPasswordMessage, payload)
}

func sendSASLResponse(w io.Writer, data []byte) error {
	return WriteMessage(w, MsgPasswordMessage, data)
}

// readAuthMessage reads an Authentication message and verifies its
// sub-type, returning the payload after the 4-byte auth-type field.
func readAuthMessage(r io.Reader, expectedAuthType uint32) ([]byte, error) {
	msgType, payload, err := ReadMessage(r)
	if err != nil {
		return nil, err
	}
	if msgType == MsgErrorResponse {
		return nil, ParsePgError(payload)
	}
	if msgType != MsgAuthentication {
		return nil, fmt.Errorf("expected Authentication message, got %q", msgType)
	}
	if len(payload) < 4 {
		return nil, fmt.Errorf("authentication message too short")
	}
	authType := binary.BigEndian.Uint32(payload[:4])
	if authType != expectedAuthType {
		return nil, fmt.Errorf("expected auth type %d, got %d", expectedAuthType, authType)
	}
	return payload[4:], nil
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func xorBytes(a, b []byte) []byte {
	result := make([]byte, len(a))
	for i := range a {
		result[i] = a[i] ^ b[i]
	}
	return result
}
