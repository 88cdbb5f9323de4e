package wire

import (
	"crypto/md5" //nolint:gosec // PostgreSQL's MD5 auth method is fixed by the protocol
	"encoding/hex"
	"io"
)

// sendPasswordMessage sends a PG password message ('p') with a raw string
// payload, used for cleartext and pre-hashed MD5 passwords alike.
func sendPasswordMessage(w io.Writer, password string) error {
	return WriteMessage(w, MsgPasswordMessage, cstring(nil, password))
}

// computeMD5Password computes the PostgreSQL MD5 password hash:
// "md5" + md5(md5(password + user) + salt)
func computeMD5Password(user, password string, salt []byte) string {
	h1 := md5.Sum([]byte(password + user)) //nolint:gosec
	hex1 := hex.EncodeToString(h1[:])
	h2 := md5.Sum(append([]byte(hex1), salt...)) //nolint:gosec
	return "md5" + hex.EncodeToString(h2[:])
}
