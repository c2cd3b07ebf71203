package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/sansdns/sans-forward/internal/pool"
)

// lenBufPool reduces allocations for the 2-byte TCP length prefix.
var lenBufPool = pool.New(func() *[]byte {
	buf := make([]byte, 2)
	return &buf
})

// ErrMessageTooLarge is returned by WriteTCPMessage when msg would not
// fit in the 16-bit length prefix.
var ErrMessageTooLarge = errors.New("server: message too large for TCP framing")

// ReadTCPMessage reads one length-prefixed DNS message (RFC 1035 §4.2.2)
// from conn. Every read is capped at maxSize bytes; if the prefix
// declares a longer message the excess is read and discarded so the
// connection is left correctly positioned, and only the first maxSize
// bytes are returned.
func ReadTCPMessage(conn net.Conn, maxSize int) ([]byte, error) {
	lenBufPtr := lenBufPool.Get()
	lenBuf := *lenBufPtr
	_, err := io.ReadFull(conn, lenBuf)
	lenBufPool.Put(lenBufPtr)
	if err != nil {
		return nil, fmt.Errorf("reading length prefix: %w", err)
	}

	wireLen := int(binary.BigEndian.Uint16(lenBuf))
	if wireLen == 0 {
		return nil, nil
	}

	readLen := wireLen
	if readLen > maxSize {
		readLen = maxSize
	}
	body := make([]byte, readLen)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, fmt.Errorf("reading message body: %w", err)
	}
	if wireLen > maxSize {
		if _, err := io.CopyN(io.Discard, conn, int64(wireLen-maxSize)); err != nil {
			return nil, fmt.Errorf("discarding oversized remainder: %w", err)
		}
	}
	return body, nil
}

// WriteTCPMessage writes msg to conn with its 2-byte big-endian length
// prefix, using a single writev-style call to avoid a combined
// allocation.
func WriteTCPMessage(conn net.Conn, msg []byte) error {
	if len(msg) > 0xFFFF {
		return ErrMessageTooLarge
	}
	lenBufPtr := lenBufPool.Get()
	lenBuf := *lenBufPtr
	binary.BigEndian.PutUint16(lenBuf, uint16(len(msg))) //nolint:gosec // bounds-checked above
	bufs := net.Buffers{lenBuf, msg}
	_, err := bufs.WriteTo(conn)
	lenBufPool.Put(lenBufPtr)
	if err != nil {
		return fmt.Errorf("writing framed message: %w", err)
	}
	return nil
}

// QueryOverConn writes query to conn framed, then reads and returns the
// single framed reply. It is the shared primitive behind the trusted
// upstream's TCP and SOCKS5-tunneled legs: one query, one reply, caller
// closes conn afterward.
func QueryOverConn(conn net.Conn, query []byte, maxReplySize int) ([]byte, error) {
	if err := WriteTCPMessage(conn, query); err != nil {
		return nil, err
	}
	return ReadTCPMessage(conn, maxReplySize)
}
