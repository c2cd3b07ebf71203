package dnswire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size of a DNS header in bytes.
const HeaderSize = 12

// Header is a DNS message header (RFC 1035 §4.1.1).
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Marshal serializes the header to its fixed 12-byte wire form.
func (h Header) Marshal() []byte {
	b := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(b[0:2], h.ID)
	binary.BigEndian.PutUint16(b[2:4], h.Flags)
	binary.BigEndian.PutUint16(b[4:6], h.QDCount)
	binary.BigEndian.PutUint16(b[6:8], h.ANCount)
	binary.BigEndian.PutUint16(b[8:10], h.NSCount)
	binary.BigEndian.PutUint16(b[10:12], h.ARCount)
	return b
}

// ParseHeader reads a header from msg at *off, advancing *off by HeaderSize.
func ParseHeader(msg []byte, off *int) (Header, error) {
	if *off+HeaderSize > len(msg) {
		return Header{}, fmt.Errorf("%w: truncated header", ErrDNSError)
	}
	h := Header{
		ID:      binary.BigEndian.Uint16(msg[*off : *off+2]),
		Flags:   binary.BigEndian.Uint16(msg[*off+2 : *off+4]),
		QDCount: binary.BigEndian.Uint16(msg[*off+4 : *off+6]),
		ANCount: binary.BigEndian.Uint16(msg[*off+6 : *off+8]),
		NSCount: binary.BigEndian.Uint16(msg[*off+8 : *off+10]),
		ARCount: binary.BigEndian.Uint16(msg[*off+10 : *off+12]),
	}
	*off += HeaderSize
	return h, nil
}

// GetID reads the 16-bit transaction id from bytes 0-1 of msg.
func GetID(msg []byte) (uint16, error) {
	if len(msg) < 2 {
		return 0, fmt.Errorf("%w: message too short to hold an id", ErrDNSError)
	}
	return binary.BigEndian.Uint16(msg[0:2]), nil
}

// SetID overwrites bytes 0-1 of msg with id, big-endian, in place.
func SetID(msg []byte, id uint16) error {
	if len(msg) < 2 {
		return fmt.Errorf("%w: message too short to hold an id", ErrDNSError)
	}
	binary.BigEndian.PutUint16(msg[0:2], id)
	return nil
}
