package dnswire

import (
	"encoding/binary"
	"fmt"
)

// RecordHeader is the fixed portion common to every resource record:
// NAME, TYPE, CLASS, TTL, RDLENGTH (RFC 1035 §4.1.3). The forwarder core
// never needs to interpret RDATA, only to skip it and read the type, so
// this package does not model per-type RDATA at all.
type RecordHeader struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	RData []byte // raw RDATA, exactly RDLENGTH bytes
}

// ParseRecordHeader parses one resource record at msg[*off], advancing
// *off past it (including RDATA).
func ParseRecordHeader(msg []byte, off *int) (RecordHeader, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return RecordHeader{}, fmt.Errorf("%w: record name: %w", ErrDNSError, err)
	}
	if *off+10 > len(msg) {
		return RecordHeader{}, fmt.Errorf("%w: truncated record header", ErrDNSError)
	}
	rr := RecordHeader{
		Name:  LowerName(name),
		Type:  binary.BigEndian.Uint16(msg[*off : *off+2]),
		Class: binary.BigEndian.Uint16(msg[*off+2 : *off+4]),
		TTL:   binary.BigEndian.Uint32(msg[*off+4 : *off+8]),
	}
	rdlen := int(binary.BigEndian.Uint16(msg[*off+8 : *off+10]))
	*off += 10
	if *off+rdlen > len(msg) {
		return RecordHeader{}, fmt.Errorf("%w: truncated RDATA", ErrDNSError)
	}
	rr.RData = msg[*off : *off+rdlen]
	*off += rdlen
	return rr, nil
}
