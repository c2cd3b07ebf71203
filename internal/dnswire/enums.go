package dnswire

// DNS header flags (RFC 1035 §4.1.1).
//
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
//	|QR|   Opcode  |AA|TC|RD|RA| Z|AD|CD|   RCODE   |
//	+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+--+
const (
	QRFlag     uint16 = 0x8000
	OpcodeMask uint16 = 0x7800
	TCFlag     uint16 = 0x0200
	RDFlag     uint16 = 0x0100
	RCodeMask  uint16 = 0x000F
)

// RecordType is a DNS RR type, per RFC 1035 and RFC 3596.
//
// Type is "open" per spec: the set of types this package can decode is
// not exhaustive, but every type's ID, class, TTL and RDLENGTH are always
// readable, which is all the forwarder needs to skip or classify an RR.
type RecordType uint16

const (
	TypeA     RecordType = 1
	TypeNS    RecordType = 2
	TypeCNAME RecordType = 5
	TypeSOA   RecordType = 6
	TypePTR   RecordType = 12
	TypeMX    RecordType = 15
	TypeTXT   RecordType = 16
	TypeAAAA  RecordType = 28
	TypeOPT   RecordType = 41

	// TypeInvalid is the sentinel ParseReply returns when a reply has no
	// answers to classify.
	TypeInvalid RecordType = 0

	// TypeBlock is the synthetic internal type used only as part of the
	// verdict-cache key. It never appears on the wire.
	TypeBlock RecordType = 256
)

// ClassIN is the only record class this forwarder emits or expects.
const ClassIN uint16 = 1

// RCode is a DNS response code (RFC 1035 §4.1.1).
type RCode uint16

const (
	RCodeNoError  RCode = 0
	RCodeFormErr  RCode = 1
	RCodeServFail RCode = 2
	RCodeNXDomain RCode = 3
)
