package record

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"fsipd/internal/capturelog"
)

// DefaultMaxPayload bounds a captured line, matching an 8 KiB receive buffer
// that keeps one byte for the terminator.
const DefaultMaxPayload = 8191

// maxHeaderBytes covers the epoch, tag, address with zone, port, separators
// and quotes of a formatted line.
const maxHeaderBytes = 128

// MaxPayload is the largest payload whose formatted line fits in one capture
// log message even when every byte is escaped as \xNN.
const MaxPayload = (capturelog.MaxMessageSize - maxHeaderBytes) / 4

// Protocol is the transport a record was captured on.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolTCP
	ProtocolUDP
	ProtocolRaw
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	case ProtocolRaw:
		return "RAW"
	default:
		return "UNKNOWN"
	}
}

// Network returns the Go network name for p combined with f, such as "tcp6".
func (p Protocol) Network(f Family) string {
	return strings.ToLower(p.String()) + f.Suffix()
}

// Family is the address family of the endpoint a record arrived on.
type Family int

const (
	IPv4 Family = iota
	IPv6
)

// Suffix is the family digit appended to the protocol tag.
func (f Family) Suffix() string {
	if f == IPv6 {
		return "6"
	}
	return "4"
}

func (f Family) String() string {
	return "IPv" + f.Suffix()
}

// Record is one captured request.
type Record struct {
	Time     time.Time
	Protocol Protocol
	Family   Family
	Addr     netip.Addr
	Port     uint16
	Payload  string
	// Truncated is set when the peer's line exceeded the capture bound. It is
	// not part of the rendered line.
	Truncated bool
}

// Tag returns the protocol and family tag, such as "UDP4".
func (r Record) Tag() string {
	return r.Protocol.String() + r.Family.Suffix()
}

// ParseTag splits a tag such as "TCP6" into protocol and family.
func ParseTag(tag string) (Protocol, Family, error) {
	if len(tag) < 2 {
		return ProtocolUnknown, IPv4, fmt.Errorf("invalid protocol tag %q", tag)
	}
	var family Family
	switch tag[len(tag)-1] {
	case '4':
		family = IPv4
	case '6':
		family = IPv6
	default:
		return ProtocolUnknown, IPv4, fmt.Errorf("invalid family in tag %q", tag)
	}
	switch tag[:len(tag)-1] {
	case "TCP":
		return ProtocolTCP, family, nil
	case "UDP":
		return ProtocolUDP, family, nil
	case "RAW":
		return ProtocolRaw, family, nil
	case "UNKNOWN":
		return ProtocolUnknown, family, nil
	default:
		return ProtocolUnknown, family, fmt.Errorf("invalid protocol in tag %q", tag)
	}
}
