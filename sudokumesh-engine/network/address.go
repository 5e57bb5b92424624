package network

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// ErrInvalidAddress is returned when an address cannot be parsed.
var ErrInvalidAddress = errors.New("invalid address")

// Address is a transport endpoint. It is both the identity of a node in the
// overlay and the key peers are stored under.
type Address struct {
	Host string
	Port int
}

// NewAddress builds an Address from host and port.
func NewAddress(host string, port int) Address {
	return Address{Host: host, Port: port}
}

// ParseAddress parses "host:port".
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return Address{}, fmt.Errorf("%w %q: %v", ErrInvalidAddress, s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 0xFFFF {
		return Address{}, fmt.Errorf("%w %q: bad port", ErrInvalidAddress, s)
	}
	return Address{Host: host, Port: port}, nil
}

// String renders the address as "host:port".
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a.Host == "" && a.Port == 0
}

// UDPAddr resolves the address for use with a UDP socket.
func (a Address) UDPAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", a.String())
}

// AddressFromUDP converts a socket address into an Address.
func AddressFromUDP(u *net.UDPAddr) Address {
	if u == nil {
		return Address{}
	}
	host := u.IP.String()
	if ip4 := u.IP.To4(); ip4 != nil {
		host = ip4.String()
	}
	return Address{Host: host, Port: u.Port}
}

// MarshalJSON encodes the address as the pair ["host", port].
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{a.Host, a.Port})
}

// UnmarshalJSON decodes the pair ["host", port].
func (a *Address) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: expected [host, port], got %d elements", ErrInvalidAddress, len(pair))
	}
	var host string
	var port int
	if err := json.Unmarshal(pair[0], &host); err != nil {
		return fmt.Errorf("%w: host: %v", ErrInvalidAddress, err)
	}
	if err := json.Unmarshal(pair[1], &port); err != nil {
		return fmt.Errorf("%w: port: %v", ErrInvalidAddress, err)
	}
	a.Host = host
	a.Port = port
	return nil
}

// ContainsAddress reports whether addr is in list.
func ContainsAddress(list []Address, addr Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

// RequestID correlates the answers of one network-wide query. The origin
// component keeps ids unique across nodes whose counters collide.
type RequestID struct {
	Seq    uint64
	Origin Address
}

// String renders the id for logs.
func (r RequestID) String() string {
	return fmt.Sprintf("%d@%s", r.Seq, r.Origin)
}

// MarshalJSON encodes the id as [seq, ["host", port]].
func (r RequestID) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{r.Seq, r.Origin})
}

// UnmarshalJSON decodes [seq, ["host", port]].
func (r *RequestID) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("invalid request id: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("invalid request id: expected 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &r.Seq); err != nil {
		return fmt.Errorf("invalid request id sequence: %w", err)
	}
	return json.Unmarshal(pair[1], &r.Origin)
}
