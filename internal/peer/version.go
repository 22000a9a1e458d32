package peer

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/djkazic/wizards-wallet/pkg/util"
)

const (
	// DefaultUserAgent goes out in our version message.
	DefaultUserAgent = "/wizards-wallet:0.1.0/"

	maxUserAgentLen = 256
	netAddressSize  = 26
)

// NetAddress is the address form embedded in version: services, a 16-byte
// IPv6 (or IPv4-mapped) address and a big-endian port.
type NetAddress struct {
	Services uint64
	IP       net.IP
	Port     uint16
}

// NewNetAddress converts a TCP address. Other address kinds yield the
// zero address.
func NewNetAddress(addr net.Addr, services uint64) NetAddress {
	na := NetAddress{Services: services}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		na.IP = tcp.IP
		na.Port = uint16(tcp.Port)
	}
	return na
}

func (na NetAddress) writeTo(w *util.Writer) {
	w.Uint64(na.Services)
	var ip [16]byte
	if ip16 := na.IP.To16(); ip16 != nil {
		copy(ip[:], ip16)
	}
	w.Write(ip[:])
	var port [2]byte
	binary.BigEndian.PutUint16(port[:], na.Port)
	w.Write(port[:])
}

func readNetAddress(r *util.Reader, field string) (NetAddress, error) {
	var na NetAddress
	var err error
	if na.Services, err = r.Uint64(field + " services"); err != nil {
		return na, err
	}
	ip, err := r.Bytes(field+" ip", 16)
	if err != nil {
		return na, err
	}
	na.IP = net.IP(ip)
	port, err := r.Bytes(field+" port", 2)
	if err != nil {
		return na, err
	}
	na.Port = binary.BigEndian.Uint16(port)
	return na, nil
}

// MsgVersion opens the handshake.
type MsgVersion struct {
	ProtocolVersion int32
	Services        uint64
	Timestamp       time.Time
	AddrRecv        NetAddress
	AddrFrom        NetAddress
	Nonce           uint64
	UserAgent       string
	StartHeight     int32
	Relay           bool
}

func (m *MsgVersion) Command() string { return CmdVersion }

func (m *MsgVersion) Encode() []byte {
	w := util.NewWriter(4 + 8 + 8 + 2*netAddressSize + 8 + util.VarIntSize(uint64(len(m.UserAgent))) + len(m.UserAgent) + 4 + 1)
	w.Int32(m.ProtocolVersion)
	w.Uint64(m.Services)
	w.Int64(m.Timestamp.Unix())
	m.AddrRecv.writeTo(w)
	m.AddrFrom.writeTo(w)
	w.Uint64(m.Nonce)
	w.VarBytes([]byte(m.UserAgent))
	w.Int32(m.StartHeight)
	if m.Relay {
		w.Uint8(1)
	} else {
		w.Uint8(0)
	}
	return w.Bytes()
}

// Decode accepts a missing relay byte, which older peers omit; it then
// defaults to true.
func (m *MsgVersion) Decode(b []byte) error {
	r := util.NewReader(b)
	var err error
	if m.ProtocolVersion, err = r.Int32("version protocol"); err != nil {
		return err
	}
	if m.Services, err = r.Uint64("version services"); err != nil {
		return err
	}
	ts, err := r.Int64("version timestamp")
	if err != nil {
		return err
	}
	m.Timestamp = time.Unix(ts, 0)
	if m.AddrRecv, err = readNetAddress(r, "version addr_recv"); err != nil {
		return err
	}
	if m.AddrFrom, err = readNetAddress(r, "version addr_from"); err != nil {
		return err
	}
	if m.Nonce, err = r.Uint64("version nonce"); err != nil {
		return err
	}
	ua, err := r.VarBytes("version user agent", maxUserAgentLen)
	if err != nil {
		return err
	}
	m.UserAgent = string(ua)
	if m.StartHeight, err = r.Int32("version start height"); err != nil {
		return err
	}
	m.Relay = true
	if r.Remaining() > 0 {
		relay, err := r.Uint8("version relay")
		if err != nil {
			return err
		}
		m.Relay = relay != 0
	}
	return trailing(r, "version")
}

func (m *MsgVersion) String() string {
	return fmt.Sprintf("version %d %s height=%d", m.ProtocolVersion, m.UserAgent, m.StartHeight)
}
