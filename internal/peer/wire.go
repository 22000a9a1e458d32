package peer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/djkazic/wizards-wallet/pkg/util"
)

const (
	// MessageHeaderSize is magic, command, length and checksum.
	MessageHeaderSize = 24
	// CommandSize is the NUL-padded command field width.
	CommandSize = 12
	// DefaultMaxPayload bounds a single message payload.
	DefaultMaxPayload = 32 * 1024 * 1024
)

type messageHeader struct {
	magic    uint32
	command  string
	length   uint32
	checksum [4]byte
}

func readMessageHeader(r io.Reader) (*messageHeader, error) {
	var raw [MessageHeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return nil, err
	}
	hdr := &messageHeader{
		magic:  binary.LittleEndian.Uint32(raw[0:4]),
		length: binary.LittleEndian.Uint32(raw[16:20]),
	}
	copy(hdr.checksum[:], raw[20:24])

	cmd, err := parseCommand(raw[4:16])
	if err != nil {
		return nil, err
	}
	hdr.command = cmd
	return hdr, nil
}

// parseCommand accepts printable ASCII followed only by NUL padding.
func parseCommand(field []byte) (string, error) {
	end := bytes.IndexByte(field, 0)
	if end < 0 {
		end = len(field)
	}
	for _, b := range field[end:] {
		if b != 0 {
			return "", protocolErr(nil, "command %q has data after NUL padding", field)
		}
	}
	if end == 0 {
		return "", protocolErr(nil, "empty command")
	}
	for _, b := range field[:end] {
		if b < 0x20 || b > 0x7e {
			return "", protocolErr(nil, "command %q is not printable ASCII", field[:end])
		}
	}
	return string(field[:end]), nil
}

// WriteMessage frames msg for network net and writes it in one call.
func WriteMessage(w io.Writer, net uint32, msg Message) error {
	cmd := msg.Command()
	if len(cmd) > CommandSize {
		return fmt.Errorf("command %q longer than %d bytes", cmd, CommandSize)
	}
	payload := msg.Encode()

	buf := make([]byte, MessageHeaderSize, MessageHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], net)
	copy(buf[4:16], cmd)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(payload)))
	sum := util.Checksum(payload)
	copy(buf[20:24], sum[:])
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}

// ReadMessage reads one framed message. Framing violations come back as
// *ProtocolError; I/O failures are returned as is. Unknown commands decode
// to *MsgUnknown.
func ReadMessage(r io.Reader, net uint32, maxPayload uint32) (Message, error) {
	hdr, err := readMessageHeader(r)
	if err != nil {
		return nil, err
	}
	if hdr.magic != net {
		return nil, protocolErr(nil, "magic %08x does not match network %08x", hdr.magic, net)
	}
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayload
	}
	if hdr.length > maxPayload {
		return nil, protocolErr(nil, "%s payload of %d bytes exceeds limit %d", hdr.command, hdr.length, maxPayload)
	}

	payload := make([]byte, hdr.length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	if util.Checksum(payload) != hdr.checksum {
		return nil, protocolErr(nil, "%s checksum mismatch", hdr.command)
	}

	msg := makeEmptyMessage(hdr.command)
	if err := msg.Decode(payload); err != nil {
		return nil, protocolErr(err, "decode %s", hdr.command)
	}
	return msg, nil
}
