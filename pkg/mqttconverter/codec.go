package mqttconverter

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/mochi-mqtt/server/v2/packets"
)

// DefaultMaxPacketSize is the largest remaining length MQTT can encode.
const DefaultMaxPacketSize = 268435455

// ProtocolDecodeError reports a frame that could not be decoded as an MQTT
// packet. The connection it arrived on cannot be trusted any further.
type ProtocolDecodeError struct {
	PacketType byte
	Err        error
}

func (e *ProtocolDecodeError) Error() string {
	if e.PacketType == 0 {
		return fmt.Sprintf("malformed MQTT frame: %v", e.Err)
	}
	return fmt.Sprintf("malformed MQTT packet (type %d): %v", e.PacketType, e.Err)
}

func (e *ProtocolDecodeError) Unwrap() error {
	return e.Err
}

// errPacketTooLarge is wrapped in a ProtocolDecodeError when a frame announces
// a remaining length above the configured maximum.
var errPacketTooLarge = errors.New("packet exceeds maximum size")

// PacketReader decodes MQTT control packets from a byte stream.
//
// I/O failures, including a clean end of stream, are returned unchanged so the
// caller can tell a dropped connection from a malformed frame, which is always
// reported as a *ProtocolDecodeError.
type PacketReader struct {
	r               *trackingReader
	maxPacketSize   int
	protocolVersion byte
}

// NewPacketReader creates a reader over r. A maxPacketSize of zero or less
// selects DefaultMaxPacketSize.
func NewPacketReader(r io.Reader, maxPacketSize int) *PacketReader {
	if maxPacketSize <= 0 {
		maxPacketSize = DefaultMaxPacketSize
	}
	return &PacketReader{
		r:             &trackingReader{r: bufio.NewReader(r)},
		maxPacketSize: maxPacketSize,
	}
}

// SetProtocolVersion sets the version negotiated by CONNECT. It decides whether
// MQTT 5 properties are present in subsequent packets.
func (pr *PacketReader) SetProtocolVersion(v byte) {
	pr.protocolVersion = v
}

// ReadPacket blocks until one complete packet has been read. Only the packet
// types the bridge acts on have their bodies decoded; the body of any other
// type is consumed and discarded.
func (pr *PacketReader) ReadPacket() (*packets.Packet, error) {
	pr.r.err = nil

	b, err := pr.r.ReadByte()
	if err != nil {
		return nil, err
	}

	fh := packets.FixedHeader{}
	if err := fh.Decode(b); err != nil {
		return nil, &ProtocolDecodeError{PacketType: b >> 4, Err: err}
	}

	rem, _, err := packets.DecodeLength(pr.r)
	if err != nil {
		if pr.r.err != nil {
			return nil, unexpectedEOF(pr.r.err)
		}
		return nil, &ProtocolDecodeError{PacketType: fh.Type, Err: err}
	}
	if rem > pr.maxPacketSize {
		return nil, &ProtocolDecodeError{
			PacketType: fh.Type,
			Err:        fmt.Errorf("%w: %d > %d bytes", errPacketTooLarge, rem, pr.maxPacketSize),
		}
	}
	fh.Remaining = rem

	buf := make([]byte, rem)
	if rem > 0 {
		if _, err := io.ReadFull(pr.r, buf); err != nil {
			return nil, unexpectedEOF(err)
		}
	}

	pk := &packets.Packet{FixedHeader: fh, ProtocolVersion: pr.protocolVersion}
	switch fh.Type {
	case packets.Connect:
		err = pk.ConnectDecode(buf)
	case packets.Publish:
		err = pk.PublishDecode(buf)
	case packets.Pingreq:
		err = pk.PingreqDecode(buf)
	case packets.Disconnect:
		err = pk.DisconnectDecode(buf)
	}
	if err != nil {
		return nil, &ProtocolDecodeError{PacketType: fh.Type, Err: err}
	}
	if code := validatePacket(pk); code.Code != packets.CodeSuccess.Code {
		return nil, &ProtocolDecodeError{PacketType: fh.Type, Err: code}
	}
	return pk, nil
}

// validatePacket applies the protocol rules a successful decode does not
// enforce, such as wildcards in a PUBLISH topic or a QoS 1 packet without an
// identifier. Topic aliases are not negotiated, so any alias is invalid.
func validatePacket(pk *packets.Packet) packets.Code {
	switch pk.FixedHeader.Type {
	case packets.Connect:
		return pk.ConnectValidate()
	case packets.Publish:
		return pk.PublishValidate(0)
	default:
		return packets.CodeSuccess
	}
}

// encodePacket serialises one of the packet types the bridge sends.
func encodePacket(pk *packets.Packet) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch pk.FixedHeader.Type {
	case packets.Connack:
		err = pk.ConnackEncode(&buf)
	case packets.Pingresp:
		err = pk.PingrespEncode(&buf)
	case packets.Puback:
		err = pk.PubackEncode(&buf)
	default:
		return nil, fmt.Errorf("unsupported packet type for writing: %d", pk.FixedHeader.Type)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func connackPacket(protocolVersion byte) *packets.Packet {
	return &packets.Packet{
		FixedHeader:     packets.FixedHeader{Type: packets.Connack},
		ProtocolVersion: protocolVersion,
		SessionPresent:  false,
		ReasonCode:      packets.CodeSuccess.Code,
	}
}

func pingrespPacket(protocolVersion byte) *packets.Packet {
	return &packets.Packet{
		FixedHeader:     packets.FixedHeader{Type: packets.Pingresp},
		ProtocolVersion: protocolVersion,
	}
}

func pubackPacket(protocolVersion byte, packetID uint16) *packets.Packet {
	return &packets.Packet{
		FixedHeader:     packets.FixedHeader{Type: packets.Puback},
		ProtocolVersion: protocolVersion,
		PacketID:        packetID,
		ReasonCode:      packets.CodeSuccess.Code,
	}
}

// trackingReader remembers the last I/O error so that a failed length decode
// can be attributed to the connection rather than to the frame.
type trackingReader struct {
	r   *bufio.Reader
	err error
}

func (t *trackingReader) ReadByte() (byte, error) {
	b, err := t.r.ReadByte()
	if err != nil {
		t.err = err
	}
	return b, err
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil {
		t.err = err
	}
	return n, err
}

// unexpectedEOF reports a stream that ended inside a packet.
func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
