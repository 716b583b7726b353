package mqttconverter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/cache"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/mapping"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/messagepipeline"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/metrics"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/rs/zerolog"
)

// ledgerTimeout bounds each acknowledgment ledger round trip.
const ledgerTimeout = 2 * time.Second

// ErrProtocolViolation is returned when a client sends a packet that is not
// valid in the session's current state.
var ErrProtocolViolation = errors.New("MQTT protocol violation")

var (
	errClientDisconnected = errors.New("client sent DISCONNECT")
	errSessionClosed      = errors.New("session closed")
	errKeepAliveExpired   = errors.New("keep-alive expired")
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Dependencies are the collaborators shared by every session of a server.
type Dependencies struct {
	Mapper     mapping.Mapper
	Dispatcher messagepipeline.RecordDispatcher
	// Ledger enables acknowledgment of QoS 1 retransmissions without a new
	// Kafka send. It may be nil.
	Ledger cache.AckLedger
	// Metrics may be nil.
	Metrics *metrics.Bridge
}

func (d Dependencies) validate() error {
	if d.Mapper == nil {
		return errors.New("mapper cannot be nil")
	}
	if d.Dispatcher == nil {
		return errors.New("dispatcher cannot be nil")
	}
	return nil
}

// SessionConfig holds the per-connection limits.
type SessionConfig struct {
	MaxPacketSize  int
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

// Session is the protocol state machine for one MQTT client connection.
//
// Packets are read and handled in arrival order on the goroutine running
// Serve. Kafka completion callbacks may write PUBACKs concurrently from other
// goroutines; every write goes through a single mutex-guarded path.
type Session struct {
	id     string
	conn   net.Conn
	reader *PacketReader
	deps   Dependencies
	cfg    SessionConfig
	logger zerolog.Logger

	state atomic.Int32

	// Set while handling CONNECT, before any publish is dispatched.
	clientID  string
	keepAlive time.Duration

	writeMu         sync.Mutex
	protocolVersion byte

	closeOnce sync.Once
}

// NewSession creates a session for an accepted connection.
func NewSession(id string, conn net.Conn, deps Dependencies, cfg SessionConfig, logger zerolog.Logger) (*Session, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	remote := "unknown"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Session{
		id:     id,
		conn:   conn,
		reader: NewPacketReader(conn, cfg.MaxPacketSize),
		deps:   deps,
		cfg:    cfg,
		logger: logger.With().
			Str("component", "Session").
			Str("connection_id", id).
			Str("remote_addr", remote).
			Logger(),
	}, nil
}

// ID returns the connection identifier assigned by the server.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Serve reads and handles packets until the client disconnects, the
// connection fails or the session is closed. It always closes the session
// before returning. A nil error means the connection ended normally.
func (s *Session) Serve(ctx context.Context) error {
	defer s.Close()

	for {
		s.extendReadDeadline()
		pk, err := s.reader.ReadPacket()
		if err != nil {
			return s.readFailed(err)
		}
		if err := s.Handle(ctx, pk); err != nil {
			if errors.Is(err, errClientDisconnected) {
				return nil
			}
			if s.State() == StateClosed {
				return nil
			}
			s.logger.Error().Err(err).Msg("Closing connection after processing error.")
			return err
		}
	}
}

// Handle processes one decoded packet. A non-nil error means the connection
// must be closed.
func (s *Session) Handle(ctx context.Context, pk *packets.Packet) error {
	if s.State() == StateClosed {
		return errSessionClosed
	}
	if pk.FixedHeader.Type == packets.Connect {
		return s.handleConnect(pk)
	}
	if s.State() != StateConnected {
		return fmt.Errorf("%w: packet type %d received before CONNECT", ErrProtocolViolation, pk.FixedHeader.Type)
	}

	switch pk.FixedHeader.Type {
	case packets.Pingreq:
		return s.write(pingrespPacket)
	case packets.Publish:
		return s.handlePublish(ctx, pk)
	case packets.Disconnect:
		s.logger.Info().Msg("Client disconnected.")
		return errClientDisconnected
	default:
		s.logger.Debug().Uint8("packet_type", pk.FixedHeader.Type).Msg("Ignoring MQTT packet type not handled by the bridge.")
		return nil
	}
}

// Close closes the connection. It is safe to call more than once and from
// any goroutine; later writes fail.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		err = s.conn.Close()
	})
	return err
}

func (s *Session) handleConnect(pk *packets.Packet) error {
	if s.State() != StateDisconnected {
		return fmt.Errorf("%w: second CONNECT on the same connection", ErrProtocolViolation)
	}

	s.clientID = pk.Connect.ClientIdentifier
	s.keepAlive = time.Duration(pk.Connect.Keepalive) * time.Second
	s.reader.SetProtocolVersion(pk.ProtocolVersion)
	s.writeMu.Lock()
	s.protocolVersion = pk.ProtocolVersion
	s.writeMu.Unlock()

	if err := s.write(connackPacket); err != nil {
		return fmt.Errorf("writing CONNACK: %w", err)
	}
	s.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnected))

	s.logger = s.logger.With().Str("client_id", s.clientID).Logger()
	s.logger.Info().
		Uint8("protocol_version", pk.ProtocolVersion).
		Dur("keep_alive", s.keepAlive).
		Msg("Client connected.")
	return nil
}

func (s *Session) handlePublish(ctx context.Context, pk *packets.Packet) error {
	req := NewPublishRequest(pk)
	s.deps.Metrics.PublishReceived(req.QoS.String())

	result, err := s.deps.Mapper.Map(req.Topic)
	if err != nil {
		var mappingErr *mapping.MappingError
		if errors.As(err, &mappingErr) {
			s.deps.Metrics.MappingFailed()
			s.logger.Error().Err(err).Str("mqtt_topic", req.Topic).Msg("Failed to map MQTT topic, message not forwarded.")
			return nil
		}
		return fmt.Errorf("mapping topic %q: %w", req.Topic, err)
	}
	s.logger.Debug().
		Str("mqtt_topic", req.Topic).
		Str("kafka_topic", result.KafkaTopic).
		Bool("has_key", result.KafkaKey != nil).
		Msg("Mapped MQTT topic.")

	if req.QoS == messagepipeline.AtLeastOnce && s.acknowledgeRetransmission(ctx, req) {
		return nil
	}

	rec := ToOutboundRecord(req, result)
	if req.QoS == messagepipeline.AtLeastOnce {
		s.attachAcknowledgment(rec, req)
	}

	if err := s.deps.Dispatcher.Dispatch(ctx, req.QoS, rec); err != nil {
		if errors.Is(err, messagepipeline.ErrUnsupportedQoS) {
			s.deps.Metrics.UnsupportedQoS()
			s.logger.Warn().
				Str("mqtt_topic", req.Topic).
				Str("qos", req.QoS.String()).
				Msg("QoS level is not supported yet, message dropped.")
			return nil
		}
		return fmt.Errorf("dispatching publish: %w", err)
	}
	return nil
}

// attachAcknowledgment wires the record's handles to this session: a confirmed
// send writes PUBACK with the publish's packet identifier, a failed one leaves
// the client to retransmit.
func (s *Session) attachAcknowledgment(rec *messagepipeline.OutboundRecord, req PublishRequest) {
	packetID := req.PacketID
	clientID := s.clientID
	logger := s.logger

	var digest string
	if s.deps.Ledger != nil && clientID != "" {
		digest = cache.PublishDigest(req.Topic, req.Payload)
	}

	rec.Ack = func() {
		if digest != "" {
			s.recordAcknowledgment(clientID, packetID, digest)
		}
		if err := s.writePuback(packetID); err != nil {
			logger.Warn().Err(err).Uint16("packet_id", packetID).Msg("Could not write PUBACK, client connection is gone.")
			return
		}
		logger.Debug().Uint16("packet_id", packetID).Msg("PUBACK sent.")
	}
	rec.Nack = func(err error) {
		logger.Warn().Err(err).Uint16("packet_id", packetID).Msg("Kafka send failed, PUBACK withheld.")
	}
}

// acknowledgeRetransmission answers a QoS 1 retransmission whose original was
// already written to Kafka. It reports whether the publish was handled.
func (s *Session) acknowledgeRetransmission(ctx context.Context, req PublishRequest) bool {
	if !req.Duplicate || s.deps.Ledger == nil || s.clientID == "" {
		return false
	}

	lookupCtx, cancel := context.WithTimeout(ctx, ledgerTimeout)
	defer cancel()
	digest, found, err := s.deps.Ledger.Lookup(lookupCtx, cache.AckKey(s.clientID, req.PacketID))
	if err != nil {
		s.logger.Warn().Err(err).Uint16("packet_id", req.PacketID).Msg("Acknowledgment ledger lookup failed, forwarding retransmission.")
		return false
	}
	if !found || digest != cache.PublishDigest(req.Topic, req.Payload) {
		return false
	}

	if err := s.writePuback(req.PacketID); err != nil {
		s.logger.Warn().Err(err).Uint16("packet_id", req.PacketID).Msg("Could not write PUBACK for retransmission.")
		return true
	}
	s.deps.Metrics.DuplicateAcknowledged()
	s.logger.Info().
		Str("mqtt_topic", req.Topic).
		Uint16("packet_id", req.PacketID).
		Msg("Retransmission already acknowledged, PUBACK re-sent without a new Kafka send.")
	return true
}

func (s *Session) recordAcknowledgment(clientID string, packetID uint16, digest string) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	if err := s.deps.Ledger.Record(ctx, cache.AckKey(clientID, packetID), digest); err != nil {
		s.logger.Warn().Err(err).Uint16("packet_id", packetID).Msg("Failed to record acknowledgment in ledger.")
	}
}

func (s *Session) writePuback(packetID uint16) error {
	err := s.write(func(protocolVersion byte) *packets.Packet {
		return pubackPacket(protocolVersion, packetID)
	})
	if err == nil {
		s.deps.Metrics.PubackSent()
	}
	return err
}

// write encodes and sends one packet built for the negotiated protocol version.
func (s *Session) write(build func(protocolVersion byte) *packets.Packet) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() == StateClosed {
		return errSessionClosed
	}
	b, err := encodePacket(build(s.protocolVersion))
	if err != nil {
		return err
	}
	if s.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	_, err = s.conn.Write(b)
	return err
}

// extendReadDeadline allows ConnectTimeout for CONNECT and one and a half
// keep-alive periods between later packets. A zero keep-alive disables it.
func (s *Session) extendReadDeadline() {
	var timeout time.Duration
	switch s.State() {
	case StateDisconnected:
		timeout = s.cfg.ConnectTimeout
	case StateConnected:
		timeout = s.keepAlive + s.keepAlive/2
	}
	if timeout <= 0 {
		_ = s.conn.SetReadDeadline(time.Time{})
		return
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
}

func (s *Session) readFailed(err error) error {
	if s.State() == StateClosed || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		s.logger.Info().Msg("Client connection closed.")
		return nil
	}

	var decodeErr *ProtocolDecodeError
	if errors.As(err, &decodeErr) {
		s.logger.Error().Err(err).Msg("Failed to decode MQTT packet, closing connection.")
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.logger.Warn().Str("state", s.State().String()).Msg("Client sent nothing within its allowed interval, closing connection.")
		return errKeepAliveExpired
	}

	s.logger.Warn().Err(err).Msg("Failed to read from client connection.")
	return err
}
