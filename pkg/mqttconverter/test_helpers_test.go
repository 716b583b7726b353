package mqttconverter_test

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/mapping"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/messagepipeline"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// ====================================================================================
// Fakes and a minimal MQTT test client shared by the session and server tests.
// ====================================================================================

// fakeProducer stands in for a Kafka producer. Sends complete on a separate
// goroutine with sendErr, unless hold is set, in which case they wait for release.
type fakeProducer struct {
	mu      sync.Mutex
	records []*messagepipeline.OutboundRecord
	sendErr error
	hold    bool
	pending []messagepipeline.CompletionFunc
}

func (f *fakeProducer) Produce(_ context.Context, rec *messagepipeline.OutboundRecord, onComplete messagepipeline.CompletionFunc) {
	f.mu.Lock()
	f.records = append(f.records, rec)
	if f.hold {
		f.pending = append(f.pending, onComplete)
		f.mu.Unlock()
		return
	}
	err := f.sendErr
	f.mu.Unlock()
	go onComplete(err)
}

func (f *fakeProducer) Close(_ context.Context) error {
	return nil
}

func (f *fakeProducer) release(err error) {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, onComplete := range pending {
		onComplete(err)
	}
}

func (f *fakeProducer) produced() []*messagepipeline.OutboundRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*messagepipeline.OutboundRecord(nil), f.records...)
}

// bridgeFixture wires a real mapper and dispatcher over fake producers.
type bridgeFixture struct {
	noAck      *fakeProducer
	ackOne     *fakeProducer
	dispatcher *messagepipeline.Dispatcher
	mapper     mapping.Mapper
}

func newBridgeFixture(t *testing.T, rules []mapping.Rule) *bridgeFixture {
	t.Helper()
	mapper, err := mapping.NewPlaceholderMapper(rules, "messages_default")
	require.NoError(t, err)

	f := &bridgeFixture{noAck: &fakeProducer{}, ackOne: &fakeProducer{}, mapper: mapper}
	f.dispatcher, err = messagepipeline.NewDispatcher(f.noAck, f.ackOne, nil, zerolog.Nop())
	require.NoError(t, err)
	return f
}

// sensorRules are the rules used by the end-to-end scenarios.
func sensorRules() []mapping.Rule {
	return []mapping.Rule{
		{MQTTTopic: "sensors/+/data", KafkaTopic: "sensor_data"},
		{MQTTTopic: "sensors/#", KafkaTopic: "sensor_others"},
		{MQTTTopic: "building/{building}/room/{room}", KafkaTopic: "building_{building}", KafkaKey: mapping.Key("{room}")},
		{MQTTTopic: "floors/{floor}/#", KafkaTopic: "floors", KafkaKey: mapping.Key("{room}")},
	}
}

// testClient speaks just enough MQTT 3.1.1 to drive a session.
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	t.Helper()
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(pk *packets.Packet) {
	c.t.Helper()
	pk.ProtocolVersion = 4
	var buf bytes.Buffer
	var err error
	switch pk.FixedHeader.Type {
	case packets.Connect:
		err = pk.ConnectEncode(&buf)
	case packets.Publish:
		err = pk.PublishEncode(&buf)
	case packets.Pingreq:
		err = pk.PingreqEncode(&buf)
	case packets.Disconnect:
		err = pk.DisconnectEncode(&buf)
	case packets.Puback:
		err = pk.PubackEncode(&buf)
	}
	require.NoError(c.t, err)
	c.sendRaw(buf.Bytes())
}

func (c *testClient) sendRaw(b []byte) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := c.conn.Write(b)
	require.NoError(c.t, err)
}

func (c *testClient) connect(clientID string) {
	c.t.Helper()
	c.send(&packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Connect},
		Connect: packets.ConnectParams{
			ProtocolName:     []byte("MQTT"),
			ClientIdentifier: clientID,
			Clean:            true,
			Keepalive:        30,
		},
	})
	connack := c.expect(packets.Connack)
	require.False(c.t, connack.SessionPresent)
	require.Equal(c.t, packets.CodeSuccess.Code, connack.ReasonCode)
}

func (c *testClient) publish(topic string, qos byte, packetID uint16, dup bool, payload string) {
	c.t.Helper()
	c.send(&packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Publish, Qos: qos, Dup: dup},
		TopicName:   topic,
		PacketID:    packetID,
		Payload:     []byte(payload),
	})
}

// read returns the next packet from the session, or an error such as io.EOF
// once the session has closed the connection.
func (c *testClient) read(timeout time.Duration) (*packets.Packet, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	b, err := c.r.ReadByte()
	if err != nil {
		return nil, err
	}
	fh := packets.FixedHeader{}
	if err := fh.Decode(b); err != nil {
		return nil, err
	}
	rem, _, err := packets.DecodeLength(c.r)
	if err != nil {
		return nil, err
	}
	fh.Remaining = rem
	buf := make([]byte, rem)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, err
	}

	pk := &packets.Packet{FixedHeader: fh, ProtocolVersion: 4}
	switch fh.Type {
	case packets.Connack:
		err = pk.ConnackDecode(buf)
	case packets.Puback:
		err = pk.PubackDecode(buf)
	case packets.Pingresp:
		err = pk.PingrespDecode(buf)
	}
	return pk, err
}

func (c *testClient) expect(packetType byte) *packets.Packet {
	c.t.Helper()
	pk, err := c.read(2 * time.Second)
	require.NoError(c.t, err)
	require.Equal(c.t, packetType, pk.FixedHeader.Type)
	return pk
}

// expectNothing asserts that no packet arrives within the window.
func (c *testClient) expectNothing(window time.Duration) {
	c.t.Helper()
	pk, err := c.read(window)
	if err == nil {
		c.t.Fatalf("expected no packet, received type %d", pk.FixedHeader.Type)
	}
	var netErr net.Error
	require.ErrorAs(c.t, err, &netErr, "expected a read timeout, got %v", err)
	require.True(c.t, netErr.Timeout())
}

// expectClosed asserts that the session closes the connection.
func (c *testClient) expectClosed() {
	c.t.Helper()
	_, err := c.read(2 * time.Second)
	require.ErrorIs(c.t, err, io.EOF)
}
