package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// AckLedger remembers which QoS 1 publishes have already been written to Kafka
// and acknowledged, so that a retransmission can be acknowledged again without
// producing a duplicate record.
type AckLedger interface {
	// Record stores the digest of an acknowledged publish under key.
	Record(ctx context.Context, key, digest string) error
	// Lookup returns the digest stored under key, if any.
	Lookup(ctx context.Context, key string) (digest string, found bool, err error)
	Close() error
}

// AckKey identifies a publish within a client's packet identifier space.
func AckKey(clientID string, packetID uint16) string {
	return fmt.Sprintf("%s/%d", clientID, packetID)
}

// PublishDigest fingerprints a publish so that a reused packet identifier
// carrying a different message is not mistaken for a retransmission.
func PublishDigest(topic string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(topic))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
