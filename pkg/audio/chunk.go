package audio

import "time"

// Direction tags a chunk with which way it is flowing through the bridge.
type Direction int

const (
	// DirectionInbound is audio from the caller toward the agent.
	DirectionInbound Direction = iota
	// DirectionOutbound is synthesized audio toward the caller.
	DirectionOutbound
)

// String returns a human-readable direction.
func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return "inbound"
	case DirectionOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Chunk is one timestamped slice of audio with a monotonically increasing
// sequence number. Immutable once created; ownership transfers from producer
// to consumer through a bounded queue.
type Chunk struct {
	Seq       int64
	Direction Direction
	At        time.Time
	Data      []byte
}
