package arrow

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// Column indexes of TrialSchema.
const (
	colSweep = iota
	colProtocol
	colWindowSize
	colLossProbability
	colPayloadBytes
	colPacketsSent
	colEfficiency
	colElapsedSeconds
	colIntact
)

// TrialSchema returns the Arrow schema for a throughput trial.
//
// Fields:
//   - sweep: string - "window" or "loss"
//   - protocol: string - ARQ protocol name
//   - window_size: int64 - sender window
//   - loss_probability: float64 - receiver-side loss probability
//   - payload_bytes: int64 - bytes in the transferred message
//   - packets_sent: int64 - packets transmitted, retransmissions included
//   - efficiency: float64 - payload_bytes / packets_sent
//   - elapsed_seconds: float64 - wall-clock transfer time
//   - intact: bool - whether the receiver reassembled the payload exactly
func TrialSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "sweep", Type: arrow.BinaryTypes.String},
			{Name: "protocol", Type: arrow.BinaryTypes.String},
			{Name: "window_size", Type: arrow.PrimitiveTypes.Int64},
			{Name: "loss_probability", Type: arrow.PrimitiveTypes.Float64},
			{Name: "payload_bytes", Type: arrow.PrimitiveTypes.Int64},
			{Name: "packets_sent", Type: arrow.PrimitiveTypes.Int64},
			{Name: "efficiency", Type: arrow.PrimitiveTypes.Float64},
			{Name: "elapsed_seconds", Type: arrow.PrimitiveTypes.Float64},
			{Name: "intact", Type: arrow.FixedWidthTypes.Boolean},
		},
		nil,
	)
}
