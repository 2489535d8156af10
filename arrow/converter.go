package arrow

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
)

// TrialRow is one throughput measurement.
type TrialRow struct {
	Sweep           string  `json:"sweep"`
	Protocol        string  `json:"protocol"`
	WindowSize      int64   `json:"window_size"`
	LossProbability float64 `json:"loss_probability"`
	PayloadBytes    int64   `json:"payload_bytes"`
	PacketsSent     int64   `json:"packets_sent"`
	Efficiency      float64 `json:"efficiency"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	Intact          bool    `json:"intact"`
}

// Converter handles conversion between trial rows and Arrow records.
type Converter struct {
	allocator memory.Allocator
	schema    *arrow.Schema
}

// NewConverter creates a new Converter with the default memory allocator.
func NewConverter() *Converter {
	return &Converter{
		allocator: memory.DefaultAllocator,
		schema:    TrialSchema(),
	}
}

// TrialsToRecord converts rows to an Arrow record. The caller releases it.
func (c *Converter) TrialsToRecord(rows []TrialRow) (arrow.Record, error) {
	if len(rows) == 0 {
		return nil, errors.New("empty trials slice")
	}

	builder := array.NewRecordBuilder(c.allocator, c.schema)
	defer builder.Release()

	sweep := builder.Field(colSweep).(*array.StringBuilder)
	protocol := builder.Field(colProtocol).(*array.StringBuilder)
	window := builder.Field(colWindowSize).(*array.Int64Builder)
	loss := builder.Field(colLossProbability).(*array.Float64Builder)
	payload := builder.Field(colPayloadBytes).(*array.Int64Builder)
	sent := builder.Field(colPacketsSent).(*array.Int64Builder)
	efficiency := builder.Field(colEfficiency).(*array.Float64Builder)
	elapsed := builder.Field(colElapsedSeconds).(*array.Float64Builder)
	intact := builder.Field(colIntact).(*array.BooleanBuilder)

	for _, row := range rows {
		sweep.Append(row.Sweep)
		protocol.Append(row.Protocol)
		window.Append(row.WindowSize)
		loss.Append(row.LossProbability)
		payload.Append(row.PayloadBytes)
		sent.Append(row.PacketsSent)
		efficiency.Append(row.Efficiency)
		elapsed.Append(row.ElapsedSeconds)
		intact.Append(row.Intact)
	}

	return builder.NewRecord(), nil
}

// RecordToTrials converts an Arrow record written by TrialsToRecord back to
// rows.
func (c *Converter) RecordToTrials(record arrow.Record) ([]TrialRow, error) {
	if record == nil || record.NumRows() == 0 {
		return nil, nil
	}
	if !record.Schema().Equal(c.schema) {
		return nil, errors.Errorf("unexpected schema: %s", record.Schema())
	}

	sweep := record.Column(colSweep).(*array.String)
	protocol := record.Column(colProtocol).(*array.String)
	window := record.Column(colWindowSize).(*array.Int64)
	loss := record.Column(colLossProbability).(*array.Float64)
	payload := record.Column(colPayloadBytes).(*array.Int64)
	sent := record.Column(colPacketsSent).(*array.Int64)
	efficiency := record.Column(colEfficiency).(*array.Float64)
	elapsed := record.Column(colElapsedSeconds).(*array.Float64)
	intact := record.Column(colIntact).(*array.Boolean)

	rows := make([]TrialRow, record.NumRows())
	for i := range rows {
		rows[i] = TrialRow{
			Sweep:           sweep.Value(i),
			Protocol:        protocol.Value(i),
			WindowSize:      window.Value(i),
			LossProbability: loss.Value(i),
			PayloadBytes:    payload.Value(i),
			PacketsSent:     sent.Value(i),
			Efficiency:      efficiency.Value(i),
			ElapsedSeconds:  elapsed.Value(i),
			Intact:          intact.Value(i),
		}
	}
	return rows, nil
}
