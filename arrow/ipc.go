package arrow

import (
	"bytes"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
)

// IPCWriter writes Arrow records in the IPC stream format.
type IPCWriter struct {
	allocator memory.Allocator
	converter *Converter
}

// NewIPCWriter creates a new IPCWriter.
func NewIPCWriter() *IPCWriter {
	return &IPCWriter{
		allocator: memory.DefaultAllocator,
		converter: NewConverter(),
	}
}

// SerializeToIPC serializes an Arrow Record to IPC bytes.
func (w *IPCWriter) SerializeToIPC(record arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := w.writeRecords(&buf, []arrow.Record{record}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeFromIPC deserializes the first record of IPC bytes. The caller
// releases it.
func (w *IPCWriter) DeserializeFromIPC(data []byte) (arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(w.allocator))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create reader")
	}
	defer reader.Release()

	if !reader.Next() {
		if reader.Err() != nil {
			return nil, reader.Err()
		}
		return nil, errors.New("no records in IPC data")
	}

	record := reader.Record()
	record.Retain()
	return record, nil
}

// WriteTrials writes rows to out as a single-batch IPC stream.
func (w *IPCWriter) WriteTrials(out io.Writer, rows []TrialRow) error {
	record, err := w.converter.TrialsToRecord(rows)
	if err != nil {
		return err
	}
	defer record.Release()
	return w.writeRecords(out, []arrow.Record{record})
}

// ReadTrials reads every batch of an IPC stream written by WriteTrials.
func (w *IPCWriter) ReadTrials(in io.Reader) ([]TrialRow, error) {
	reader, err := ipc.NewReader(in, ipc.WithAllocator(w.allocator), ipc.WithSchema(TrialSchema()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create reader")
	}
	defer reader.Release()

	var rows []TrialRow
	for reader.Next() {
		batch, err := w.converter.RecordToTrials(reader.Record())
		if err != nil {
			return nil, err
		}
		rows = append(rows, batch...)
	}
	if reader.Err() != nil {
		return nil, errors.Wrap(reader.Err(), "read trials")
	}
	return rows, nil
}

func (w *IPCWriter) writeRecords(out io.Writer, records []arrow.Record) error {
	if len(records) == 0 {
		return errors.New("no records to serialize")
	}

	writer := ipc.NewWriter(out, ipc.WithSchema(records[0].Schema()), ipc.WithAllocator(w.allocator))
	defer writer.Close()

	for i, record := range records {
		if err := writer.Write(record); err != nil {
			return errors.Wrapf(err, "failed to write record %d", i)
		}
	}
	return errors.Wrap(writer.Close(), "failed to close writer")
}
