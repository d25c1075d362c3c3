package arrow

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var (
	ErrNoRecords       = errors.New("no records in IPC data")
	ErrTooManyRecords  = errors.New("too many records in IPC data")
	ErrSchemaMismatch  = errors.New("IPC schema mismatch")
	ErrIPCDataTooLarge = errors.New("IPC data too large")
)

// StreamCodec serializes record batches to Arrow IPC streams and reads them
// back, enforcing an expected schema and size limits on the read side.
type StreamCodec struct {
	allocator  memory.Allocator
	schema     *arrow.Schema
	maxBytes   int
	maxRecords int
}

// NewStreamCodec creates a codec for streams of the given schema.
func NewStreamCodec(schema *arrow.Schema, maxBytes, maxRecords int) *StreamCodec {
	return &StreamCodec{
		allocator:  memory.DefaultAllocator,
		schema:     schema,
		maxBytes:   maxBytes,
		maxRecords: maxRecords,
	}
}

// Schema returns the expected stream schema.
func (c *StreamCodec) Schema() *arrow.Schema {
	return c.schema
}

// Encode writes records as one IPC stream.
func (c *StreamCodec) Encode(records ...arrow.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(c.schema), ipc.WithAllocator(c.allocator))
	defer writer.Close()

	for i, record := range records {
		if !record.Schema().Equal(c.schema) {
			return nil, fmt.Errorf("%w: record %d", ErrSchemaMismatch, i)
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads every record of an IPC stream. The caller releases them.
func (c *StreamCodec) Decode(data []byte) ([]arrow.Record, error) {
	if c.maxBytes > 0 && len(data) > c.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrIPCDataTooLarge, len(data))
	}

	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(c.allocator), ipc.WithSchema(c.schema))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	var records []arrow.Record
	release := func() {
		for _, r := range records {
			r.Release()
		}
	}

	for reader.Next() {
		if c.maxRecords > 0 && len(records) >= c.maxRecords {
			release()
			return nil, ErrTooManyRecords
		}
		record := reader.Record()
		record.Retain()
		records = append(records, record)
	}
	if err := reader.Err(); err != nil {
		release()
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}
