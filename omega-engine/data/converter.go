package data

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	omegaarrow "github.com/VanDung-dev/OMEGA-Engine/arrow"
	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
)

const (
	// MaxFramesPerBatch bounds the vectors accepted in one decoded batch.
	MaxFramesPerBatch = 256

	// MaxFrameBytes bounds the size of one encoded batch.
	MaxFrameBytes = 64 * 1024
)

// Converter maps vectors to Arrow record batches and IPC bytes.
type Converter struct {
	allocator memory.Allocator
	schema    *arrow.Schema
	ipc       *omegaarrow.StreamCodec
}

// NewConverter creates a Converter for FrameSchema.
func NewConverter() *Converter {
	schema := FrameSchema()
	return &Converter{
		allocator: memory.DefaultAllocator,
		schema:    schema,
		ipc:       omegaarrow.NewStreamCodec(schema, MaxFrameBytes, 1),
	}
}

// VectorsToRecord builds one record batch with a row per vector.
func (c *Converter) VectorsToRecord(vectors []core.Vector) (arrow.Record, error) {
	if len(vectors) == 0 {
		return nil, errors.New("empty vector slice")
	}
	if len(vectors) > MaxFramesPerBatch {
		return nil, fmt.Errorf("batch of %d vectors exceeds %d", len(vectors), MaxFramesPerBatch)
	}

	builder := array.NewRecordBuilder(c.allocator, c.schema)
	defer builder.Release()

	nonceBuilder := builder.Field(0).(*array.FixedSizeBinaryBuilder)
	reBuilder := builder.Field(1).(*array.FixedSizeListBuilder)
	imBuilder := builder.Field(2).(*array.FixedSizeListBuilder)
	reValues := reBuilder.ValueBuilder().(*array.Float64Builder)
	imValues := imBuilder.ValueBuilder().(*array.Float64Builder)

	for _, v := range vectors {
		nonceBuilder.Append(v.Nonce[:])
		reBuilder.Append(true)
		imBuilder.Append(true)
		for _, comp := range v.Components {
			reValues.Append(real(comp))
			imValues.Append(imag(comp))
		}
	}

	return builder.NewRecord(), nil
}

// RecordToVectors reads vectors back from a record batch. Any structural
// violation wraps core.ErrMalformedVector.
func (c *Converter) RecordToVectors(record arrow.Record) ([]core.Vector, error) {
	if err := ValidateSchema(record, c.schema); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedVector, err)
	}
	rows := int(record.NumRows())
	if rows > MaxFramesPerBatch {
		return nil, fmt.Errorf("%w: %d rows exceeds %d", core.ErrMalformedVector, rows, MaxFramesPerBatch)
	}

	nonceCol, ok := record.Column(0).(*array.FixedSizeBinary)
	if !ok {
		return nil, fmt.Errorf("%w: column 0 (nonce) is not fixed-size binary", core.ErrMalformedVector)
	}
	reCol, ok := record.Column(1).(*array.FixedSizeList)
	if !ok {
		return nil, fmt.Errorf("%w: column 1 (re) is not a fixed-size list", core.ErrMalformedVector)
	}
	imCol, ok := record.Column(2).(*array.FixedSizeList)
	if !ok {
		return nil, fmt.Errorf("%w: column 2 (im) is not a fixed-size list", core.ErrMalformedVector)
	}
	reValues, ok := reCol.ListValues().(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("%w: re values are not float64", core.ErrMalformedVector)
	}
	imValues, ok := imCol.ListValues().(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("%w: im values are not float64", core.ErrMalformedVector)
	}

	vectors := make([]core.Vector, rows)
	for i := 0; i < rows; i++ {
		if nonceCol.IsNull(i) || reCol.IsNull(i) || imCol.IsNull(i) {
			return nil, fmt.Errorf("%w: null in row %d", core.ErrMalformedVector, i)
		}
		nonce := nonceCol.Value(i)
		if len(nonce) != core.NonceSize {
			return nil, fmt.Errorf("%w: nonce of %d bytes in row %d", core.ErrMalformedVector, len(nonce), i)
		}
		copy(vectors[i].Nonce[:], nonce)

		reStart, reEnd := reCol.ValueOffsets(i)
		imStart, imEnd := imCol.ValueOffsets(i)
		if reEnd-reStart != core.Dimension || imEnd-imStart != core.Dimension ||
			int(reEnd) > reValues.Len() || int(imEnd) > imValues.Len() {
			return nil, fmt.Errorf("%w: bad component offsets in row %d", core.ErrMalformedVector, i)
		}
		for j := 0; j < core.Dimension; j++ {
			ri, ii := int(reStart)+j, int(imStart)+j
			if reValues.IsNull(ri) || imValues.IsNull(ii) {
				return nil, fmt.Errorf("%w: null component in row %d", core.ErrMalformedVector, i)
			}
			vectors[i].Components[j] = complex(reValues.Value(ri), imValues.Value(ii))
		}
	}
	return vectors, nil
}

// EncodeFrames serializes vectors to one Arrow IPC stream.
func (c *Converter) EncodeFrames(vectors []core.Vector) ([]byte, error) {
	record, err := c.VectorsToRecord(vectors)
	if err != nil {
		return nil, err
	}
	defer record.Release()
	return c.ipc.Encode(record)
}

// DecodeFrames parses an IPC stream written by EncodeFrames.
func (c *Converter) DecodeFrames(data []byte) ([]core.Vector, error) {
	records, err := c.ipc.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedVector, err)
	}
	defer func() {
		for _, r := range records {
			r.Release()
		}
	}()
	return c.RecordToVectors(records[0])
}

// ValidateSchema checks that a record matches the expected schema.
func ValidateSchema(record arrow.Record, expected *arrow.Schema) error {
	if record == nil {
		return errors.New("record is nil")
	}

	actual := record.Schema()
	if actual.NumFields() != expected.NumFields() {
		return fmt.Errorf("field count mismatch: got %d, expected %d",
			actual.NumFields(), expected.NumFields())
	}

	for i := 0; i < actual.NumFields(); i++ {
		actualField := actual.Field(i)
		expectedField := expected.Field(i)

		if actualField.Name != expectedField.Name {
			return fmt.Errorf("field %d name mismatch: got %s, expected %s",
				i, actualField.Name, expectedField.Name)
		}
		if !arrow.TypeEqual(actualField.Type, expectedField.Type) {
			return fmt.Errorf("field %s type mismatch: got %s, expected %s",
				actualField.Name, actualField.Type, expectedField.Type)
		}
	}

	return nil
}
