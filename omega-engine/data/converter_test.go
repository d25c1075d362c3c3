package data

import (
	"errors"
	"math"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
)

func sampleVectors(n int) []core.Vector {
	vs := make([]core.Vector, n)
	for i := range vs {
		for j := range vs[i].Components {
			vs[i].Components[j] = complex(float64(i)+float64(j)/10, -float64(j))
		}
		vs[i].Nonce[0] = byte(i)
		vs[i].Nonce[15] = 0xAA
	}
	return vs
}

func TestFrameSchema(t *testing.T) {
	schema := FrameSchema()

	if schema.NumFields() != 3 {
		t.Fatalf("Expected 3 fields, got %d", schema.NumFields())
	}
	for i, name := range []string{"nonce", "re", "im"} {
		if schema.Field(i).Name != name {
			t.Errorf("Field %d: expected %s, got %s", i, name, schema.Field(i).Name)
		}
	}
	if v, ok := schema.Metadata().GetValue("omega.frame.version"); !ok || v != FrameSchemaVersion {
		t.Errorf("Expected frame version metadata %q, got %q", FrameSchemaVersion, v)
	}
}

func TestVectorsRecordRoundTrip(t *testing.T) {
	c := NewConverter()
	in := sampleVectors(3)

	record, err := c.VectorsToRecord(in)
	if err != nil {
		t.Fatalf("VectorsToRecord failed: %v", err)
	}
	defer record.Release()

	if record.NumRows() != 3 {
		t.Fatalf("Expected 3 rows, got %d", record.NumRows())
	}

	out, err := c.RecordToVectors(record)
	if err != nil {
		t.Fatalf("RecordToVectors failed: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("Row %d: expected %+v, got %+v", i, in[i], out[i])
		}
	}
}

func TestFramesIPCRoundTrip(t *testing.T) {
	c := NewConverter()
	in := sampleVectors(2)
	in[1].Components[4] = complex(math.Inf(1), math.NaN())

	data, err := c.EncodeFrames(in)
	if err != nil {
		t.Fatalf("EncodeFrames failed: %v", err)
	}
	out, err := c.DecodeFrames(data)
	if err != nil {
		t.Fatalf("DecodeFrames failed: %v", err)
	}
	if len(out) != 2 || out[0] != in[0] || out[1].Nonce != in[1].Nonce {
		t.Fatalf("Round trip mismatch: %+v", out)
	}
	// Non-finite values survive the wire; rejecting them is the codec's job.
	if !math.IsInf(real(out[1].Components[4]), 1) {
		t.Errorf("Expected +Inf to survive, got %v", out[1].Components[4])
	}
}

func TestVectorsToRecordLimits(t *testing.T) {
	c := NewConverter()
	if _, err := c.VectorsToRecord(nil); err == nil {
		t.Error("Expected error for empty batch")
	}
	if _, err := c.VectorsToRecord(make([]core.Vector, MaxFramesPerBatch+1)); err == nil {
		t.Error("Expected error for oversized batch")
	}
}

func TestRecordToVectorsRejectsForeignSchema(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Int64}}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).Append(1)
	record := b.NewRecord()
	defer record.Release()

	_, err := NewConverter().RecordToVectors(record)
	if !errors.Is(err, core.ErrMalformedVector) {
		t.Errorf("Expected ErrMalformedVector, got %v", err)
	}
}

func TestRecordToVectorsRejectsNulls(t *testing.T) {
	c := NewConverter()
	b := array.NewRecordBuilder(memory.DefaultAllocator, c.schema)
	defer b.Release()

	b.Field(0).(*array.FixedSizeBinaryBuilder).Append(make([]byte, core.NonceSize))
	b.Field(1).(*array.FixedSizeListBuilder).AppendNull()
	im := b.Field(2).(*array.FixedSizeListBuilder)
	im.Append(true)
	im.ValueBuilder().(*array.Float64Builder).AppendValues(make([]float64, core.Dimension), nil)
	record := b.NewRecord()
	defer record.Release()

	if _, err := c.RecordToVectors(record); !errors.Is(err, core.ErrMalformedVector) {
		t.Errorf("Expected ErrMalformedVector, got %v", err)
	}
}

func TestDecodeFramesGarbage(t *testing.T) {
	if _, err := NewConverter().DecodeFrames([]byte("garbage")); !errors.Is(err, core.ErrMalformedVector) {
		t.Errorf("Expected ErrMalformedVector, got %v", err)
	}
}

// FuzzDecodeFrames feeds arbitrary bytes to the frame decoder.
// Run with: go test -fuzz=FuzzDecodeFrames -fuzztime=30s ./omega-engine/data/
func FuzzDecodeFrames(f *testing.F) {
	c := NewConverter()
	valid, err := c.EncodeFrames(sampleVectors(1))
	if err != nil {
		f.Fatalf("EncodeFrames failed: %v", err)
	}
	f.Add(valid)
	f.Add([]byte{})
	f.Add([]byte("garbage"))
	f.Add(valid[:len(valid)/2])

	f.Fuzz(func(t *testing.T, data []byte) {
		vectors, err := c.DecodeFrames(data)
		if err == nil && len(vectors) > MaxFramesPerBatch {
			t.Fatalf("decoded %d vectors, limit %d", len(vectors), MaxFramesPerBatch)
		}
	})
}
