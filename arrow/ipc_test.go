package arrow

import (
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Int64}}, nil)
}

func buildRecord(t *testing.T, schema *arrow.Schema, values ...int64) arrow.Record {
	t.Helper()
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).AppendValues(values, nil)
	return b.NewRecord()
}

func TestStreamCodecRoundTrip(t *testing.T) {
	codec := NewStreamCodec(testSchema(), 1<<20, 4)
	r1 := buildRecord(t, codec.Schema(), 1, 2, 3)
	defer r1.Release()
	r2 := buildRecord(t, codec.Schema(), 4)
	defer r2.Release()

	data, err := codec.Encode(r1, r2)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	records, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	defer func() {
		for _, r := range records {
			r.Release()
		}
	}()

	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].NumRows() != 3 || records[1].NumRows() != 1 {
		t.Errorf("Unexpected row counts %d, %d", records[0].NumRows(), records[1].NumRows())
	}
	if got := records[1].Column(0).(*array.Int64).Value(0); got != 4 {
		t.Errorf("Expected 4, got %d", got)
	}
}

func TestStreamCodecLimits(t *testing.T) {
	codec := NewStreamCodec(testSchema(), 1<<20, 1)
	r := buildRecord(t, codec.Schema(), 1)
	defer r.Release()

	data, err := codec.Encode(r, r)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := codec.Decode(data); !errors.Is(err, ErrTooManyRecords) {
		t.Errorf("Expected ErrTooManyRecords, got %v", err)
	}

	small := NewStreamCodec(testSchema(), 16, 0)
	if _, err := small.Decode(data); !errors.Is(err, ErrIPCDataTooLarge) {
		t.Errorf("Expected ErrIPCDataTooLarge, got %v", err)
	}

	if _, err := codec.Encode(); !errors.Is(err, ErrNoRecords) {
		t.Errorf("Expected ErrNoRecords, got %v", err)
	}
}

func TestStreamCodecSchemaMismatch(t *testing.T) {
	codec := NewStreamCodec(testSchema(), 0, 0)
	other := arrow.NewSchema([]arrow.Field{{Name: "y", Type: arrow.PrimitiveTypes.Int64}}, nil)
	r := buildRecord(t, other, 1)
	defer r.Release()

	if _, err := codec.Encode(r); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("Expected ErrSchemaMismatch, got %v", err)
	}

	foreign, err := NewStreamCodec(other, 0, 0).Encode(r)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := codec.Decode(foreign); err == nil {
		t.Error("Expected decode of foreign schema to fail")
	}
}

func FuzzStreamCodecDecode(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0xff, 0xff, 0xff, 0xff})
	f.Add([]byte("not arrow at all"))

	codec := NewStreamCodec(testSchema(), 1<<16, 8)
	f.Fuzz(func(t *testing.T, data []byte) {
		records, err := codec.Decode(data)
		if err == nil {
			for _, r := range records {
				r.Release()
			}
		}
	})
}
