// Package data defines the Apache Arrow layout of vector frames on the wire.
package data

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
)

// FrameSchemaVersion is stored in the schema metadata of every frame batch.
const FrameSchemaVersion = "1"

// FrameSchema returns the Arrow schema for a batch of vectors.
//
// Fields:
//   - nonce: fixed_size_binary[16] - per-message nonce
//   - re: fixed_size_list<float64>[5] - real parts of the components
//   - im: fixed_size_list<float64>[5] - imaginary parts of the components
func FrameSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "nonce", Type: &arrow.FixedSizeBinaryType{ByteWidth: core.NonceSize}},
			{Name: "re", Type: arrow.FixedSizeListOf(core.Dimension, arrow.PrimitiveTypes.Float64)},
			{Name: "im", Type: arrow.FixedSizeListOf(core.Dimension, arrow.PrimitiveTypes.Float64)},
		},
		&frameMetadata,
	)
}

var frameMetadata = arrow.NewMetadata(
	[]string{"omega.frame.version"},
	[]string{FrameSchemaVersion},
)
