package testutil

import (
	"bytes"
	"testing"

	"boxstore/internal/box"
)

// DataBlock is an inline block holding s.
func DataBlock(s string) box.Block {
	return box.Block{Data: []byte(s)}
}

// RefBlock refers to block n of the file a patch is made against.
func RefBlock(n int64) box.Block {
	return box.Block{IsRef: true, OtherBlock: n}
}

// EncodedFile builds a complete encoded file in stored order.
func EncodedFile(t *testing.T, blocks ...box.Block) []byte {
	t.Helper()
	return EncodedPatch(t, 0, blocks...)
}

// EncodedPatch builds an encoded file against object other in stored order.
func EncodedPatch(t *testing.T, other box.ObjectID, blocks ...box.Block) []byte {
	t.Helper()
	var buf bytes.Buffer
	hdr := box.FileHeader{
		ModificationTime:  1000,
		MaxBlockClearSize: 4096,
		Name:              []byte("encoded-name"),
	}
	if err := box.WriteEncodedFile(&buf, hdr, other, blocks); err != nil {
		t.Fatalf("WriteEncodedFile() error = %v", err)
	}
	return buf.Bytes()
}

// DecodedData reads a stream-order file and returns its block data
// concatenated. It fails the test if any block is a reference.
func DecodedData(t *testing.T, stream []byte) string {
	t.Helper()
	_, ix, blocks, err := box.DecodeStreamOrder(bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("DecodeStreamOrder() error = %v", err)
	}
	var out bytes.Buffer
	for i, b := range blocks {
		if ix.EncodedSizes[i] < 0 {
			t.Fatalf("block %d is a reference in a complete file", i)
		}
		out.Write(b)
	}
	return out.String()
}

func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }
