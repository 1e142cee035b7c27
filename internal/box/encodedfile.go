package box

import (
	"bytes"
	"fmt"
	"io"
)

// Encoded file magics.
const (
	FileMagic  uint32 = 0x46494c45 // "FILE"
	IndexMagic uint32 = 0x49445832 // "IDX2"
)

const (
	fileHeaderFixedLen = 4 + 8 + 8 + 8 + 4 + 4
	indexFixedLen      = 4 + 8 + 8

	// maxStreamBlocks caps the block count read from a stream-order header.
	maxStreamBlocks = 1 << 24
)

// FileHeader is the leading section of an encoded file object.
type FileHeader struct {
	NumBlocks         int64
	ContainerID       ObjectID
	ModificationTime  Time
	MaxBlockClearSize uint32
	Options           uint32
	Name              []byte
	Attributes        []byte
}

func (h *FileHeader) encodedLen() int64 {
	return fileHeaderFixedLen + 4 + int64(len(h.Name)) + 4 + int64(len(h.Attributes))
}

func (h *FileHeader) write(ww *wireWriter) {
	ww.u32(FileMagic)
	ww.i64(h.NumBlocks)
	ww.i64(int64(h.ContainerID))
	ww.i64(int64(h.ModificationTime))
	ww.u32(h.MaxBlockClearSize)
	ww.u32(h.Options)
	ww.block(h.Name)
	ww.block(h.Attributes)
}

// BlockIndex lists the encoded size of every block. A negative size -n-1
// refers to block n of the object OtherFileID.
type BlockIndex struct {
	OtherFileID  ObjectID
	EncodedSizes []int64
}

func (ix *BlockIndex) encodedLen() int64 {
	return indexFixedLen + 8*int64(len(ix.EncodedSizes))
}

func (ix *BlockIndex) write(ww *wireWriter) {
	ww.u32(IndexMagic)
	ww.i64(int64(ix.OtherFileID))
	ww.i64(int64(len(ix.EncodedSizes)))
	for _, s := range ix.EncodedSizes {
		ww.i64(s)
	}
}

// Block is one block handed to WriteEncodedFile: either inline data, or a
// reference to block OtherBlock of the other file.
type Block struct {
	Data       []byte
	IsRef      bool
	OtherBlock int64
}

// WriteEncodedFile writes an encoded file in stored order. otherFileID must
// be non-zero when any block is a reference.
func WriteEncodedFile(w io.Writer, hdr FileHeader, otherFileID ObjectID, blocks []Block) error {
	hdr.NumBlocks = int64(len(blocks))
	ix := BlockIndex{OtherFileID: otherFileID, EncodedSizes: make([]int64, len(blocks))}
	for i, b := range blocks {
		if b.IsRef {
			if otherFileID == 0 {
				return fmt.Errorf("block %d references another file but no other file is set", i)
			}
			ix.EncodedSizes[i] = -b.OtherBlock - 1
		} else {
			if len(b.Data) == 0 {
				return fmt.Errorf("block %d is empty", i)
			}
			ix.EncodedSizes[i] = int64(len(b.Data))
		}
	}

	ww := newWireWriter(w)
	hdr.write(ww)
	for _, b := range blocks {
		if !b.IsRef {
			ww.write(b.Data)
		}
	}
	ix.write(ww)
	if ww.err != nil {
		return fmt.Errorf("writing encoded file: %w", ww.err)
	}
	return nil
}

// EncodedFile is a parsed view over a stored-order encoded file.
type EncodedFile struct {
	Header FileHeader
	Index  BlockIndex

	r          io.ReaderAt
	size       int64
	dataStart  int64
	indexStart int64
	offsets    []int64
}

// OpenEncodedFile parses and verifies the layout of a stored-order encoded
// file. Any structural problem is reported as ErrFileDoesNotVerify.
func OpenEncodedFile(r io.ReaderAt, size int64) (*EncodedFile, error) {
	fail := func(format string, args ...any) (*EncodedFile, error) {
		return nil, fmt.Errorf("%w: %s", ErrFileDoesNotVerify, fmt.Sprintf(format, args...))
	}

	wr := newWireReader(io.NewSectionReader(r, 0, size))
	if magic := wr.u32(); wr.err != nil || magic != FileMagic {
		return fail("bad file magic")
	}
	f := &EncodedFile{r: r, size: size}
	f.Header.NumBlocks = wr.i64()
	f.Header.ContainerID = ObjectID(wr.i64())
	f.Header.ModificationTime = Time(wr.i64())
	f.Header.MaxBlockClearSize = wr.u32()
	f.Header.Options = wr.u32()
	f.Header.Name = wr.block()
	f.Header.Attributes = wr.block()
	if wr.err != nil {
		return fail("reading header: %v", wr.err)
	}

	n := f.Header.NumBlocks
	if n < 0 || n > (size/8)+1 {
		return fail("implausible block count %d", n)
	}
	f.dataStart = f.Header.encodedLen()
	f.indexStart = size - (indexFixedLen + 8*n)
	if f.indexStart < f.dataStart {
		return fail("file too short for %d blocks", n)
	}

	ir := newWireReader(io.NewSectionReader(r, f.indexStart, size-f.indexStart))
	if magic := ir.u32(); ir.err != nil || magic != IndexMagic {
		return fail("bad block index magic")
	}
	f.Index.OtherFileID = ObjectID(ir.i64())
	if count := ir.i64(); ir.err != nil || count != n {
		return fail("block index count does not match header")
	}
	f.Index.EncodedSizes = make([]int64, n)
	f.offsets = make([]int64, n)
	pos := f.dataStart
	for i := range f.Index.EncodedSizes {
		s := ir.i64()
		if ir.err != nil {
			return fail("reading block index: %v", ir.err)
		}
		f.Index.EncodedSizes[i] = s
		f.offsets[i] = pos
		switch {
		case s == 0:
			return fail("block %d is empty", i)
		case s > 0:
			if s > f.indexStart-pos {
				return fail("block %d extends past the block index", i)
			}
			pos += s
		case f.Index.OtherFileID == 0:
			return fail("block %d references another file but no other file is set", i)
		}
	}
	if pos != f.indexStart {
		return fail("block sizes do not match data length")
	}

	return f, nil
}

// IsPatch reports whether the file depends on another object.
func (f *EncodedFile) IsPatch() bool { return f.Index.OtherFileID != 0 }

// Size is the stored length in bytes.
func (f *EncodedFile) Size() int64 { return f.size }

// BlockData returns the inline data of block i.
func (f *EncodedFile) BlockData(i int64) ([]byte, error) {
	if i < 0 || i >= int64(len(f.Index.EncodedSizes)) {
		return nil, fmt.Errorf("%w: block %d out of range", ErrFileDoesNotVerify, i)
	}
	s := f.Index.EncodedSizes[i]
	if s < 0 {
		return nil, fmt.Errorf("%w: block %d is a reference", ErrFileDoesNotVerify, i)
	}
	if s == 0 || s > f.indexStart-f.offsets[i] {
		return nil, fmt.Errorf("%w: block %d has bad size %d", ErrFileDoesNotVerify, i, s)
	}
	p := make([]byte, s)
	if n, err := f.r.ReadAt(p, f.offsets[i]); n < len(p) {
		return nil, fmt.Errorf("reading block %d: %w", i, err)
	}
	return p, nil
}

// Data returns the concatenated block data of a complete file.
func (f *EncodedFile) Data() ([]byte, error) {
	if f.IsPatch() {
		return nil, fmt.Errorf("%w: file is a patch", ErrFileDoesNotVerify)
	}
	var buf bytes.Buffer
	for i := range f.Index.EncodedSizes {
		b, err := f.BlockData(int64(i))
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// StreamOrder returns a reader over the file with its block index ahead of
// the block data, the order clients consume.
func (f *EncodedFile) StreamOrder() (io.Reader, error) {
	var head bytes.Buffer
	ww := newWireWriter(&head)
	f.Header.write(ww)
	f.Index.write(ww)
	if ww.err != nil {
		return nil, fmt.Errorf("writing stream order: %w", ww.err)
	}
	return io.MultiReader(&head, io.NewSectionReader(f.r, f.dataStart, f.indexStart-f.dataStart)), nil
}

// WriteBlockIndex writes only the block index.
func (f *EncodedFile) WriteBlockIndex(w io.Writer) error {
	ww := newWireWriter(w)
	f.Index.write(ww)
	return ww.err
}

// CombineFile applies a patch to the complete file it was made against and
// writes the resulting complete file in stored order.
func CombineFile(patch, from *EncodedFile, w io.Writer) error {
	if from.IsPatch() {
		return fmt.Errorf("%w: combine source is not a complete file", ErrFileDoesNotVerify)
	}
	blocks := make([]Block, len(patch.Index.EncodedSizes))
	for i, s := range patch.Index.EncodedSizes {
		var (
			data []byte
			err  error
		)
		if s >= 0 {
			data, err = patch.BlockData(int64(i))
		} else {
			data, err = from.BlockData(-s - 1)
		}
		if err != nil {
			return fmt.Errorf("combining block %d: %w", i, err)
		}
		blocks[i] = Block{Data: data}
	}
	return WriteEncodedFile(w, patch.Header, 0, blocks)
}

// ReverseDiff rewrites old, the complete file a patch was made against, as a
// patch against the new version newID built from that patch. Blocks the new
// version shares with old become references. completelyDifferent is true
// when nothing is shared; old is then written unchanged as a complete file.
func ReverseDiff(patch, old *EncodedFile, newID ObjectID, w io.Writer) (completelyDifferent bool, err error) {
	if old.IsPatch() {
		return false, fmt.Errorf("%w: reverse diff source is not a complete file", ErrFileDoesNotVerify)
	}
	shared := make(map[int64]int64)
	for i, s := range patch.Index.EncodedSizes {
		if s < 0 {
			k := -s - 1
			if _, ok := shared[k]; !ok {
				shared[k] = int64(i)
			}
		}
	}

	other := newID
	if len(shared) == 0 {
		other = 0
	}
	blocks := make([]Block, len(old.Index.EncodedSizes))
	for k := range old.Index.EncodedSizes {
		if i, ok := shared[int64(k)]; ok {
			blocks[k] = Block{IsRef: true, OtherBlock: i}
			continue
		}
		data, err := old.BlockData(int64(k))
		if err != nil {
			return false, fmt.Errorf("reversing block %d: %w", k, err)
		}
		blocks[k] = Block{Data: data}
	}
	if err := WriteEncodedFile(w, old.Header, other, blocks); err != nil {
		return false, err
	}
	return len(shared) == 0, nil
}

// ReadFileHeader reads just the header of a stored encoded file.
func ReadFileHeader(r io.Reader) (*FileHeader, error) {
	wr := newWireReader(r)
	if magic := wr.u32(); wr.err != nil || magic != FileMagic {
		return nil, fmt.Errorf("%w: bad file magic", ErrFileDoesNotVerify)
	}
	h := &FileHeader{
		NumBlocks:         wr.i64(),
		ContainerID:       ObjectID(wr.i64()),
		ModificationTime:  Time(wr.i64()),
		MaxBlockClearSize: wr.u32(),
		Options:           wr.u32(),
	}
	h.Name = wr.block()
	h.Attributes = wr.block()
	if wr.err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrFileDoesNotVerify, wr.err)
	}
	return h, nil
}

// DecodeStreamOrder parses a file in stream order, as returned by GetFile.
// blocks holds the inline data of each block, nil for references.
func DecodeStreamOrder(r io.Reader) (*FileHeader, *BlockIndex, [][]byte, error) {
	h, err := ReadFileHeader(r)
	if err != nil {
		return nil, nil, nil, err
	}
	wr := newWireReader(r)
	if magic := wr.u32(); wr.err != nil || magic != IndexMagic {
		return nil, nil, nil, fmt.Errorf("%w: bad block index magic", ErrFileDoesNotVerify)
	}
	ix := &BlockIndex{OtherFileID: ObjectID(wr.i64())}
	if count := wr.i64(); wr.err != nil || count != h.NumBlocks {
		return nil, nil, nil, fmt.Errorf("%w: block index count does not match header", ErrFileDoesNotVerify)
	}
	if h.NumBlocks < 0 || h.NumBlocks > maxStreamBlocks {
		return nil, nil, nil, fmt.Errorf("%w: implausible block count %d", ErrFileDoesNotVerify, h.NumBlocks)
	}
	ix.EncodedSizes = make([]int64, 0, min(h.NumBlocks, 1024))
	for i := int64(0); i < h.NumBlocks && wr.err == nil; i++ {
		ix.EncodedSizes = append(ix.EncodedSizes, wr.i64())
	}
	if wr.err != nil {
		return nil, nil, nil, fmt.Errorf("%w: reading block index: %v", ErrFileDoesNotVerify, wr.err)
	}
	blocks := make([][]byte, h.NumBlocks)
	for i, s := range ix.EncodedSizes {
		if s < 0 || wr.err != nil {
			continue
		}
		if s > maxWireBlock {
			return nil, nil, nil, fmt.Errorf("%w: block %d too large", ErrFileDoesNotVerify, i)
		}
		blocks[i] = make([]byte, s)
		wr.read(blocks[i])
	}
	if wr.err != nil {
		return nil, nil, nil, fmt.Errorf("%w: reading stream: %v", ErrFileDoesNotVerify, wr.err)
	}
	return h, ix, blocks, nil
}
