package segment

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/trieindex/pkg/errors"
)

// ErrCorruptPostings is returned when a postings blob cannot be decoded.
var ErrCorruptPostings = fmt.Errorf("%w: postings", apperrors.ErrCorruptSegment)

const maxPostingsBlob = 1 << 30

// PostingsWriter appends postings blobs to a stream and hands out the byte
// address of each blob. A blob is a little-endian u32 payload length
// followed by a uvarint entry count and, per document in ascending order, a
// uvarint delta of the id relative to the doc base and the weight as float64
// bits.
type PostingsWriter struct {
	w       *bufio.Writer
	docBase uint64
	offset  int64
	scratch []byte
}

// NewPostingsWriter returns a writer whose first blob lands at address 0.
// Document ids handed to it must not be below docBase.
func NewPostingsWriter(w io.Writer, docBase uint64) *PostingsWriter {
	return &PostingsWriter{w: bufio.NewWriterSize(w, 64*1024), docBase: docBase}
}

// Write appends p and returns its address.
func (pw *PostingsWriter) Write(p index.Posting) (int64, error) {
	buf := pw.scratch[:0]
	buf = append(buf, 0, 0, 0, 0)
	buf = binary.AppendUvarint(buf, uint64(len(p)))
	prev := pw.docBase
	for _, docID := range p.DocIDs() {
		if docID < pw.docBase {
			return 0, fmt.Errorf("document id %d below doc base %d", docID, pw.docBase)
		}
		buf = binary.AppendUvarint(buf, docID-prev)
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p[docID]))
		prev = docID
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(buf)-4))
	pw.scratch = buf

	addr := pw.offset
	n, err := pw.w.Write(buf)
	pw.offset += int64(n)
	if err != nil {
		return 0, fmt.Errorf("writing postings: %w", err)
	}
	return addr, nil
}

// Size returns the number of bytes written so far.
func (pw *PostingsWriter) Size() int64 {
	return pw.offset
}

// Flush writes buffered blobs to the underlying stream.
func (pw *PostingsWriter) Flush() error {
	return pw.w.Flush()
}

// ReadPostings decodes the blob at addr. Document ids are shifted by docBase.
func ReadPostings(r io.ReaderAt, addr int64, docBase uint64) (index.Posting, error) {
	var lenBuf [4]byte
	if _, err := r.ReadAt(lenBuf[:], addr); err != nil {
		return nil, fmt.Errorf("%w: reading length at %d: %v", ErrCorruptPostings, addr, err)
	}
	size := binary.LittleEndian.Uint32(lenBuf[:])
	if size == 0 || size > maxPostingsBlob {
		return nil, fmt.Errorf("%w: blob length %d at %d", ErrCorruptPostings, size, addr)
	}
	payload := make([]byte, size)
	if _, err := r.ReadAt(payload, addr+4); err != nil {
		return nil, fmt.Errorf("%w: reading blob at %d: %v", ErrCorruptPostings, addr, err)
	}
	return decodePostings(payload, docBase)
}

func decodePostings(payload []byte, docBase uint64) (index.Posting, error) {
	count, n := binary.Uvarint(payload)
	if n <= 0 || count > uint64(len(payload)) {
		return nil, fmt.Errorf("%w: bad entry count", ErrCorruptPostings)
	}
	payload = payload[n:]
	p := make(index.Posting, count)
	var docID uint64
	for i := uint64(0); i < count; i++ {
		delta, n := binary.Uvarint(payload)
		if n <= 0 || len(payload) < n+8 {
			return nil, fmt.Errorf("%w: truncated entry %d", ErrCorruptPostings, i)
		}
		docID += delta
		p[docBase+docID] = math.Float64frombits(binary.LittleEndian.Uint64(payload[n:]))
		payload = payload[n+8:]
	}
	if len(payload) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptPostings, len(payload))
	}
	return p, nil
}
