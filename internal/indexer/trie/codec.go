package trie

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/trieindex/pkg/errors"
)

// Serialized trie layout, little endian:
//
//	magic u32 | version u32 | nodes u32 | terminals u32
//	nodes × (label i32 | firstChild i32 | nextSibling i32)
//	terminals × (node i32 | address i64), ascending by node
//	crc32 u32 over everything before it
const (
	MagicBytes    uint32 = 0x52545249
	FormatVersion uint32 = 1

	headerSize   = 16
	nodeSize     = 12
	terminalSize = 12
	footerSize   = 4
	maxNodes     = 1 << 30
)

// ErrCorruptTrie is returned when serialized trie bytes cannot be decoded.
var ErrCorruptTrie = fmt.Errorf("%w: trie", apperrors.ErrCorruptSegment)

func encode(nodes []node, addrs map[int32]int64) []byte {
	terminals := make([]int32, 0, len(addrs))
	for idx := range addrs {
		terminals = append(terminals, idx)
	}
	sort.Slice(terminals, func(i, j int) bool { return terminals[i] < terminals[j] })

	buf := make([]byte, 0, headerSize+len(nodes)*nodeSize+len(terminals)*terminalSize+footerSize)
	buf = binary.LittleEndian.AppendUint32(buf, MagicBytes)
	buf = binary.LittleEndian.AppendUint32(buf, FormatVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(nodes)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(terminals)))
	for _, n := range nodes {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(n.label))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(n.firstChild))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(n.nextSibling))
	}
	for _, idx := range terminals {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(idx))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(addrs[idx]))
	}
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

// Decode reads one serialized trie from r. Terminal values are the postings
// addresses recorded at serialization time.
func Decode(r io.Reader) (*Trie[int64], error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrCorruptTrie, err)
	}
	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != MagicBytes {
		return nil, fmt.Errorf("%w: bad magic bytes %x", ErrCorruptTrie, magic)
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptTrie, v)
	}
	nodeCount := binary.LittleEndian.Uint32(header[8:12])
	termCount := binary.LittleEndian.Uint32(header[12:16])
	if nodeCount == 0 || nodeCount > maxNodes || termCount > nodeCount {
		return nil, fmt.Errorf("%w: %d nodes, %d terminals", ErrCorruptTrie, nodeCount, termCount)
	}

	body := make([]byte, int(nodeCount)*nodeSize+int(termCount)*terminalSize+footerSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrCorruptTrie, err)
	}
	sumAt := len(body) - footerSize
	crc := crc32.NewIEEE()
	crc.Write(header)
	crc.Write(body[:sumAt])
	if want := binary.LittleEndian.Uint32(body[sumAt:]); crc.Sum32() != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptTrie)
	}

	t := &Trie[int64]{
		nodes:  make([]node, nodeCount),
		values: make(map[int32]int64, termCount),
	}
	inRange := func(idx int32) bool { return idx == none || (idx > 0 && idx < int32(nodeCount)) }
	off := 0
	for i := range t.nodes {
		n := node{
			label:       rune(int32(binary.LittleEndian.Uint32(body[off:]))),
			firstChild:  int32(binary.LittleEndian.Uint32(body[off+4:])),
			nextSibling: int32(binary.LittleEndian.Uint32(body[off+8:])),
		}
		if !inRange(n.firstChild) || !inRange(n.nextSibling) {
			return nil, fmt.Errorf("%w: node %d links out of range", ErrCorruptTrie, i)
		}
		t.nodes[i] = n
		off += nodeSize
	}
	for i := uint32(0); i < termCount; i++ {
		idx := int32(binary.LittleEndian.Uint32(body[off:]))
		if idx < 0 || idx >= int32(nodeCount) {
			return nil, fmt.Errorf("%w: terminal %d out of range", ErrCorruptTrie, idx)
		}
		t.values[idx] = int64(binary.LittleEndian.Uint64(body[off+4:]))
		off += terminalSize
	}
	return t, nil
}

// SerializedSize returns the number of bytes Serialize writes for a trie
// with the given node and terminal counts.
func SerializedSize(nodes, terminals int) int64 {
	return int64(headerSize + nodes*nodeSize + terminals*terminalSize + footerSize)
}
