package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
)

// MagicBytes identifies a valid .ix metadata file.
const (
	MagicBytes    uint32 = 0x52495831
	FormatVersion uint32 = 1
	HeaderSize    int    = 12
	FooterSize    int    = 4
)

// BatchInfo is the metadata of one committed version. Its presence on disk is
// what makes the version visible to readers.
type BatchInfo struct {
	VersionID       int64             `json:"version_id"`
	DocumentCount   int               `json:"document_count"`
	DocBase         uint64            `json:"doc_base"`
	Compression     string            `json:"compression"`
	PrimaryKeyField string            `json:"primary_key_field"`
	Fields          map[uint64]string `json:"fields"`
	FieldOffsets    map[uint64]int64  `json:"field_offsets"`
	PostingsOffset  int64             `json:"postings_offset"`
	CreatedAt       int64             `json:"created_at"`
}

// DocEnd returns one past the last global document id of the version.
func (b *BatchInfo) DocEnd() uint64 {
	return b.DocBase + uint64(b.DocumentCount)
}

// TrieRefs returns a reference per field to its trie in the compound file.
func (b *BatchInfo) TrieRefs() map[string]TrieRef {
	refs := make(map[string]TrieRef, len(b.FieldOffsets))
	for hash, offset := range b.FieldOffsets {
		refs[b.Fields[hash]] = TrieRef{Version: b.VersionID, FieldHash: hash, Offset: offset}
	}
	return refs
}

// WriteBatchInfo atomically creates <version>.ix in dir. It writes to a .tmp
// file first, syncs it and renames on success.
func WriteBatchInfo(dir string, info *BatchInfo) (string, error) {
	payload, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("marshaling batch info: %w", err)
	}
	finalPath := Path(dir, info.VersionID, ExtMeta)
	tmpPath := finalPath + ExtTemp

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("creating temp metadata file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 0, HeaderSize+len(payload)+FooterSize)
	buf = binary.LittleEndian.AppendUint32(buf, MagicBytes)
	buf = binary.LittleEndian.AppendUint32(buf, FormatVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(payload))

	if _, err := f.Write(buf); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing metadata: %w", err)
	}
	if err := f.Sync(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("syncing metadata file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming metadata file: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return "", err
	}
	return filepath.Base(finalPath), nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening index directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing index directory: %w", err)
	}
	return nil
}
