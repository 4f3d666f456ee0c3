package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"

	apperrors "github.com/Adithya-Monish-Kumar-K/trieindex/pkg/errors"
)

// ErrCorruptMetadata is returned when a .ix file fails validation.
var ErrCorruptMetadata = fmt.Errorf("%w: metadata", apperrors.ErrCorruptSegment)

// ReadBatchInfo loads and validates the metadata of version in dir.
func ReadBatchInfo(dir string, version int64) (*BatchInfo, error) {
	data, err := os.ReadFile(Path(dir, version, ExtMeta))
	if err != nil {
		return nil, fmt.Errorf("reading metadata of version %d: %w", version, err)
	}
	if len(data) < HeaderSize+FooterSize {
		return nil, fmt.Errorf("%w: version %d: file too short", ErrCorruptMetadata, version)
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != MagicBytes {
		return nil, fmt.Errorf("%w: version %d: bad magic bytes %x", ErrCorruptMetadata, version, magic)
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != FormatVersion {
		return nil, fmt.Errorf("%w: version %d: unsupported format version %d", ErrCorruptMetadata, version, v)
	}
	size := int(binary.LittleEndian.Uint32(data[8:12]))
	if HeaderSize+size+FooterSize != len(data) {
		return nil, fmt.Errorf("%w: version %d: payload length %d", ErrCorruptMetadata, version, size)
	}
	payload := data[HeaderSize : HeaderSize+size]
	if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(data[HeaderSize+size:]) {
		return nil, fmt.Errorf("%w: version %d: checksum mismatch", ErrCorruptMetadata, version)
	}
	var info BatchInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, fmt.Errorf("%w: version %d: %v", ErrCorruptMetadata, version, err)
	}
	if info.VersionID != version {
		return nil, fmt.Errorf("%w: file of version %d describes version %d", ErrCorruptMetadata, version, info.VersionID)
	}
	return &info, nil
}

// NextDocBase returns the first global document id of a version created after
// the newest committed version in dir.
func NextDocBase(dir string) (uint64, error) {
	latest, ok, err := LatestVersion(dir)
	if err != nil || !ok {
		return 0, err
	}
	info, err := ReadBatchInfo(dir, latest)
	if err != nil {
		return 0, err
	}
	return info.DocEnd(), nil
}
