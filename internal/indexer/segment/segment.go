// Package segment defines the on-disk layout of one committed index version:
// file naming, version allocation, segment metadata and the postings
// encoding shared by the writer and the field readers.
package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
)

// File extensions of the files that make up one version.
const (
	ExtMeta      = ".ix"
	ExtCompound  = ".rdb"
	ExtDocuments = ".dtbl"
	ExtPostings  = ".pos"
	ExtTrie      = ".tri"
	ExtTemp      = ".tmp"

	LockFileName = "write.lock"
)

const (
	fieldHashSeed       uint64 = 3074457345618258791
	fieldHashMultiplier uint64 = 3074457345618258799
)

// FieldHash is the Knuth multiplicative hash of the lower-cased field name,
// taken over its UTF-16 code units.
func FieldHash(field string) uint64 {
	h := fieldHashSeed
	for _, unit := range utf16.Encode([]rune(strings.ToLower(field))) {
		h += uint64(unit)
		h *= fieldHashMultiplier
	}
	return h
}

// FileName returns the name of the file with extension ext for version.
func FileName(version int64, ext string) string {
	return strconv.FormatInt(version, 10) + ext
}

// Path joins dir with the file name of version and ext.
func Path(dir string, version int64, ext string) string {
	return filepath.Join(dir, FileName(version, ext))
}

// TrieRef addresses the serialized trie of one field inside the compound file
// of one version.
type TrieRef struct {
	Version   int64
	FieldHash uint64
	Offset    int64
}

// Name renders the logical trie file identifier <version>-<field_hash>.tri.
func (r TrieRef) Name() string {
	return fmt.Sprintf("%d-%d%s", r.Version, r.FieldHash, ExtTrie)
}

// ParseVersion extracts the numeric version from a segment file name. Names
// of the form <version>-<hash>.tri and temporary files are recognized too.
func ParseVersion(name string) (int64, bool) {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, ExtTemp)
	stem, _, ok := strings.Cut(base, ".")
	if !ok {
		return 0, false
	}
	stem, _, _ = strings.Cut(stem, "-")
	v, err := strconv.ParseInt(stem, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// NextVersion returns a version id greater than every version found in names
// and no smaller than the clock reading now. Orphaned files count, so a
// version that was abandoned before commit is never reused.
func NextVersion(names []string, now time.Time) int64 {
	next := now.UnixNano()
	for _, name := range names {
		if v, ok := ParseVersion(name); ok && v >= next {
			next = v + 1
		}
	}
	return next
}

// ListFiles returns the names of the regular files in dir. A missing
// directory yields no names.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading index directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// ListVersions returns the committed versions in dir in ascending order. A
// version is committed iff its metadata file exists; temporary files are
// never considered.
func ListVersions(dir string) ([]int64, error) {
	names, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}
	versions := make([]int64, 0)
	for _, name := range names {
		if filepath.Ext(name) != ExtMeta {
			continue
		}
		if v, ok := ParseVersion(name); ok {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// LatestVersion returns the newest committed version in dir.
func LatestVersion(dir string) (int64, bool, error) {
	versions, err := ListVersions(dir)
	if err != nil || len(versions) == 0 {
		return 0, false, err
	}
	return versions[len(versions)-1], true, nil
}

// VersionsUpTo returns the committed versions in dir that are not newer than
// pinned, in ascending order.
func VersionsUpTo(dir string, pinned int64) ([]int64, error) {
	versions, err := ListVersions(dir)
	if err != nil {
		return nil, err
	}
	n := sort.Search(len(versions), func(i int) bool { return versions[i] > pinned })
	return versions[:n], nil
}
