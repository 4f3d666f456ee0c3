package indexer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
)

// DocumentStream is the input of an upsert transaction. A non-nil error
// aborts the transaction.
type DocumentStream = iter.Seq2[index.Document, error]

// FromDocuments streams docs in order.
func FromDocuments(docs []index.Document) DocumentStream {
	return func(yield func(index.Document, error) bool) {
		for _, doc := range docs {
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// FromFields streams one document per field map.
func FromFields(docs []map[string]string) DocumentStream {
	return func(yield func(index.Document, error) bool) {
		for _, fields := range docs {
			if !yield(index.Document{Fields: fields}, nil) {
				return
			}
		}
	}
}

const maxLineSize = 16 * 1024 * 1024

// ReadJSONLines streams one document per line of r. Each line is a JSON
// object; string values are taken as is and other scalars are formatted.
// Blank lines are skipped.
func ReadJSONLines(r io.Reader) DocumentStream {
	return func(yield func(index.Document, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), maxLineSize)
		line := 0
		for sc.Scan() {
			line++
			raw := sc.Bytes()
			if len(raw) == 0 {
				continue
			}
			fields, err := DecodeFields(raw)
			if err != nil {
				yield(index.Document{}, fmt.Errorf("line %d: %w", line, err))
				return
			}
			if !yield(index.Document{Fields: fields}, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(index.Document{}, fmt.Errorf("reading documents: %w", err))
		}
	}
}

// DecodeFields parses one JSON object into document fields.
func DecodeFields(raw []byte) (map[string]string, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case nil:
		case string:
			fields[k] = val
		case float64:
			fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			fields[k] = strconv.FormatBool(val)
		default:
			enc, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			fields[k] = string(enc)
		}
	}
	return fields, nil
}
