package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shiv248/quillsync/internal/engineerr"
)

// DefaultMaxFrameBytes and DefaultMaxInsertLen mirror spec.md §6's
// defaults: 4 MiB per frame, 10000 chars per single insertion.
const (
	DefaultMaxFrameBytes = 4 * 1024 * 1024
	DefaultMaxInsertLen  = 10000
)

// Frame is a decoded wire message. Data holds the parsed key-value pairs
// with escape markers already resolved back to literal characters.
type Frame struct {
	Kind      Kind
	UserID    string // NullToken if absent
	FileID    string // NullToken if absent
	Data      map[string]string
	Timestamp uint64
}

// HasUserID reports whether UserID carries a real value rather than
// NullToken.
func (f Frame) HasUserID() bool { return f.UserID != "" && f.UserID != NullToken }

// HasFileID reports whether FileID carries a real value rather than
// NullToken.
func (f Frame) HasFileID() bool { return f.FileID != "" && f.FileID != NullToken }

// Decode parses one line (without its trailing '\n') into a Frame.
// Parse failures all map to engineerr.MalformedFrame per spec.md §7.
func Decode(line string) (Frame, error) {
	if line == "" {
		return Frame{}, engineerr.New(engineerr.MalformedFrame, "empty line")
	}

	// Only TYPE, USER_ID and FILE_ID are guaranteed pipe-free; DATA may
	// itself contain '|' (FILE_LIST_RESP's `files` value is itself
	// pipe-separated). So the first three fields split from the left, and
	// TIMESTAMP — always plain digits — splits off the right; whatever
	// remains in between is DATA, verbatim.
	head := strings.SplitN(line, "|", 4)
	if len(head) != 4 {
		return Frame{}, engineerr.New(engineerr.MalformedFrame,
			fmt.Sprintf("expected at least 5 fields, got %d", len(head)))
	}
	rest := head[3]
	sep := strings.LastIndex(rest, "|")
	if sep < 0 {
		return Frame{}, engineerr.New(engineerr.MalformedFrame, "missing TIMESTAMP field")
	}
	dataField, tsField := rest[:sep], rest[sep+1:]

	kind := Kind(head[0])
	if !kind.Valid() {
		return Frame{}, engineerr.New(engineerr.MalformedFrame, "unknown TYPE: "+head[0])
	}

	timestamp, err := strconv.ParseUint(tsField, 10, 64)
	if err != nil {
		return Frame{}, engineerr.New(engineerr.MalformedFrame, "TIMESTAMP not an unsigned integer")
	}

	data, err := decodeData(dataField)
	if err != nil {
		return Frame{}, err
	}

	return Frame{
		Kind:      kind,
		UserID:    head[1],
		FileID:    head[2],
		Data:      data,
		Timestamp: timestamp,
	}, nil
}

func decodeData(raw string) (map[string]string, error) {
	if raw == "empty" {
		return nil, nil
	}

	data := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			return nil, engineerr.New(engineerr.MalformedFrame, "malformed DATA pair: "+pair)
		}
		key := strings.TrimSpace(kv[0])
		value := unescapeText(strings.TrimSpace(kv[1]))
		data[key] = value
	}
	return data, nil
}

// Encode serializes a Frame as one wire line, including the trailing '\n'.
func Encode(f Frame) (string, error) {
	if !f.Kind.Valid() {
		return "", fmt.Errorf("encode: unknown kind %q", f.Kind)
	}

	userID := f.UserID
	if userID == "" {
		userID = NullToken
	}
	fileID := f.FileID
	if fileID == "" {
		fileID = NullToken
	}

	data := encodeData(f.Data)

	return fmt.Sprintf("%s|%s|%s|%s|%d\n", f.Kind, userID, fileID, data, f.Timestamp), nil
}

func encodeData(data map[string]string) string {
	if len(data) == 0 {
		return "empty"
	}
	// Stable key order for deterministic encoding (and round-trippable
	// tests); spec.md does not mandate an order.
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+":"+escapeText(data[k]))
	}
	return strings.Join(pairs, ",")
}
