package protocol

import (
	"strconv"
	"strings"
)

// Limits bounds frame and insertion sizes (spec.md §6).
type Limits struct {
	MaxFrameBytes int
	MaxInsertLen  int
}

// DefaultLimits mirrors spec.md §6's defaults.
func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: DefaultMaxFrameBytes, MaxInsertLen: DefaultMaxInsertLen}
}

// NewError builds an ERROR frame.
func NewError(message string, timestamp uint64) Frame {
	return Frame{Kind: Error, UserID: NullToken, FileID: NullToken,
		Data: map[string]string{"message": message}, Timestamp: timestamp}
}

// NewAck builds a *_ACK frame of the given kind (LOGIN_ACK, REGISTER_ACK,
// FILE_DELETE_ACK, or SAVE).
func NewAck(kind Kind, status, message string, timestamp uint64) Frame {
	return Frame{Kind: kind, UserID: NullToken, FileID: NullToken,
		Data: map[string]string{"status": status, "message": message}, Timestamp: timestamp}
}

// NewFileContent builds a FILE_CONTENT frame.
func NewFileContent(fileID, content string, participants []string, name string, timestamp uint64) Frame {
	data := map[string]string{
		"content": content,
		"users":   strings.Join(participants, ","),
	}
	if name != "" {
		data["name"] = name
	}
	return Frame{Kind: FileContent, FileID: fileID, UserID: NullToken, Data: data, Timestamp: timestamp}
}

// FileListEntry is one row of a FILE_LIST_RESP frame.
type FileListEntry struct {
	ID         string
	Name       string
	UserCount  int
}

// NewFileListResp builds a FILE_LIST_RESP frame with pipe-separated
// "id:name:user_count" entries. The pipe separator here is internal to the
// `files` data value and distinct from the frame's own '|' field separator
// — Decode locates DATA by splitting TYPE/USER_ID/FILE_ID from the left and
// TIMESTAMP from the right, so embedded '|' inside DATA survive intact.
func NewFileListResp(entries []FileListEntry, timestamp uint64) Frame {
	rows := make([]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, e.ID+":"+e.Name+":"+strconv.Itoa(e.UserCount))
	}
	return Frame{Kind: FileListResp, UserID: NullToken, FileID: NullToken,
		Data: map[string]string{"files": strings.Join(rows, "|")}, Timestamp: timestamp}
}

// NewTextUpdate builds a broadcast TEXT_UPDATE frame for an applied INSERT
// or DELETE, carrying the engine's applied position, never the originating
// client's submitted position (spec.md §4.4).
func NewTextUpdate(fileID string, userID string, op string, position uint32, textOrLength string, timestamp uint64) Frame {
	data := map[string]string{
		"operation": op,
		"position":  strconv.FormatUint(uint64(position), 10),
	}
	if op == "insert" {
		data["text"] = textOrLength
	} else {
		data["length"] = textOrLength
	}
	return Frame{Kind: TextUpdate, FileID: fileID, UserID: userID, Data: data, Timestamp: timestamp}
}
