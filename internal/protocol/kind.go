// Package protocol implements the length-validated, line-framed wire
// protocol the session router speaks with clients (spec.md §4.5, §6):
//
//	TYPE|USER_ID|FILE_ID|DATA|TIMESTAMP\n
//
// The codec owns the escape markers for control characters; the
// collaboration engine (pkg/clock, pkg/ot, pkg/document) only ever sees raw
// runes.
package protocol

// Kind enumerates the message kinds from spec.md §6.
type Kind string

const (
	Connect       Kind = "CONNECT"
	ConnectAck    Kind = "CONNECT_ACK"
	Disconnect    Kind = "DISCONNECT"
	Register      Kind = "REGISTER"
	RegisterAck   Kind = "REGISTER_ACK"
	Login         Kind = "LOGIN"
	LoginAck      Kind = "LOGIN_ACK"
	FileList      Kind = "FILE_LIST"
	FileListResp  Kind = "FILE_LIST_RESP"
	FileCreate    Kind = "FILE_CREATE"
	FileOpen      Kind = "FILE_OPEN"
	FileContent   Kind = "FILE_CONTENT"
	FileDelete    Kind = "FILE_DELETE"
	FileDeleteAck Kind = "FILE_DELETE_ACK"
	TextInsert    Kind = "TEXT_INSERT"
	TextDelete    Kind = "TEXT_DELETE"
	TextUpdate    Kind = "TEXT_UPDATE"
	Save          Kind = "SAVE"
	Error         Kind = "ERROR"
)

var knownKinds = map[Kind]bool{
	Connect: true, ConnectAck: true, Disconnect: true,
	Register: true, RegisterAck: true, Login: true, LoginAck: true,
	FileList: true, FileListResp: true, FileCreate: true, FileOpen: true,
	FileContent: true, FileDelete: true, FileDeleteAck: true,
	TextInsert: true, TextDelete: true, TextUpdate: true,
	Save: true, Error: true,
}

// Valid reports whether k is one of the enumerated message kinds.
func (k Kind) Valid() bool {
	return knownKinds[k]
}

// StatusSuccess and StatusFail are the two values a `status` data field may
// take in a *_ACK frame.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
)

// NullToken is the literal placed in USER_ID/FILE_ID when a frame carries no
// value for that field.
const NullToken = "null"
