// Package bridgeproto defines the JSON wire protocol exchanged between the
// bridge and plugin runtimes over a WebSocket connection.
package bridgeproto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Frame type tags carried in the "type" field of unsolicited frames.
const (
	TypeFileInfo        = "FILE_INFO"
	TypeConsoleCapture  = "CONSOLE_CAPTURE"
	TypeDocumentChange  = "DOCUMENT_CHANGE"
	TypeSelectionChange = "SELECTION_CHANGE"
	TypePageChange      = "PAGE_CHANGE"
	TypePing            = "PING"
	TypePong            = "PONG"
)

// Kind classifies a decoded inbound [Frame].
type Kind int

const (
	KindUnknown Kind = iota
	KindIdentify
	KindResponse
	KindConsoleCapture
	KindDocumentChange
	KindSelectionChange
	KindPageChange
	KindPing
)

func (k Kind) String() string {
	switch k {
	case KindIdentify:
		return "identify"
	case KindResponse:
		return "response"
	case KindConsoleCapture:
		return "console_capture"
	case KindDocumentChange:
		return "document_change"
	case KindSelectionChange:
		return "selection_change"
	case KindPageChange:
		return "page_change"
	case KindPing:
		return "ping"
	}
	return "unknown"
}

// ErrMalformedFrame is returned by [Decode] for payloads that are not a
// recognizable envelope.
var ErrMalformedFrame = errors.New("malformed frame")

// Request is a server to plugin call.
type Request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// Control is a bare typed frame such as PONG.
type Control struct {
	Type string `json:"type"`
}

// FileInfo identifies the document a connection belongs to.
type FileInfo struct {
	FileKey       string `json:"fileKey"`
	FileName      string `json:"fileName"`
	CurrentPage   string `json:"currentPage,omitempty"`
	CurrentPageID string `json:"currentPageId,omitempty"`
}

// Response is a plugin reply to a [Request]. Exactly one of Result or
// Error is meaningful; HasError reports which.
type Response struct {
	ID       string
	Result   json.RawMessage
	Error    string
	HasError bool
}

// ConsoleCapture is one console call forwarded by the plugin.
type ConsoleCapture struct {
	Level     string
	Message   string
	Args      []string
	Stack     string
	Timestamp time.Time
}

// DocumentChange summarizes a batch of document edits.
type DocumentChange struct {
	ChangeCount     int
	HasStyleChanges bool
	HasNodeChanges  bool
	ChangedNodeIDs  []string
	ChangedStyleIDs []string
	Timestamp       time.Time
}

// SelectedNode describes one node in a selection frame.
type SelectedNode struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// SelectionChange carries the plugin's current selection.
type SelectionChange struct {
	Nodes     []SelectedNode
	Count     int
	Page      string
	Timestamp time.Time
}

// PageChange carries the page the user switched to.
type PageChange struct {
	PageID    string
	PageName  string
	Timestamp time.Time
}

// Frame is a decoded inbound message. Kind selects which pointer is set.
type Frame struct {
	Kind      Kind
	Type      string
	Identify  *FileInfo
	Response  *Response
	Console   *ConsoleCapture
	Change    *DocumentChange
	Selection *SelectionChange
	Page      *PageChange
}

type rawEnvelope struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

type rawConsole struct {
	Level     string            `json:"level"`
	Message   json.RawMessage   `json:"message"`
	Args      []json.RawMessage `json:"args"`
	Stack     string            `json:"stack"`
	Timestamp json.Number       `json:"timestamp"`
}

type rawChange struct {
	ChangeCount     int         `json:"changeCount"`
	HasStyleChanges bool        `json:"hasStyleChanges"`
	HasNodeChanges  bool        `json:"hasNodeChanges"`
	ChangedNodeIDs  []string    `json:"changedNodeIds"`
	ChangedStyleIDs []string    `json:"changedStyleIds"`
	Timestamp       json.Number `json:"timestamp"`
}

type rawSelection struct {
	Nodes     []SelectedNode `json:"nodes"`
	Count     int            `json:"count"`
	Page      string         `json:"page"`
	Timestamp json.Number    `json:"timestamp"`
}

type rawPage struct {
	PageID    string      `json:"pageId"`
	PageName  string      `json:"pageName"`
	Timestamp json.Number `json:"timestamp"`
}

// Decode parses one inbound message. Unknown type tags decode to a
// [KindUnknown] frame without error; payloads that are not JSON objects or
// whose data does not match the tag return [ErrMalformedFrame].
func Decode(b []byte) (Frame, error) {
	var env rawEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if env.Type == "" {
		id := decodeID(env.ID)
		if id == "" {
			return Frame{}, fmt.Errorf("%w: missing type and id", ErrMalformedFrame)
		}
		resp := &Response{ID: id, Result: env.Result}
		if msg, ok := decodeErrorField(env.Error); ok {
			resp.Error = msg
			resp.HasError = true
			resp.Result = nil
		}
		return Frame{Kind: KindResponse, Response: resp}, nil
	}

	f := Frame{Type: env.Type}
	switch env.Type {
	case TypeFileInfo:
		var info FileInfo
		if err := decodeData(env.Data, &info); err != nil {
			return Frame{}, err
		}
		f.Kind = KindIdentify
		f.Identify = &info
	case TypeConsoleCapture:
		var rc rawConsole
		if err := decodeData(env.Data, &rc); err != nil {
			return Frame{}, err
		}
		args := make([]string, 0, len(rc.Args))
		for _, a := range rc.Args {
			args = append(args, rawText(a))
		}
		f.Kind = KindConsoleCapture
		f.Console = &ConsoleCapture{
			Level:     rc.Level,
			Message:   rawText(rc.Message),
			Args:      args,
			Stack:     rc.Stack,
			Timestamp: msTime(rc.Timestamp),
		}
	case TypeDocumentChange:
		var rc rawChange
		if err := decodeData(env.Data, &rc); err != nil {
			return Frame{}, err
		}
		f.Kind = KindDocumentChange
		f.Change = &DocumentChange{
			ChangeCount:     rc.ChangeCount,
			HasStyleChanges: rc.HasStyleChanges,
			HasNodeChanges:  rc.HasNodeChanges,
			ChangedNodeIDs:  rc.ChangedNodeIDs,
			ChangedStyleIDs: rc.ChangedStyleIDs,
			Timestamp:       msTime(rc.Timestamp),
		}
	case TypeSelectionChange:
		var rs rawSelection
		if err := decodeData(env.Data, &rs); err != nil {
			return Frame{}, err
		}
		f.Kind = KindSelectionChange
		f.Selection = &SelectionChange{
			Nodes:     rs.Nodes,
			Count:     rs.Count,
			Page:      rs.Page,
			Timestamp: msTime(rs.Timestamp),
		}
	case TypePageChange:
		var rp rawPage
		if err := decodeData(env.Data, &rp); err != nil {
			return Frame{}, err
		}
		f.Kind = KindPageChange
		f.Page = &PageChange{
			PageID:    rp.PageID,
			PageName:  rp.PageName,
			Timestamp: msTime(rp.Timestamp),
		}
	case TypePing:
		f.Kind = KindPing
	default:
		f.Kind = KindUnknown
	}
	return f, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return fmt.Errorf("%w: missing data", ErrMalformedFrame)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

// decodeID accepts string or numeric ids.
func decodeID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// decodeErrorField accepts a string, an object with a "message" field, or
// any other JSON value (kept as raw text). Absent and null mean no error.
func decodeErrorField(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message, true
	}
	return string(raw), true
}

// rawText renders a JSON value as plain text: strings are unquoted, other
// values keep their JSON form.
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// msTime converts a millisecond Unix timestamp. Missing or invalid values
// yield the zero time.
func msTime(n json.Number) time.Time {
	if n == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseFloat(string(n), 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms))
}
