// Package protocol implements the JSON-RPC 2.0 framing used to talk to
// documentation workers over newline-delimited stdio.
//
// Every frame is a single JSON object followed by a newline. Requests carry
// monotonically increasing numeric ids assigned by the session; notifications
// carry none. DecodeReply classifies every way a reply can be unusable so
// callers never see a raw json error.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/docfetch/docfetch/pkg/errors"
)

// Version is the only JSON-RPC version this package speaks.
const Version = "2.0"

// Request is an outbound JSON-RPC request expecting a reply.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is an outbound JSON-RPC notification. No id, no reply.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Reply is a decoded JSON-RPC response. Exactly one of Result or Error is
// set; DecodeReply rejects frames that violate that.
type Reply struct {
	ID     int64
	Result json.RawMessage
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewRequest builds a request with the given id and operation, marshaling
// params if non-nil.
func NewRequest(id int64, method string, params any) (*Request, error) {
	req := &Request{JSONRPC: Version, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "marshal request params")
		}
		req.Params = raw
	}
	return req, nil
}

// NewNotification builds a notification, marshaling params if non-nil.
func NewNotification(method string, params any) (*Notification, error) {
	n := &Notification{JSONRPC: Version, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "marshal notification params")
		}
		n.Params = raw
	}
	return n, nil
}

// EncodeRequest renders the request as a single newline-terminated frame.
func EncodeRequest(req *Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "encode request")
	}
	return append(data, '\n'), nil
}

// EncodeNotification renders the notification as a single newline-terminated
// frame.
func EncodeNotification(n *Notification) ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "encode notification")
	}
	return append(data, '\n'), nil
}

// DecodeRequest parses a single request frame. Used by tests that replay the
// frames a session writes.
func DecodeRequest(data []byte) (*Request, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.MalformedReplyf("empty frame")
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.MalformedReply(err)
	}
	if req.Method == "" {
		return nil, errors.MalformedReplyf("frame carries no method")
	}
	return &req, nil
}

// DecodeReply parses and validates a single reply frame.
//
// Classification, in order: unparsable JSON and frames that carry neither a
// result nor an error are malformed replies; a jsonrpc member other than
// "2.0" is a protocol version error; a frame with an error member is surfaced
// as an application error carrying the worker's message.
func DecodeReply(data []byte) (*Reply, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.MalformedReplyf("empty frame")
	}
	var frame struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, errors.MalformedReply(err)
	}
	if frame.JSONRPC != Version {
		return nil, errors.UnsupportedVersion(frame.JSONRPC, []string{Version})
	}
	if frame.Error != nil {
		err := errors.Application(frame.Error.Message)
		if frame.Error.Code != 0 {
			err = err.WithDetail(fmt.Sprintf("code %d", frame.Error.Code))
		}
		return nil, err
	}
	if frame.Result == nil {
		return nil, errors.MalformedReplyf("reply has neither result nor error")
	}
	if len(frame.ID) == 0 || string(frame.ID) == "null" {
		return nil, errors.MalformedReplyf("reply carries no request id")
	}
	var id int64
	if err := json.Unmarshal(frame.ID, &id); err != nil {
		return nil, errors.MalformedReplyf("non-numeric request id %s", frame.ID)
	}
	return &Reply{ID: id, Result: frame.Result}, nil
}
