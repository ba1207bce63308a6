package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"watchtower/core"

	"github.com/vmihailenco/msgpack/v5"
)

// Payload content types
const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/msgpack"
)

// maxPayloadSize bounds a single encoded event
const maxPayloadSize = 1 << 20

// IsMsgpack reports whether contentType names a MessagePack encoding
func IsMsgpack(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case ContentTypeMsgpack, "application/x-msgpack", "application/vnd.msgpack":
		return true
	}
	return false
}

// DecodeEvent decodes one ingestion input. Anything but a msgpack content
// type is treated as JSON. Malformed payloads return a *core.ValidationError.
func DecodeEvent(data []byte, contentType string) (core.EventInput, error) {
	var in core.EventInput
	if len(data) == 0 {
		return in, core.NewValidationError("payload", "is empty")
	}
	if len(data) > maxPayloadSize {
		return in, core.NewValidationError("payload", "exceeds %d bytes", maxPayloadSize)
	}

	if IsMsgpack(contentType) {
		dec := msgpack.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&in); err != nil {
			return core.EventInput{}, core.NewValidationError("payload", "invalid msgpack: %v", err)
		}
		return in, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return core.EventInput{}, core.NewValidationError("payload", "invalid JSON: %v", err)
	}
	if dec.More() {
		return core.EventInput{}, core.NewValidationError("payload", "must contain a single JSON object")
	}
	return in, nil
}

// EncodeEvent is the inverse of DecodeEvent, used by producers and tests
func EncodeEvent(in core.EventInput, contentType string) ([]byte, error) {
	if IsMsgpack(contentType) {
		data, err := msgpack.Marshal(&in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode msgpack event: %w", err)
		}
		return data, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON event: %w", err)
	}
	return data, nil
}
