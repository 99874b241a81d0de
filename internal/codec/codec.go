// Package codec converts queue message bodies into events.
//
// The upstream engine publishes base64(zlib(json(event))). When the message
// travelled through an SNS topic before landing on the queue, that payload is
// wrapped in an SNS notification document whose "Message" field carries it.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/potooio/potoo-mailer/internal/types"
)

// ErrMalformed marks a body that can never be decoded. Callers skip the
// message instead of retrying it.
var ErrMalformed = errors.New("malformed message")

// maxInflated bounds decompressed payloads.
const maxInflated = 64 << 20

type snsEnvelope struct {
	Message *json.RawMessage `json:"Message"`
}

// Unwrap returns the inner payload of an SNS notification envelope, or the
// body unchanged when it is not one.
func Unwrap(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var env snsEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil || env.Message == nil {
		return trimmed
	}
	// Message is normally a JSON string holding the base64 payload.
	var inner string
	if err := json.Unmarshal(*env.Message, &inner); err == nil {
		return []byte(strings.TrimSpace(inner))
	}
	return bytes.TrimSpace(*env.Message)
}

// Decode turns a raw queue body into an Event.
func Decode(body []byte) (*types.Event, error) {
	payload := Unwrap(body)
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}

	compressed := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(compressed, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformed, err)
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed[:n]))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %v", ErrMalformed, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, maxInflated+1))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", ErrMalformed, err)
	}
	if len(raw) > maxInflated {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrMalformed, maxInflated)
	}

	ev := &types.Event{}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrMalformed, err)
	}
	if ev.Policy.Name == "" {
		return nil, fmt.Errorf("%w: missing policy name", ErrMalformed)
	}
	return ev, nil
}

// Encode produces the body the upstream engine would publish for ev.
func Encode(ev *types.Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress event: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress event: %w", err)
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(buf.Len()))
	base64.StdEncoding.Encode(out, buf.Bytes())
	return out, nil
}

// WrapSNS wraps an encoded body the way SNS does when fanning out to SQS.
func WrapSNS(body []byte) ([]byte, error) {
	return json.Marshal(map[string]string{
		"Type":    "Notification",
		"Message": string(body),
	})
}
