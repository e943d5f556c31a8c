package protocol

import (
	"bytes"

	"github.com/goccy/go-json"
	"github.com/roadrunner-server/errors"
)

const (
	payloadKey string = "payload"
	headersKey string = "headers"
)

var null = []byte("null")

// Envelope is a decoded job body.
type Envelope struct {
	// Payload is the raw application payload
	Payload json.RawMessage
	// Headers carry propagation data such as the trace context, can be nil
	Headers map[string]string
	// Meta contains every other top-level key of a wrapped body, can be nil
	Meta map[string]json.RawMessage
}

// Encode wraps payload into the envelope format. Meta keys named "payload" or
// "headers" are shadowed by the envelope fields.
func Encode(payload any, headers map[string]string, meta map[string]any) ([]byte, error) {
	const op = errors.Op("protocol_encode")

	body := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		body[k] = v
	}

	body[payloadKey] = payload
	if len(headers) > 0 {
		body[headersKey] = headers
	} else {
		delete(body, headersKey)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.E(op, err)
	}

	return data, nil
}

// Decode parses a job body, see the package documentation for the accepted formats.
func Decode(data []byte) (*Envelope, error) {
	const op = errors.Op("protocol_decode")

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.E(op, errors.Str("empty job body"))
	}

	if !json.Valid(trimmed) {
		return nil, errors.E(op, errors.Errorf("job body is not valid json, length: %d", len(trimmed)))
	}

	if trimmed[0] != '{' {
		return bare(trimmed), nil
	}

	fields := make(map[string]json.RawMessage)
	err := json.Unmarshal(trimmed, &fields)
	if err != nil {
		return nil, errors.E(op, err)
	}

	pld, ok := fields[payloadKey]
	if !ok || bytes.Equal(bytes.TrimSpace(pld), null) {
		return bare(trimmed), nil
	}

	env := &Envelope{Payload: pld}
	delete(fields, payloadKey)

	if raw, ok := fields[headersKey]; ok {
		hdr := make(map[string]string)
		// headers that are not a string map belong to the producer, keep them as metadata
		if json.Unmarshal(raw, &hdr) == nil {
			env.Headers = hdr
			delete(fields, headersKey)
		}
	}

	if len(fields) > 0 {
		env.Meta = fields
	}

	return env, nil
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error {
	const op = errors.Op("protocol_decode_payload")
	err := json.Unmarshal(e.Payload, v)
	if err != nil {
		return errors.E(op, err)
	}

	return nil
}

func bare(data []byte) *Envelope {
	pld := make(json.RawMessage, len(data))
	copy(pld, data)
	return &Envelope{Payload: pld}
}
