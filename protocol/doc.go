// Package protocol implements the JSON envelope jobs travel in.
//
// Producers wrap the application payload under the "payload" key, next to an
// optional "headers" map (trace context) and any free-form metadata keys:
//
//	{"payload": {"to": "bob"}, "headers": {"traceparent": "..."}, "source": "api"}
//
// Decode also accepts bare payloads: when the body is not a JSON object, or is
// an object without a "payload" key, the whole body is the payload. This keeps
// jobs enqueued by producers that do not wrap their payloads consumable.
package protocol
