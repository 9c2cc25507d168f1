// Package agent defines the conversation message model and the boundary
// to the external agent capability that produces responses.
//
// The capability is treated as a black box: it consumes the accumulated
// message history for a thread and returns a final message set plus an
// opaque checkpoint payload. Both a blocking (Invoke) and a streaming
// (Stream) contract are supported.
package agent
