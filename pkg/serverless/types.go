// Package serverless implements the nur worker: a TCP service that
// resolves a function UUID to a cached WebAssembly artifact and runs it
// against the connection's byte stream through a small host ABI.
package serverless

import (
	"time"

	"github.com/google/uuid"
)

// FunctionID identifies a deployed function, carried on the wire as a
// 16-byte big-endian UUID.
type FunctionID = uuid.UUID

// DeploymentTimestamp is a UNIX timestamp (seconds) marking the last time
// a function was deployed. The gateway sends its view of this value during
// the handshake; the worker uses it to decide whether a cached artifact is
// stale.
type DeploymentTimestamp uint64

// Time returns the deployment timestamp as a time.Time in UTC.
func (d DeploymentTimestamp) Time() time.Time {
	return time.Unix(int64(d), 0).UTC()
}

// Artifact is a resolved, ready-to-instantiate WebAssembly module together
// with the bookkeeping needed to decide cache freshness and instantiation
// strategy.
type Artifact struct {
	// Bytes holds the raw .wasm module as decompressed from origin. It is
	// never a serialized compiled-module form, whatever Precompiled says.
	Bytes []byte
	// Precompiled is bookkeeping: the fetcher's origin tier sets it when
	// Bytes compiled successfully and warmed the shared wazero compilation
	// cache, and every L2 hit reports it as true. Bytes are not replaced
	// by a compiled form, and instantiation does not read this flag.
	Precompiled bool
	// DeployedAt is the deployment timestamp this artifact was fetched
	// for.
	DeployedAt DeploymentTimestamp
	// FetchedAt is the wall-clock time this artifact entered the cache.
	// Freshness checks use DeployedAt, not this field.
	FetchedAt time.Time
}

// IntrinsicMessage is one unit of guest-to-host communication, emitted by
// the three host intrinsics and drained by the execution loop's writer
// task.
type IntrinsicMessage struct {
	Kind IntrinsicKind
	// Text carries the payload for Kind == IntrinsicLog.
	Text string
	// Data carries the payload for Kind == IntrinsicSend.
	Data []byte
}

// IntrinsicKind discriminates the three possible guest-to-host messages.
type IntrinsicKind int

const (
	// IntrinsicLog corresponds to a nur_log call: a line of guest
	// diagnostic text destined for the logs sink.
	IntrinsicLog IntrinsicKind = iota
	// IntrinsicSend corresponds to a nur_send call: a chunk of response
	// bytes destined for the gateway socket.
	IntrinsicSend
	// IntrinsicAbort corresponds to a nur_end call: the guest has
	// finished handling the connection.
	IntrinsicAbort
)
