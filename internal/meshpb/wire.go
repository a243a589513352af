// Package meshpb implements the subset of the Meshtastic protobuf dialect
// that the gateway needs to speak: ToRadio/FromRadio envelopes, MeshPacket,
// the application Data payload, and the handful of admin messages exchanged
// during initial sync (MyInfo, NodeInfo, Config, ModuleConfig,
// ConfigCompleteId, QueueStatus, Routing).
//
// Full protoc-generated bindings are out of reach without running the Go
// toolchain's protoc-gen-go plugin, so these types hand-encode themselves
// on top of google.golang.org/protobuf/encoding/protowire, the same
// low-level varint/tag primitives protoc-gen-go itself builds on. Unknown
// fields are skipped rather than rejected, matching protobuf's
// forward-compatibility contract: a firmware update that adds a field must
// not break an older gateway.
package meshpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// PortNum identifies the application payload carried by a Data message.
type PortNum uint32

const (
	PortUnknown               PortNum = 0
	PortTextMessage           PortNum = 1
	PortNodeInfo              PortNum = 4
	PortRouting               PortNum = 5
	PortTextMessageCompressed PortNum = 68
)

// RoutingError mirrors the subset of Meshtastic's Routing.Error enum this
// gateway distinguishes between transient and permanent failures for.
type RoutingError int32

const (
	RoutingErrorNone               RoutingError = 0
	RoutingErrorNoRoute            RoutingError = 1
	RoutingErrorTimeout            RoutingError = 4
	RoutingErrorRateLimitExceeded  RoutingError = 8
	RoutingErrorDutyCycleLimit     RoutingError = 9
	RoutingErrorBadChannel         RoutingError = 11
	RoutingErrorDestinationRefused RoutingError = 32
)

// Transient reports whether the error reason should extend a retry's
// backoff rather than counting as a permanent delivery failure.
func (e RoutingError) Transient() bool {
	switch e {
	case RoutingErrorRateLimitExceeded, RoutingErrorDutyCycleLimit, RoutingErrorTimeout:
		return true
	default:
		return false
	}
}

func consumeUnknown(fieldNum protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(fieldNum, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

func appendUvarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendUvarintField(b, num, 1)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendMessageField(b []byte, num protowire.Number, payload []byte) []byte {
	if payload == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

func fieldError(name string, err error) error {
	return fmt.Errorf("meshpb: decoding %s: %w", name, err)
}
