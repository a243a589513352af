// Package gatewayerr holds the small set of sentinel errors the gateway's
// application-facing contract returns, checked with errors.Is rather than
// type assertion, per spec section 7's application-contract-error class.
package gatewayerr

import "errors"

// ErrNodeIDUnknown is the error the writer logs when it drops a send
// attempted before it has learned our_node_id from a MyInfo packet.
var ErrNodeIDUnknown = errors.New("gateway: our node id not yet known")

// ErrPayloadTooLarge is returned by the serial codec when an outbound
// payload exceeds the 65535-byte length-prefix limit.
var ErrPayloadTooLarge = errors.New("gateway: payload too large")

// ErrSchedulerClosed is the error the writer logs when the scheduler's
// outgoing channel to it has closed and its Run loop exits.
var ErrSchedulerClosed = errors.New("gateway: scheduler output closed")
