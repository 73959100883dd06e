// Package protocol defines the cross-window message protocol spoken
// between embedded demo documents and the orchestrating page. Embedded
// content posts a single structured message to its parent window; the
// relay page forwards it verbatim over the session channel, where it is
// validated before it can influence the fallback state machine.
package protocol

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// TypeProxy tags every message belonging to the embed protocol.
const TypeProxy = "framegate:proxy"

// Status of a child document report.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// ChildMessage is the tagged union posted by embedded documents: the
// sentinel script posts {status:"ok"}, error documents post
// {status:"error", reason}.
type ChildMessage struct {
	Type   string `json:"type"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
	Slug   string `json:"slug,omitempty"`
}

// ParseChildMessage decodes and validates a relayed child message.
// Anything that is not a well-formed protocol message is rejected so
// arbitrary postMessage traffic cannot drive the state machine.
func ParseChildMessage(data []byte) (ChildMessage, error) {
	var msg ChildMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return ChildMessage{}, fmt.Errorf("malformed child message: %w", err)
	}
	if msg.Type != TypeProxy {
		return ChildMessage{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	switch msg.Status {
	case StatusOK, StatusError:
	default:
		return ChildMessage{}, fmt.Errorf("unexpected message status %q", msg.Status)
	}
	return msg, nil
}

// Marshal encodes a protocol message for the wire.
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}
