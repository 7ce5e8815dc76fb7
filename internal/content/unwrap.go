// Package content unwraps transport payloads, classifies them into the stored
// kind set and renders preview text.
package content

import "github.com/chirino/chat-mirror/internal/transport"

// MaxUnwrapDepth bounds wrapper peeling for hostile or cyclic payloads.
const MaxUnwrapDepth = 32

// Unwrap strips view-once, ephemeral and device-sent layers until the content
// node is reached. It never returns nil for a non-nil input.
func Unwrap(m *transport.Message) *transport.Message {
	if m == nil {
		return nil
	}
	visited := make(map[*transport.Message]struct{}, 4)
	for depth := 0; depth < MaxUnwrapDepth; depth++ {
		visited[m] = struct{}{}
		inner := wrapped(m)
		if inner == nil {
			return m
		}
		if _, seen := visited[inner]; seen {
			return m
		}
		m = inner
	}
	return m
}

func wrapped(m *transport.Message) *transport.Message {
	switch {
	case m.ViewOnce != nil && m.ViewOnce.Message != nil:
		return m.ViewOnce.Message
	case m.ViewOnceV2 != nil && m.ViewOnceV2.Message != nil:
		return m.ViewOnceV2.Message
	case m.ViewOnceV2Extension != nil && m.ViewOnceV2Extension.Message != nil:
		return m.ViewOnceV2Extension.Message
	case m.Ephemeral != nil && m.Ephemeral.Message != nil:
		return m.Ephemeral.Message
	case m.DeviceSent != nil && m.DeviceSent.Message != nil:
		return m.DeviceSent.Message
	}
	return nil
}
