package protocol

import (
	"fmt"
)

// Handler applies a decoded message to a target.
type Handler[T any] func(target T, m Message) error

// Table routes decoded frames to handlers by message type.
type Table[T any] struct {
	handlers map[MessageType]Handler[T]
}

// NewTable creates an empty routing table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{handlers: make(map[MessageType]Handler[T])}
}

// Register binds a handler to a message type, replacing any previous one.
func (t *Table[T]) Register(mt MessageType, h Handler[T]) *Table[T] {
	t.handlers[mt] = h
	return t
}

// Handles reports whether mt has a handler.
func (t *Table[T]) Handles(mt MessageType) bool {
	_, ok := t.handlers[mt]
	return ok
}

// Dispatch routes an already decoded message.
func (t *Table[T]) Dispatch(target T, m Message) error {
	h, ok := t.handlers[m.Type()]
	if !ok {
		return fmt.Errorf("%w: no handler for %s", ErrUnknownMessage, m.Type())
	}
	return h(target, m)
}

// DispatchFrame decodes a frame and routes it.
func (t *Table[T]) DispatchFrame(target T, frame []byte) (Message, error) {
	m, err := Unmarshal(frame)
	if err != nil {
		return nil, err
	}
	return m, t.Dispatch(target, m)
}

// Typed adapts a handler for one concrete message type.
func Typed[T any, M Message](fn func(target T, m M) error) Handler[T] {
	return func(target T, m Message) error {
		typed, ok := m.(M)
		if !ok {
			return fmt.Errorf("%w: got %T", ErrUnknownMessage, m)
		}
		return fn(target, typed)
	}
}

// ReplicaTable routes the server-to-client messages onto a Replica.
// Command responses are left to the caller, who usually correlates them
// with pending requests.
func ReplicaTable() *Table[*Replica] {
	return NewTable[*Replica]().
		Register(MsgWelcome, Typed(ApplyWelcome)).
		Register(MsgFullSync, Typed(ApplyFullSync)).
		Register(MsgDelta, Typed(ApplyDelta)).
		Register(MsgSettingsSync, Typed(ApplySettingsSync))
}
