package protocol

import (
	"errors"
	"fmt"

	"perishable-ledger/core/command"
	"perishable-ledger/core/ledger"
	"perishable-ledger/core/registry"
	"perishable-ledger/core/settings"
)

var (
	// ErrUnknownMessage is returned for an unrecognised type byte.
	ErrUnknownMessage = errors.New("protocol: unknown message type")
	// ErrUnknownOp is returned for an unrecognised delta operation.
	ErrUnknownOp = errors.New("protocol: unknown delta operation")
	// ErrUnknownAction is returned for an unrecognised command action.
	ErrUnknownAction = errors.New("protocol: unknown command action")
	// ErrSyncGap is returned when a delta targets a container the replica
	// does not hold.
	ErrSyncGap = errors.New("protocol: container missing on receiver")
	// ErrEmptyFrame is returned for a zero-length frame.
	ErrEmptyFrame = errors.New("protocol: empty frame")
)

// MessageType is the leading byte of every frame.
type MessageType uint8

const (
	MsgHello MessageType = iota + 1
	MsgWelcome
	MsgFullSync
	MsgDelta
	MsgCommandRequest
	MsgCommandResponse
	MsgSettingsSync
	MsgSettingsChangeRequest
)

var messageNames = map[MessageType]string{
	MsgHello:                 "hello",
	MsgWelcome:               "welcome",
	MsgFullSync:              "full_sync",
	MsgDelta:                 "delta",
	MsgCommandRequest:        "command_request",
	MsgCommandResponse:       "command_response",
	MsgSettingsSync:          "settings_sync",
	MsgSettingsChangeRequest: "settings_change_request",
}

func (t MessageType) String() string {
	if s, ok := messageNames[t]; ok {
		return s
	}
	return fmt.Sprintf("message(%d)", uint8(t))
}

// Message is a wire message.
type Message interface {
	Type() MessageType
	encode(w *Writer)
}

// Hello opens a session. Token is compared against the admin token.
type Hello struct {
	Name  string
	Token string
}

// Welcome answers Hello and tells the client whether it is privileged.
type Welcome struct {
	SessionID string
	Admin     bool
}

// FullSync replaces the whole replica.
type FullSync struct {
	Containers []*registry.Container
	Losses     []registry.LossEntry
}

// Delta is one container change. Register carries the full container,
// Update only the replacement batch list, Unregister nothing.
type Delta struct {
	ContainerID string
	Op          registry.DeltaOp
	Container   *registry.Container
	Batches     []ledger.Batch
}

// CommandRequest asks the server to run a privileged command.
type CommandRequest struct {
	RequestID uint32
	Command   command.Command
}

// CommandResponse acknowledges a CommandRequest or SettingsChangeRequest.
type CommandResponse struct {
	RequestID uint32
	Success   bool
	Message   string
	Action    command.Kind
}

// SettingsSync is a full replace of the user override layer.
type SettingsSync struct {
	Overrides settings.Overrides
}

// SettingsChangeRequest asks the server to change one override.
type SettingsChangeRequest struct {
	RequestID uint32
	Change    command.ChangeSettings
}

func (*Hello) Type() MessageType                 { return MsgHello }
func (*Welcome) Type() MessageType               { return MsgWelcome }
func (*FullSync) Type() MessageType              { return MsgFullSync }
func (*Delta) Type() MessageType                 { return MsgDelta }
func (*CommandRequest) Type() MessageType        { return MsgCommandRequest }
func (*CommandResponse) Type() MessageType       { return MsgCommandResponse }
func (*SettingsSync) Type() MessageType          { return MsgSettingsSync }
func (*SettingsChangeRequest) Type() MessageType { return MsgSettingsChangeRequest }

// NewFullSync builds a full sync from a registry snapshot.
func NewFullSync(st registry.State) *FullSync {
	return &FullSync{Containers: st.Containers, Losses: st.Losses}
}

// NewDelta converts a registry delta into its wire form.
func NewDelta(d registry.Delta) *Delta {
	m := &Delta{ContainerID: d.ContainerID, Op: d.Op}
	switch d.Op {
	case registry.OpRegister:
		m.Container = d.Container
	case registry.OpUpdate:
		if d.Container != nil {
			m.Batches = d.Container.Batches
		}
	}
	return m
}

// Marshal encodes a message into a frame.
func Marshal(m Message) ([]byte, error) {
	w := NewWriter()
	w.Uint8(uint8(m.Type()))
	m.encode(w)
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return w.Bytes(), nil
}

type decodeFunc func(r *Reader) (Message, error)

var decoders = map[MessageType]decodeFunc{
	MsgHello:                 decodeHello,
	MsgWelcome:               decodeWelcome,
	MsgFullSync:              decodeFullSync,
	MsgDelta:                 decodeDelta,
	MsgCommandRequest:        decodeCommandRequest,
	MsgCommandResponse:       decodeCommandResponse,
	MsgSettingsSync:          decodeSettingsSync,
	MsgSettingsChangeRequest: decodeSettingsChangeRequest,
}

// Unmarshal decodes one frame. The whole payload is read before any
// semantic check so that errors never leave a stream misaligned.
func Unmarshal(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	t := MessageType(frame[0])
	dec, ok := decoders[t]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, frame[0])
	}
	r := NewReader(frame[1:])
	m, err := dec(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return m, nil
}

func (m *Hello) encode(w *Writer) {
	w.String(m.Name)
	w.String(m.Token)
}

func decodeHello(r *Reader) (Message, error) {
	return &Hello{Name: r.String(), Token: r.String()}, nil
}

func (m *Welcome) encode(w *Writer) {
	w.String(m.SessionID)
	w.Bool(m.Admin)
}

func decodeWelcome(r *Reader) (Message, error) {
	return &Welcome{SessionID: r.String(), Admin: r.Bool()}, nil
}

func (m *CommandResponse) encode(w *Writer) {
	w.Uint32(m.RequestID)
	w.Bool(m.Success)
	w.String(m.Message)
	w.Uint8(uint8(m.Action))
}

func decodeCommandResponse(r *Reader) (Message, error) {
	return &CommandResponse{
		RequestID: r.Uint32(),
		Success:   r.Bool(),
		Message:   r.String(),
		Action:    command.Kind(r.Uint8()),
	}, nil
}
