package job

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Factory returns a new zero value of a command variant, as a pointer
type Factory func() Command

// Codec converts commands to and from job payloads.
//
// Only registered command variants can be serialized or decoded, so a
// payload that does not map to a known Command is rejected when it is
// published instead of when a consumer tries to release it.
type Codec struct {
	mu        sync.RWMutex
	factories map[string]Factory
	types     map[string]reflect.Type
}

// serializedCommand is the format stored in data.command
type serializedCommand struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// NewCodec creates an empty codec
func NewCodec() *Codec {
	return &Codec{
		factories: make(map[string]Factory),
		types:     make(map[string]reflect.Type),
	}
}

// Register adds a command variant under the name its zero value reports
func (c *Codec) Register(factory Factory) error {
	sample := factory()
	if sample == nil {
		return fmt.Errorf("command factory returned nil")
	}

	name := sample.CommandName()
	if name == "" {
		return fmt.Errorf("command %T has an empty name", sample)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
	}

	c.factories[name] = factory
	c.types[name] = reflect.TypeOf(sample)
	return nil
}

// MustRegister registers every factory and panics on the first failure
func (c *Codec) MustRegister(factories ...Factory) {
	for _, f := range factories {
		if err := c.Register(f); err != nil {
			panic(err)
		}
	}
}

// Names lists the registered command names in sorted order
func (c *Codec) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds a registered command from its JSON arguments
func (c *Codec) New(name string, args json.RawMessage) (Command, error) {
	factory, ok := c.factory(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredCommand, name)
	}

	cmd := factory()
	if len(args) > 0 {
		if err := json.Unmarshal(args, cmd); err != nil {
			return nil, fmt.Errorf("invalid arguments for command %s: %w", name, err)
		}
	}
	return cmd, nil
}

// Serialize turns a command into the string stored in data.command
func (c *Codec) Serialize(cmd Command) (string, error) {
	if cmd == nil {
		return "", fmt.Errorf("%w: nil command", ErrUnregisteredCommand)
	}

	name := cmd.CommandName()

	c.mu.RLock()
	registered, ok := c.types[name]
	c.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnregisteredCommand, name)
	}
	if actual := reflect.TypeOf(cmd); actual != registered {
		return "", fmt.Errorf("%w: %s is registered as %s, got %s", ErrUnregisteredCommand, name, registered, actual)
	}

	value, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("failed to marshal command %s: %w", name, err)
	}

	out, err := json.Marshal(serializedCommand{Type: name, Value: value})
	if err != nil {
		return "", fmt.Errorf("failed to marshal command %s: %w", name, err)
	}

	return string(out), nil
}

// Unserialize restores a command from the string stored in data.command
func (c *Codec) Unserialize(raw string) (Command, error) {
	var sc serializedCommand
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		return nil, decodeError("command is not valid JSON", err)
	}

	if sc.Type == "" {
		return nil, decodeError("command has no type", nil)
	}

	factory, ok := c.factory(sc.Type)
	if !ok {
		return nil, decodeError(fmt.Sprintf("command type %q is not a known job", sc.Type), nil)
	}

	cmd := factory()
	if len(sc.Value) > 0 {
		if err := json.Unmarshal(sc.Value, cmd); err != nil {
			return nil, decodeError(fmt.Sprintf("command %q has an invalid value", sc.Type), err)
		}
	}

	return cmd, nil
}

// Encode builds the message body for a command
func (c *Codec) Encode(cmd Command) ([]byte, *Payload, error) {
	serialized, err := c.Serialize(cmd)
	if err != nil {
		return nil, nil, err
	}

	payload := &Payload{
		UUID:        uuid.NewString(),
		DisplayName: cmd.CommandName(),
		Job:         cmd.CommandName(),
		Data: PayloadData{
			CommandName: cmd.CommandName(),
			Command:     &serialized,
		},
	}

	if limited, ok := cmd.(maxTrier); ok && limited.MaxTries() > 0 {
		tries := limited.MaxTries()
		payload.MaxTries = &tries
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return body, payload, nil
}

// Decode parses a message body into its descriptor
func (c *Codec) Decode(body []byte) (*Descriptor, error) {
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, decodeError("body is not a JSON job payload", err)
	}

	if payload.Data.Command == nil {
		return nil, decodeError("body has no data.command field", nil)
	}

	cmd, err := c.Unserialize(*payload.Data.Command)
	if err != nil {
		return nil, err
	}

	return &Descriptor{Payload: payload, Command: cmd}, nil
}

func (c *Codec) factory(name string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[name]
	return f, ok
}
