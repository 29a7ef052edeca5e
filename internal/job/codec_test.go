package job

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type impostorCommand struct {
	BaseCommand
}

func (c *impostorCommand) CommandName() string { return "test.report" }

func TestCodec_Register(t *testing.T) {
	tests := []struct {
		name    string
		factory Factory
		wantErr string
	}{
		{
			name:    "duplicate name",
			factory: func() Command { return &impostorCommand{} },
			wantErr: "command already registered",
		},
		{
			name:    "nil command",
			factory: func() Command { return nil },
			wantErr: "returned nil",
		},
		{
			name:    "new name",
			factory: func() Command { return &otherCommand{} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := newTestCodec(t)

			err := codec.Register(tt.factory)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"test.other", "test.report"}, codec.Names())
		})
	}
}

func TestCodec_MustRegister_Panics(t *testing.T) {
	codec := newTestCodec(t)
	assert.Panics(t, func() {
		codec.MustRegister(func() Command { return &testCommand{} })
	})
}

func TestCodec_Serialize_RejectsUnregistered(t *testing.T) {
	codec := newTestCodec(t)

	_, err := codec.Serialize(&otherCommand{})
	require.ErrorIs(t, err, ErrUnregisteredCommand)

	_, err = codec.Serialize(&impostorCommand{})
	require.ErrorIs(t, err, ErrUnregisteredCommand, "a different type reusing a registered name is rejected")

	_, err = codec.Serialize(nil)
	require.ErrorIs(t, err, ErrUnregisteredCommand)

	_, _, err = codec.Encode(&otherCommand{})
	require.ErrorIs(t, err, ErrUnregisteredCommand)
}

func TestCodec_EncodeDecode(t *testing.T) {
	codec := newTestCodec(t)

	cmd := withAttempts(6)
	cmd.SetMaxTries(10)

	body, payload, err := codec.Encode(cmd)
	require.NoError(t, err)
	assert.NotEmpty(t, payload.UUID)
	assert.Equal(t, "test.report", payload.DisplayName)
	assert.Equal(t, "test.report", payload.Data.CommandName)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(body, &generic))
	data := generic["data"].(map[string]any)
	assert.IsType(t, "", data["command"], "data.command is a serialized string")
	assert.Equal(t, float64(10), generic["maxTries"])

	desc, err := codec.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, uint(6), desc.Attempts())
	assert.Equal(t, payload.UUID, desc.Payload.UUID)

	decoded, ok := desc.Command.(*testCommand)
	require.True(t, ok)
	assert.Equal(t, "monthly", decoded.Report)
}

func TestCodec_New(t *testing.T) {
	codec := newTestCodec(t)

	cmd, err := codec.New("test.report", json.RawMessage(`{"report":"weekly","max_tries":2}`))
	require.NoError(t, err)

	report := cmd.(*testCommand)
	assert.Equal(t, "weekly", report.Report)
	assert.Equal(t, uint(2), report.MaxTries())
	assert.Zero(t, report.Attempts())

	_, err = codec.New("missing", nil)
	require.ErrorIs(t, err, ErrUnregisteredCommand)

	_, err = codec.New("test.report", json.RawMessage(`[1,2]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments")
}
