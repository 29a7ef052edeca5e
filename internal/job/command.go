package job

// Command is the unit of work carried inside a job payload.
//
// Every variant must expose its attempt counter so a consumer can bump it
// before the command is published again. The counter travels with the
// serialized command; the broker keeps no retry count of its own.
type Command interface {
	CommandName() string
	Attempts() uint
	SetAttempts(n uint)
}

// BaseCommand carries the attempt counter. Embed it in command structs.
type BaseCommand struct {
	Tries uint `json:"attempts"`
}

// Attempts returns how many times the command has been attempted
func (b *BaseCommand) Attempts() uint {
	return b.Tries
}

// SetAttempts overwrites the attempt counter
func (b *BaseCommand) SetAttempts(n uint) {
	b.Tries = n
}
