package job

// Payload is the JSON body of every job message
type Payload struct {
	UUID        string      `json:"uuid,omitempty"`
	DisplayName string      `json:"displayName,omitempty"`
	Job         string      `json:"job,omitempty"`
	MaxTries    *uint       `json:"maxTries,omitempty"`
	Data        PayloadData `json:"data"`
}

// PayloadData holds the serialized command
type PayloadData struct {
	CommandName string  `json:"commandName,omitempty"`
	Command     *string `json:"command"`
}

// Descriptor is a decoded payload together with its command
type Descriptor struct {
	Payload Payload
	Command Command
}

// Attempts returns the attempt counter carried by the command
func (d *Descriptor) Attempts() uint {
	return d.Command.Attempts()
}

// maxTrier is implemented by commands that carry their own retry limit
type maxTrier interface {
	MaxTries() uint
}

// Limits can be embedded next to BaseCommand to give a command a retry limit
type Limits struct {
	Limit uint `json:"max_tries,omitempty"`
}

// MaxTries returns the configured limit, 0 meaning the consumer default
func (l *Limits) MaxTries() uint {
	return l.Limit
}

// SetMaxTries sets the retry limit
func (l *Limits) SetMaxTries(n uint) {
	l.Limit = n
}
