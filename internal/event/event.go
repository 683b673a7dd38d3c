package event

import "time"

// Channel names the five lifecycle streams the presentation layer may
// subscribe to. Anything outside this set is rejected at the bridge.
type Channel string

const (
	ChannelOutput    Channel = "output"
	ChannelError     Channel = "error"
	ChannelClosed    Channel = "closed"
	ChannelStopped   Channel = "stopped"
	ChannelRestarted Channel = "restarted"
)

// Channels lists every permitted channel in a fixed order.
var Channels = []Channel{ChannelOutput, ChannelError, ChannelClosed, ChannelStopped, ChannelRestarted}

// Valid reports whether c is one of the allowlisted channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelOutput, ChannelError, ChannelClosed, ChannelStopped, ChannelRestarted:
		return true
	}
	return false
}

// Event is a tagged lifecycle notification. Channel selects which of the
// payload fields are meaningful: Text for output/error, ExitCode and
// Unexpected for closed, none for stopped/restarted.
type Event struct {
	Channel    Channel   `json:"channel"`
	Text       string    `json:"text,omitempty"`
	ExitCode   int       `json:"exit_code"`
	Unexpected bool      `json:"unexpected"`
	At         time.Time `json:"at"`
}

func Output(line string) Event {
	return Event{Channel: ChannelOutput, Text: line, At: time.Now()}
}

func Error(text string) Event {
	return Event{Channel: ChannelError, Text: text, At: time.Now()}
}

// Closed reports subprocess termination. Unexpected is true exactly when the
// exit code is nonzero.
func Closed(exitCode int) Event {
	return Event{Channel: ChannelClosed, ExitCode: exitCode, Unexpected: exitCode != 0, At: time.Now()}
}

func Stopped() Event {
	return Event{Channel: ChannelStopped, At: time.Now()}
}

func Restarted() Event {
	return Event{Channel: ChannelRestarted, At: time.Now()}
}
