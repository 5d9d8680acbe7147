package agent

import (
	"fmt"
	"io"
	"os"
)

// Speaker is the agent's output surface: wherever a command or plugin
// wants to say something back to whoever is driving it. An interface
// rather than a concrete writer so an embedder can redirect speech
// anywhere (a chat backend, a TTS queue) without the command/plugin
// packages knowing about it.
type Speaker interface {
	Say(format string, args ...any)
}

// WriterSpeaker writes each Say call as one line to an io.Writer.
type WriterSpeaker struct {
	W io.Writer
}

// NewStdoutSpeaker returns a Speaker that writes to os.Stdout.
func NewStdoutSpeaker() *WriterSpeaker {
	return &WriterSpeaker{W: os.Stdout}
}

// Say implements Speaker.
func (s *WriterSpeaker) Say(format string, args ...any) {
	fmt.Fprintf(s.W, format+"\n", args...)
}
