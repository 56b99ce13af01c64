package regerr

import (
	"fmt"

	"github.com/golang/glog"
)

// Message is a user-facing report emitted by the engine.
type Message struct {
	Kind Kind
	Text string
}

func (m Message) String() string {
	if m.Kind == KindNone {
		return m.Text
	}
	return fmt.Sprintf("[%s] %s", m.Kind, m.Text)
}

// Sink receives messages. It is called synchronously on the caller's
// goroutine.
type Sink func(m Message)

// GlogSink logs errors as warnings and everything else as info.
func GlogSink(m Message) {
	if m.Kind == KindNone {
		glog.Infof("%s", m.Text)
		return
	}
	glog.Warningf("%s", m)
}

// Report sends err to sink, classified by KindOf.
func (s Sink) Report(err error) {
	if s == nil || err == nil {
		return
	}
	for _, e := range Flatten(err) {
		s(Message{Kind: KindOf(e), Text: e.Error()})
	}
}

func (s Sink) Infof(format string, params ...interface{}) {
	if s == nil {
		return
	}
	s(Message{Text: fmt.Sprintf(format, params...)})
}
