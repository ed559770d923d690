package bucket

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Sink receives reports of contained callback failures. The default
// sink writes them through zerolog.
type Sink interface {
	Report(msg string)
}

type logSink struct{}

func (logSink) Report(msg string) {
	log.Error().Msg(msg)
}

// Dispatcher invokes consumer callbacks behind a panic barrier so a
// failing callback can never corrupt bucket state or take down the
// flush machinery. A failure is reported to the sink exactly once and
// the flush otherwise proceeds normally.
type Dispatcher struct {
	sink Sink
}

// NewDispatcher creates a Dispatcher reporting to sink. A nil sink
// falls back to the zerolog sink.
func NewDispatcher(sink Sink) *Dispatcher {
	if sink == nil {
		sink = logSink{}
	}
	return &Dispatcher{sink: sink}
}

// Invoke calls cb with the flushed counts, trapping any panic.
func (d *Dispatcher) Invoke(cb Callback, counts map[string]uint64) {
	defer func() {
		if rec := recover(); rec != nil {
			d.sink.Report(fmt.Sprintf("bucket: flush callback panicked: %v", rec))
		}
	}()
	cb(counts)
}
