package record

import "fsipd/internal/capturelog"

// Recorder appends formatted records to a capture log. Each record is
// checked against the log's recorded identity before it is written.
type Recorder struct {
	log *capturelog.Writer
}

// NewRecorder binds a Recorder to an open capture log writer.
func NewRecorder(log *capturelog.Writer) *Recorder {
	return &Recorder{log: log}
}

// Capture writes rec as one line.
func (r *Recorder) Capture(rec Record) error {
	return r.log.AppendVerified(Format(rec))
}
