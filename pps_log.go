package main

import (
	"fmt"
	"os"
	"strconv"
)

// PpsLogger writes pulse-per-second events as line-oriented text: a header,
// then one line per event. Timestamps are interpolated between the wall-clock
// times of consecutive block starts.
type PpsLogger struct {
	file     *os.File
	isStdout bool
}

// NewPpsLogger opens the log file, "-" meaning standard output, and writes
// the header line.
func NewPpsLogger(filename string) (*PpsLogger, error) {
	l := &PpsLogger{}
	if filename == "-" {
		l.file = os.Stdout
		l.isStdout = true
	} else {
		f, err := os.Create(filename)
		if err != nil {
			return nil, fmt.Errorf("can not open '%s' (%v)", filename, err)
		}
		l.file = f
	}
	if _, err := fmt.Fprintf(l.file, "#pps_index sample_index   unix_time\n"); err != nil {
		return nil, fmt.Errorf("pps write failed (%v)", err)
	}
	return l, nil
}

// Log writes one event. prevBlockTime and blockTime are the Unix times at
// which the current and next block started; the event timestamp is
// interpolated between them by its position within the block.
func (l *PpsLogger) Log(ev PpsEvent, prevBlockTime, blockTime float64) error {
	ts := prevBlockTime + ev.BlockPosition*(blockTime-prevBlockTime)
	_, err := fmt.Fprintf(l.file, "%8s %14s %18.6f\n",
		strconv.FormatUint(ev.PpsIndex, 10),
		strconv.FormatUint(ev.SampleIndex, 10),
		ts)
	if err != nil {
		return fmt.Errorf("pps write failed (%v)", err)
	}
	return nil
}

// Close closes the log file unless it is stdout.
func (l *PpsLogger) Close() error {
	if l.isStdout {
		return nil
	}
	return l.file.Close()
}
