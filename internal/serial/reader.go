// Package serial reads frames printed by the vehicle's microcontroller over
// its USB serial console.
package serial

import (
	"bufio"
	"context"
	"io"

	"go.uber.org/zap"
)

// Reader splits a console stream into frames.
type Reader struct {
	src    io.Reader
	logger *zap.Logger
}

// NewReader wraps src, typically a port returned by Open.
func NewReader(src io.Reader, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{src: src, logger: logger}
}

// Run scans src until it ends or ctx is done, sending each complete frame on
// out. A partial frame pending at end of stream is sent as well. It returns
// nil at end of stream, ctx.Err() on cancellation, or the read error.
func (r *Reader) Run(ctx context.Context, out chan<- string) error {
	scan := bufio.NewScanner(r.src)

	lines := make(chan string)
	scanErr := make(chan error, 1)

	// Scan blocks on the port, so it runs apart from the select below.
	go func() {
		defer close(lines)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scan.Err()
	}()

	framer := NewFramer()
	emit := func(frame string) error {
		select {
		case out <- frame:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lines:
			if !ok {
				var err error
				select {
				case err = <-scanErr:
				default:
				}
				if frame, ok := framer.Flush(); ok {
					if emitErr := emit(frame); emitErr != nil {
						return emitErr
					}
				}
				if err != nil {
					r.logger.Warn("serial read failed", zap.Error(err))
				}
				return err
			}
			if frame, ok := framer.Push(line); ok {
				r.logger.Debug("serial frame", zap.Int("bytes", len(frame)))
				if err := emit(frame); err != nil {
					return err
				}
			}
		}
	}
}
