// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"context"
	"fmt"
	"io"
)

// Stream is the capability interface the transaction driver consumes. The
// core never dials a connection or opens a device itself; a Stream is
// always caller-supplied, already established, and owned by the caller.
//
// ReadFull must not return fewer than n bytes on success, and must fail on
// premature EOF.
type Stream interface {
	Write(ctx context.Context, p []byte) error
	ReadFull(ctx context.Context, n int) ([]byte, error)
	Close() error
}

// rwStream adapts any io.ReadWriteCloser into a Stream. Go's blocking
// io.Reader/io.Writer collapse a sync-write-then-drain sequence into one
// call, so Write covers both.
type rwStream struct {
	rwc io.ReadWriteCloser
}

// NewStream wraps a combined reader+writer (e.g. a net.Conn or an
// *os.File backing a serial port) as a Stream.
func NewStream(rwc io.ReadWriteCloser) Stream {
	return &rwStream{rwc: rwc}
}

func (s *rwStream) Write(ctx context.Context, p []byte) error {
	return runCancellable(ctx, func() error {
		_, err := s.rwc.Write(p)
		return err
	})
}

func (s *rwStream) ReadFull(ctx context.Context, n int) ([]byte, error) {
	buf := make([]byte, n)
	err := runCancellable(ctx, func() error {
		_, err := io.ReadFull(s.rwc, buf)
		return err
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *rwStream) Close() error {
	return s.rwc.Close()
}

// readerWriterStream adapts a separate reader and writer pair into a
// Stream. This is the shape produced when a caller has, e.g., a pipe's two
// halves rather than one combined object.
type readerWriterStream struct {
	r io.Reader
	w io.Writer
	c io.Closer
}

// NewReaderWriterStream combines a separate reader and writer (and an
// optional closer; pass nil to make Close a no-op) into a Stream.
func NewReaderWriterStream(r io.Reader, w io.Writer, c io.Closer) Stream {
	return &readerWriterStream{r: r, w: w, c: c}
}

func (s *readerWriterStream) Write(ctx context.Context, p []byte) error {
	return runCancellable(ctx, func() error {
		_, err := s.w.Write(p)
		return err
	})
}

func (s *readerWriterStream) ReadFull(ctx context.Context, n int) ([]byte, error) {
	buf := make([]byte, n)
	err := runCancellable(ctx, func() error {
		_, err := io.ReadFull(s.r, buf)
		return err
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *readerWriterStream) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}

// runCancellable runs a blocking I/O operation on a goroutine and races it
// against ctx cancellation. On cancellation the function returns ctx.Err()
// immediately; the goroutine's own I/O call is left to complete or fail on
// its own. A cancelled stream is left in an indeterminate state and must
// be closed and reopened by the caller, not resynchronized here.
func runCancellable(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	}
}
