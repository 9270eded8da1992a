// Package lines turns a byte stream from a child process into text lines.
package lines

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"time"
)

// ErrIOFailure reports that the underlying stream failed before end of input.
var ErrIOFailure = errors.New("output stream failure")

const (
	defaultMaxLineBytes = 64 * 1024
	readChunkSize       = 4096
)

// Line is one unit of output. Partial is set when the text was flushed
// without a trailing newline after a period of silence. A Line with a
// non-nil Err is always the last value on the channel.
type Line struct {
	Text    string
	Partial bool
	Err     error
}

// Options tune Pump.
type Options struct {
	// PartialFlush emits buffered text that has no newline yet after this
	// much silence. Zero disables partial lines.
	PartialFlush time.Duration
	// MaxLineBytes splits lines longer than this. Zero uses 64 KiB.
	MaxLineBytes int
	// Buffer is the channel capacity.
	Buffer int
}

// Lines returns the lines of r with trailing "\n" and "\r" removed. Lines
// longer than 64 KiB are split. The sequence ends at EOF or when the
// consumer stops; a read error is yielded once as ErrIOFailure.
func Lines(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, readChunkSize), defaultMaxLineBytes)
		scanner.Split(splitLongLines)
		for scanner.Scan() {
			if !yield(string(bytes.TrimRight(scanner.Bytes(), "\r")), nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil && !isClosed(err) {
			yield("", fmt.Errorf("%w: %w", ErrIOFailure, err))
		}
	}
}

func splitLongLines(data []byte, atEOF bool) (int, []byte, error) {
	advance, token, err := bufio.ScanLines(data, atEOF)
	if advance == 0 && token == nil && err == nil && len(data) >= defaultMaxLineBytes {
		return defaultMaxLineBytes, data[:defaultMaxLineBytes], nil
	}
	return advance, token, err
}

type chunk struct {
	data []byte
	err  error
}

// Pump reads r on background goroutines and delivers lines on the returned
// channel, which is closed at end of stream or when ctx is done. The reading
// goroutine stays blocked in Read until r is closed by its owner.
func Pump(ctx context.Context, r io.Reader, opts Options) <-chan Line {
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = defaultMaxLineBytes
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}

	chunks := make(chan chunk)
	out := make(chan Line, opts.Buffer)

	go func() {
		defer close(chunks)
		for {
			buf := make([]byte, readChunkSize)
			n, err := r.Read(buf)
			if n > 0 {
				select {
				case chunks <- chunk{data: buf[:n]}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				select {
				case chunks <- chunk{err: err}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	go func() {
		defer close(out)
		a := assembler{out: out, ctx: ctx, max: opts.MaxLineBytes}

		var idle *time.Timer
		var idleC <-chan time.Time
		stopIdle := func() {
			if idle != nil {
				idle.Stop()
				idle, idleC = nil, nil
			}
		}
		defer stopIdle()

		for {
			select {
			case <-ctx.Done():
				return
			case <-idleC:
				idle, idleC = nil, nil
				if !a.flushPartial() {
					return
				}
			case c, ok := <-chunks:
				if !ok {
					a.flushRemainder()
					return
				}
				if c.err != nil {
					if !a.flushRemainder() {
						return
					}
					if !errors.Is(c.err, io.EOF) && !isClosed(c.err) {
						a.send(Line{Err: fmt.Errorf("%w: %w", ErrIOFailure, c.err)})
					}
					return
				}
				if !a.feed(c.data) {
					return
				}
				stopIdle()
				if opts.PartialFlush > 0 && a.buf.Len() > 0 {
					idle = time.NewTimer(opts.PartialFlush)
					idleC = idle.C
				}
			}
		}
	}()

	return out
}

type assembler struct {
	ctx context.Context
	out chan<- Line
	buf bytes.Buffer
	max int
}

func (a *assembler) send(l Line) bool {
	select {
	case a.out <- l:
		return true
	case <-a.ctx.Done():
		return false
	}
}

func (a *assembler) feed(data []byte) bool {
	a.buf.Write(data)
	for {
		b := a.buf.Bytes()
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			break
		}
		text := string(bytes.TrimRight(b[:i], "\r"))
		a.buf.Next(i + 1)
		if !a.sendSplit(text) {
			return false
		}
	}
	for a.buf.Len() > a.max {
		text := string(a.buf.Next(a.max))
		if !a.send(Line{Text: text}) {
			return false
		}
	}
	return true
}

func (a *assembler) sendSplit(text string) bool {
	for len(text) > a.max {
		if !a.send(Line{Text: text[:a.max]}) {
			return false
		}
		text = text[a.max:]
	}
	return a.send(Line{Text: text})
}

func (a *assembler) flushPartial() bool {
	if a.buf.Len() == 0 {
		return true
	}
	text := string(bytes.TrimRight(a.buf.Bytes(), "\r"))
	a.buf.Reset()
	return a.send(Line{Text: text, Partial: true})
}

func (a *assembler) flushRemainder() bool {
	if a.buf.Len() == 0 {
		return true
	}
	text := string(bytes.TrimRight(a.buf.Bytes(), "\r"))
	a.buf.Reset()
	return a.sendSplit(text)
}

func isClosed(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
