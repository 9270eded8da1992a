package lines

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct {
	data string
	done bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.done {
		f.done = true
		return copy(p, f.data), nil
	}
	return 0, errors.New("device gone")
}

func collect(t *testing.T, ch <-chan Line) []Line {
	t.Helper()
	var got []Line
	timeout := time.After(5 * time.Second)
	for {
		select {
		case l, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, l)
		case <-timeout:
			t.Fatal("timed out waiting for lines")
		}
	}
}

func TestLines(t *testing.T) {
	var got []string
	for line, err := range Lines(strings.NewReader("one\r\ntwo\n\nthree")) {
		require.NoError(t, err)
		got = append(got, line)
	}
	assert.Equal(t, []string{"one", "two", "", "three"}, got)
}

func TestLines_StopEarly(t *testing.T) {
	count := 0
	for range Lines(strings.NewReader("a\nb\nc\n")) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestLines_SplitsLongLines(t *testing.T) {
	long := strings.Repeat("a", defaultMaxLineBytes+10)
	var got []string
	for line, err := range Lines(strings.NewReader(long + "\nnext\n")) {
		require.NoError(t, err)
		got = append(got, line)
	}
	require.Len(t, got, 3)
	assert.Len(t, got[0], defaultMaxLineBytes)
	assert.Equal(t, strings.Repeat("a", 10), got[1])
	assert.Equal(t, "next", got[2])
}

func TestLines_ReadError(t *testing.T) {
	var errs []error
	for _, err := range Lines(&failingReader{data: "partial\n"}) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrIOFailure)
}

func TestPump(t *testing.T) {
	got := collect(t, Pump(context.Background(), strings.NewReader("alpha\nbeta\r\ngamma"), Options{}))
	assert.Equal(t, []Line{{Text: "alpha"}, {Text: "beta"}, {Text: "gamma"}}, got)
}

func TestPump_ReadErrorIsLast(t *testing.T) {
	got := collect(t, Pump(context.Background(), &failingReader{data: "x\ny"}, Options{}))
	require.Len(t, got, 3)
	assert.Equal(t, "x", got[0].Text)
	assert.Equal(t, "y", got[1].Text)
	assert.ErrorIs(t, got[2].Err, ErrIOFailure)
}

func TestPump_ClosedPipeIsEndOfStream(t *testing.T) {
	pr, pw := io.Pipe()
	ch := Pump(context.Background(), pr, Options{})
	go func() {
		_, _ = pw.Write([]byte("hello\n"))
		_ = pr.Close()
	}()
	got := collect(t, ch)
	assert.Equal(t, []Line{{Text: "hello"}}, got)
}

func TestPump_PartialFlush(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ch := Pump(context.Background(), pr, Options{PartialFlush: 20 * time.Millisecond})

	go func() { _, _ = pw.Write([]byte("? Use port 8082 instead? › ")) }()

	select {
	case l := <-ch:
		assert.True(t, l.Partial)
		assert.Equal(t, "? Use port 8082 instead? › ", l.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("partial line not flushed")
	}
}

func TestPump_SplitsLongLines(t *testing.T) {
	got := collect(t, Pump(context.Background(), strings.NewReader("abcdefgh\n"), Options{MaxLineBytes: 3}))
	assert.Equal(t, []Line{{Text: "abc"}, {Text: "def"}, {Text: "gh"}}, got)
}

func TestPump_CancelUnblocks(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	ch := Pump(ctx, pr, Options{})
	cancel()
	got := collect(t, ch)
	assert.Empty(t, got)
}
