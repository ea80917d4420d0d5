package objectstore

import (
	"bufio"
	"bytes"
	"io"

	"github.com/opencore-vcs/gitcore/object"
)

// headerReader renders the "<type> <size>\0" envelope as a stream, so it
// can be concatenated with content via io.MultiReader without an
// intermediate allocation for the whole object.
func headerReader(t object.Type, size int64) io.Reader {
	var buf bytes.Buffer
	object.WriteHeader(&buf, t, size)
	return &buf
}

func newBufReader(r io.Reader) *bufio.Reader {
	return bufio.NewReader(r)
}

// bufThenClose exposes a bufio.Reader's remaining buffered + underlying
// bytes as an io.ReadCloser backed by the original closer.
type bufThenClose struct {
	br *bufio.Reader
	c  io.Closer
}

func (b *bufThenClose) Read(p []byte) (int, error) { return b.br.Read(p) }
func (b *bufThenClose) Close() error                { return b.c.Close() }

type emptyReader struct{}

func (emptyReader) Read(p []byte) (int, error) { return 0, io.EOF }

func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }
