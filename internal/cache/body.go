package cache

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// teeBody copies what the caller reads into a buffer and hands the full body to onComplete on Close.
//
// onComplete only runs if the caller reached EOF without overflowing the limit.
type teeBody struct {
	rc         io.ReadCloser
	buf        bytes.Buffer
	limit      int64
	eof        bool
	overflow   bool
	once       sync.Once
	onComplete func(body []byte)
}

func newTeeBody(rc io.ReadCloser, limit int64, onComplete func([]byte)) *teeBody {
	return &teeBody{rc: rc, limit: limit, onComplete: onComplete}
}

func (t *teeBody) Read(p []byte) (int, error) {
	n, err := t.rc.Read(p)
	if n > 0 && !t.overflow {
		if t.limit > 0 && int64(t.buf.Len()+n) > t.limit {
			t.overflow = true
			t.buf = bytes.Buffer{}
		} else {
			t.buf.Write(p[:n])
		}
	}
	if errors.Is(err, io.EOF) {
		t.eof = true
	}
	return n, err
}

func (t *teeBody) Close() error {
	err := t.rc.Close()
	t.once.Do(func() {
		if t.eof && !t.overflow {
			t.onComplete(t.buf.Bytes())
		}
	})
	return err
}
