package kfmt

import (
	"bytes"
	"io"
	"testing"
)

func TestRingBufferReadWrite(t *testing.T) {
	var rb ringBuffer

	if _, err := rb.Read(make([]byte, 4)); err != io.EOF {
		t.Fatalf("expected reading an empty buffer to return io.EOF; got %v", err)
	}

	payload := []byte("the quick brown fox")
	if n, err := rb.Write(payload); n != len(payload) || err != nil {
		t.Fatalf("expected Write to return (%d, nil); got (%d, %v)", len(payload), n, err)
	}

	var buf bytes.Buffer
	io.Copy(&buf, &rb)
	if exp, got := string(payload), buf.String(); got != exp {
		t.Fatalf("expected to read back %q; got %q", exp, got)
	}
}

func TestRingBufferOverwritesOldest(t *testing.T) {
	var rb ringBuffer

	// Fill the buffer past its capacity; the oldest bytes must be dropped.
	for i := 0; i < ringBufferSize; i++ {
		rb.Write([]byte{'x'})
	}
	rb.Write([]byte("tail"))

	var buf bytes.Buffer
	io.Copy(&buf, &rb)

	got := buf.String()
	if exp := ringBufferSize - 1; len(got) != exp {
		t.Fatalf("expected a full buffer to retain %d bytes; got %d", exp, len(got))
	}
	if exp := "tail"; got[len(got)-4:] != exp {
		t.Fatalf("expected the newest bytes to survive; got trailing %q", got[len(got)-4:])
	}
}

func TestRingBufferWrappedRead(t *testing.T) {
	var rb ringBuffer

	// Force the write index to wrap so that a read must be split in two.
	pad := make([]byte, ringBufferSize-8)
	rb.Write(pad)
	io.Copy(io.Discard, &rb)

	rb.Write([]byte("0123456789abcdef"))

	var buf bytes.Buffer
	io.Copy(&buf, &rb)
	if exp, got := "0123456789abcdef", buf.String(); got != exp {
		t.Fatalf("expected to read back %q across the wrap point; got %q", exp, got)
	}
}
