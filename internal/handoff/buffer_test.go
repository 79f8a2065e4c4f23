package handoff

import (
	"bytes"
	"sync"
	"testing"
)

func TestBuffer_WriteThenDrain(t *testing.T) {
	b := New(0)
	if b.Write([]byte("one")) {
		t.Fatal("first write cannot overwrite")
	}
	select {
	case <-b.Notify():
	default:
		t.Fatal("write must signal Notify")
	}

	got, ok := b.ReadAndClear()
	if !ok || string(got) != "one" {
		t.Fatalf("want one, got %q ok=%v", got, ok)
	}
	if _, ok := b.ReadAndClear(); ok {
		t.Fatal("slot must be empty after ReadAndClear")
	}
}

func TestBuffer_SecondWriteWins(t *testing.T) {
	b := New(0)
	b.Write([]byte("first"))
	if !b.Write([]byte("second")) {
		t.Fatal("second write must report overwrite")
	}
	got, _ := b.ReadAndClear()
	if string(got) != "second" {
		t.Fatalf("want second, got %q", got)
	}
	if n := b.Overwrites(); n != 1 {
		t.Fatalf("want 1 overwrite, got %d", n)
	}
}

func TestBuffer_TruncatesAndCopies(t *testing.T) {
	b := New(4)
	src := []byte("abcdefgh")
	b.Write(src)
	src[0] = 'X'

	if got := b.Peek(); string(got) != "abcd" {
		t.Fatalf("want abcd, got %q", got)
	}
	if got := b.Peek(); string(got) != "abcd" {
		t.Fatal("Peek must not consume")
	}
}

func TestBuffer_EmptyPeekIsNil(t *testing.T) {
	b := New(8)
	if b.Peek() != nil {
		t.Fatal("empty buffer must peek nil")
	}
}

func TestBuffer_ConcurrentWritesNeverTear(t *testing.T) {
	b := New(64)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			line := bytes.Repeat([]byte{byte('a' + w)}, 32)
			for i := 0; i < 500; i++ {
				b.Write(line)
			}
		}(w)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	check := func(p []byte) {
		if len(p) != 32 || !bytes.Equal(p, bytes.Repeat(p[:1], 32)) {
			t.Fatalf("torn read: %q", p)
		}
	}
	for {
		select {
		case <-done:
			if p, ok := b.ReadAndClear(); ok {
				check(p)
			}
			return
		default:
			if p, ok := b.ReadAndClear(); ok {
				check(p)
			}
		}
	}
}

func TestBuffer_MaxBytesDefaults(t *testing.T) {
	if got := New(0).MaxBytes(); got != DefaultMaxBytes {
		t.Fatalf("want %d, got %d", DefaultMaxBytes, got)
	}
	if got := New(16).MaxBytes(); got != 16 {
		t.Fatalf("want 16, got %d", got)
	}
}
