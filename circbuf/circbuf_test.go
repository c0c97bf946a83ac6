package circbuf

import "testing"

func TestWriteReadRoundtrip(t *testing.T) {
	cb := MkCircbuf(8)
	n := cb.Write([]uint8("hello"))
	if n != 5 {
		t.Fatalf("Write returned %d, want 5", n)
	}
	buf := make([]uint8, 5)
	n = cb.Read(buf)
	if n != 5 || string(buf) != "hello" {
		t.Fatalf("Read returned (%d, %q), want (5, \"hello\")", n, buf)
	}
	if !cb.Empty() {
		t.Fatal("buffer should be empty after draining")
	}
}

func TestOverflowDropsSilently(t *testing.T) {
	cb := MkCircbuf(4)
	n := cb.Write([]uint8("abcdef"))
	if n != 4 {
		t.Fatalf("Write returned %d, want 4 (capacity)", n)
	}
	if !cb.Full() {
		t.Fatal("buffer should report full")
	}
	if ok := cb.PutByte('x'); ok {
		t.Fatal("PutByte on a full buffer should report false")
	}
}

func TestWraparound(t *testing.T) {
	cb := MkCircbuf(4)
	cb.Write([]uint8("ab"))
	out := make([]uint8, 1)
	cb.Read(out)
	cb.Write([]uint8("cde"))
	got := make([]uint8, 4)
	n := cb.Read(got)
	if n != 4 || string(got) != "bcde" {
		t.Fatalf("Read after wraparound = (%d, %q), want (4, \"bcde\")", n, got)
	}
}
