package hashtable

import "testing"

func intHash(k int) uint32  { return uint32(k) }
func intEq(a, b int) bool   { return a == b }

func TestSetGetDel(t *testing.T) {
	tbl := New[int, string](4, intHash, intEq)
	if _, ok := tbl.Get(1); ok {
		t.Fatal("empty table returned a value")
	}
	if !tbl.Set(1, "one") {
		t.Fatal("Set on new key should report inserted")
	}
	if tbl.Set(1, "uno") {
		t.Fatal("Set on existing key should report not-inserted")
	}
	v, ok := tbl.Get(1)
	if !ok || v != "one" {
		t.Fatalf("got (%q, %v), want (\"one\", true)", v, ok)
	}
	tbl.Del(1)
	if _, ok := tbl.Get(1); ok {
		t.Fatal("key should be gone after Del")
	}
}

func TestManyKeysSameBucket(t *testing.T) {
	tbl := New[int, int](1, intHash, intEq)
	for i := 0; i < 100; i++ {
		tbl.Set(i, i*i)
	}
	if tbl.Size() != 100 {
		t.Fatalf("Size() = %d, want 100", tbl.Size())
	}
	for i := 0; i < 100; i++ {
		v, ok := tbl.Get(i)
		if !ok || v != i*i {
			t.Fatalf("Get(%d) = (%d, %v), want (%d, true)", i, v, ok, i*i)
		}
	}
	tbl.Del(42)
	if _, ok := tbl.Get(42); ok {
		t.Fatal("42 should have been deleted")
	}
	if tbl.Size() != 99 {
		t.Fatalf("Size() = %d, want 99", tbl.Size())
	}
}
