package bitarray

import "testing"

func TestSetGet(t *testing.T) {
	b := New(17, false)
	if b.Len() != 17 {
		t.Fatalf("Len() = %d, want 17", b.Len())
	}
	for i := uint32(0); i < 17; i++ {
		if b.Get(i) {
			t.Fatalf("bit %d set at init", i)
		}
	}
	b.Set(0, true)
	b.Set(8, true)
	b.Set(16, true)
	for _, i := range []uint32{0, 8, 16} {
		if !b.Get(i) {
			t.Fatalf("bit %d not set after Set(true)", i)
		}
	}
	b.Set(8, false)
	if b.Get(8) {
		t.Fatal("bit 8 still set after Set(false)")
	}
	if !b.Get(0) || !b.Get(16) {
		t.Fatal("unrelated bits disturbed")
	}
}

func TestInitAllOnes(t *testing.T) {
	b := New(10, true)
	for i := uint32(0); i < 10; i++ {
		if !b.Get(i) {
			t.Fatalf("bit %d not set after New(n, true)", i)
		}
	}
}

func TestClear(t *testing.T) {
	b := New(33, true)
	b.Clear()
	for i := uint32(0); i < 33; i++ {
		if b.Get(i) {
			t.Fatalf("bit %d still set after Clear", i)
		}
	}
}

func TestCount(t *testing.T) {
	b := New(20, false)
	for _, i := range []uint32{1, 2, 3, 19} {
		b.Set(i, true)
	}
	if got := b.Count(); got != 4 {
		t.Fatalf("Count() = %d, want 4", got)
	}
}

func TestFirstSetClear(t *testing.T) {
	b := New(8, false)
	b.Set(5, true)
	if idx, ok := b.FirstSet(0); !ok || idx != 5 {
		t.Fatalf("FirstSet(0) = %d, %v, want 5, true", idx, ok)
	}
	if _, ok := b.FirstSet(6); ok {
		t.Fatal("FirstSet(6) should find nothing")
	}
	if idx, ok := b.FirstClear(5); !ok || idx != 6 {
		t.Fatalf("FirstClear(5) = %d, %v, want 6, true", idx, ok)
	}
}

func TestWrap(t *testing.T) {
	buf := make([]byte, 2)
	b := Wrap(buf, 12)
	b.Set(9, true)
	if buf[1]&0x02 == 0 {
		t.Fatal("Wrap did not alias the backing slice")
	}
}
