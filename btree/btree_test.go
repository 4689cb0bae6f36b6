package btree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ryogrid/pagebplustree/node"
	"github.com/ryogrid/pagebplustree/storage/dataflashdriver"
	"github.com/ryogrid/pagebplustree/storage/ramdriver"
)

func key(n uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, n)
	return b
}

func val(n uint32) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n)*uint64(n))
	return b
}

func openUpdateInPlace(t *testing.T, pages uint32) *Tree {
	t.Helper()
	cfg := NewConfig(256, 4, 8, 3, 4, node.ModeUpdateInPlace, 0, bytes.Compare)
	drv := ramdriver.New(256, pages)
	t.Cleanup(func() { drv.Close() })
	tr, err := Open(*cfg, drv)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return tr
}

func openCopyOnWrite(t *testing.T, pages uint32, mappingCap int) *Tree {
	t.Helper()
	cfg := NewConfig(256, 4, 8, 3, 4, node.ModeCopyOnWrite, mappingCap, bytes.Compare)
	drv := ramdriver.New(256, pages)
	t.Cleanup(func() { drv.Close() })
	tr, err := Open(*cfg, drv)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return tr
}

func openOverwrite(t *testing.T, pages, blockPages uint32) *Tree {
	t.Helper()
	cfg := NewConfig(256, 4, 8, 4, blockPages, node.ModeInPageOverwrite, 0, bytes.Compare)
	drv, err := dataflashdriver.Open(filepath.Join(t.TempDir(), "nor.img"), 256, pages, blockPages)
	if err != nil {
		t.Fatalf("dataflashdriver.Open: %v", err)
	}
	t.Cleanup(func() { drv.Close() })
	tr, err := Open(*cfg, drv)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return tr
}

func TestUpdateInPlacePutGetRoundTrip(t *testing.T) {
	tr := openUpdateInPlace(t, 200)
	for i := uint32(0); i < 400; i++ {
		if err := tr.Put(key(i), val(i)); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	for i := uint32(0); i < 400; i++ {
		got, err := tr.Get(key(i))
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if !bytes.Equal(got, val(i)) {
			t.Fatalf("Get(%d) = %x, want %x", i, got, val(i))
		}
	}
}

func TestUpdateInPlaceOverwritesExistingKey(t *testing.T) {
	tr := openUpdateInPlace(t, 50)
	if err := tr.Put(key(7), val(7)); err != nil {
		t.Fatal(err)
	}
	newVal := []byte("replaced")
	newVal = append(newVal, make([]byte, 8-len(newVal))...)
	if err := tr.Put(key(7), newVal); err != nil {
		t.Fatal(err)
	}
	got, err := tr.Get(key(7))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, newVal) {
		t.Fatalf("Get after update = %x, want %x", got, newVal)
	}
}

func TestUpdateInPlaceMissingKey(t *testing.T) {
	tr := openUpdateInPlace(t, 50)
	if err := tr.Put(key(1), val(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Get(key(999)); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get(999) = %v, want ErrKeyNotFound", err)
	}
}

func TestCopyOnWritePutGetRoundTrip(t *testing.T) {
	tr := openCopyOnWrite(t, 20000, 16)
	for i := uint32(0); i < 300; i++ {
		if err := tr.Put(key(i), val(i)); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	for i := uint32(0); i < 300; i++ {
		got, err := tr.Get(key(i))
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if !bytes.Equal(got, val(i)) {
			t.Fatalf("Get(%d) = %x, want %x", i, got, val(i))
		}
	}
}

// TestCopyOnWriteMappingPressure drives enough splits that the
// deliberately tiny mapping table must drain via fixMappings' ancestor
// rewrite path (spec §4.5.3) rather than ever reporting ErrTreeFull.
func TestCopyOnWriteMappingPressure(t *testing.T) {
	tr := openCopyOnWrite(t, 40000, 8)
	for i := uint32(0); i < 1000; i++ {
		if err := tr.Put(key(i), val(i)); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	for i := uint32(0); i < 1000; i += 7 {
		got, err := tr.Get(key(i))
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if !bytes.Equal(got, val(i)) {
			t.Fatalf("Get(%d) = %x, want %x", i, got, val(i))
		}
	}
}

func TestOverwriteModePutGetRoundTrip(t *testing.T) {
	tr := openOverwrite(t, 300, 6)
	for i := uint32(0); i < 250; i++ {
		if err := tr.Put(key(i), val(i)); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	for i := uint32(0); i < 250; i++ {
		got, err := tr.Get(key(i))
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if !bytes.Equal(got, val(i)) {
			t.Fatalf("Get(%d) = %x, want %x", i, got, val(i))
		}
	}
}

func TestOverwriteModeUpdateExistingKey(t *testing.T) {
	tr := openOverwrite(t, 100, 4)
	if err := tr.Put(key(3), val(3)); err != nil {
		t.Fatal(err)
	}
	if err := tr.Put(key(3), val(30)); err != nil {
		t.Fatal(err)
	}
	got, err := tr.Get(key(3))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, val(30)) {
		t.Fatalf("Get(3) = %x, want %x", got, val(30))
	}
}

// TestOverwriteModeForcesEraseRelocation inserts enough records that
// erase-block reclamation (spec §4.3's ensureSpace) must run on a
// device whose block size and capacity are both small, driving
// movePage for relocated live pages (overwrite mode keeps no mapping
// table, so fixMappings does nothing here).
func TestOverwriteModeForcesEraseRelocation(t *testing.T) {
	tr := openOverwrite(t, 60, 4)
	for i := uint32(0); i < 400; i++ {
		if err := tr.Put(key(i), val(i)); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	for i := uint32(0); i < 400; i += 3 {
		got, err := tr.Get(key(i))
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if !bytes.Equal(got, val(i)) {
			t.Fatalf("Get(%d) = %x, want %x", i, got, val(i))
		}
	}
}

func drainIterator(t *testing.T, tr *Tree, minKey, maxKey []byte) []uint32 {
	t.Helper()
	if err := tr.InitIterator(minKey, maxKey); err != nil {
		t.Fatalf("InitIterator: %v", err)
	}
	var got []uint32
	for {
		k, _, err := tr.Next()
		if errors.Is(err, ErrIterDone) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, binary.BigEndian.Uint32(k))
	}
	return got
}

func TestUpdateInPlaceIteratorRange(t *testing.T) {
	tr := openUpdateInPlace(t, 300)
	for i := uint32(0); i < 500; i++ {
		if err := tr.Put(key(i), val(i)); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	got := drainIterator(t, tr, key(40), key(299))
	if len(got) != 260 {
		t.Fatalf("range [40,299] returned %d records, want 260", len(got))
	}
	for i, v := range got {
		want := uint32(40 + i)
		if v != want {
			t.Fatalf("record %d = %d, want %d", i, v, want)
		}
	}
}

func TestOverwriteModeIteratorRange(t *testing.T) {
	tr := openOverwrite(t, 400, 8)
	for i := uint32(0); i < 300; i++ {
		if err := tr.Put(key(i), val(i)); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	got := drainIterator(t, tr, key(10), key(99))
	if len(got) != 90 {
		t.Fatalf("range [10,99] returned %d records, want 90", len(got))
	}
	for i, v := range got {
		want := uint32(10 + i)
		if v != want {
			t.Fatalf("record %d = %d, want %d", i, v, want)
		}
	}
}

func TestCopyOnWriteIteratorFullScan(t *testing.T) {
	tr := openCopyOnWrite(t, 20000, 16)
	for i := uint32(0); i < 200; i++ {
		if err := tr.Put(key(i), val(i)); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	got := drainIterator(t, tr, nil, nil)
	if len(got) != 200 {
		t.Fatalf("full scan returned %d records, want 200", len(got))
	}
	for i, v := range got {
		if v != uint32(i) {
			t.Fatalf("record %d = %d, want %d", i, v, i)
		}
	}
}

// TestRandomInsertAndQuery replays spec §8's "random insert/query"
// end-to-end scenario: a deterministic pseudo-random permutation of a
// moderate key range, inserted out of order, then queried in a
// different order, across every storage mode.
func TestRandomInsertAndQuery(t *testing.T) {
	const n = 600
	perm := lcgPermutation(n, 1)
	queryOrder := lcgPermutation(n, 2)

	for _, mode := range []string{"update-in-place", "copy-on-write", "overwrite"} {
		mode := mode
		t.Run(mode, func(t *testing.T) {
			var tr *Tree
			switch mode {
			case "update-in-place":
				tr = openUpdateInPlace(t, 600)
			case "copy-on-write":
				tr = openCopyOnWrite(t, 60000, 24)
			case "overwrite":
				tr = openOverwrite(t, 500, 8)
			}
			for _, i := range perm {
				if err := tr.Put(key(uint32(i)), val(uint32(i))); err != nil {
					t.Fatalf("Put(%d): %v", i, err)
				}
			}
			for _, i := range queryOrder {
				got, err := tr.Get(key(uint32(i)))
				if err != nil {
					t.Fatalf("Get(%d): %v", i, err)
				}
				if !bytes.Equal(got, val(uint32(i))) {
					t.Fatalf("Get(%d) = %x, want %x", i, got, val(uint32(i)))
				}
			}
		})
	}
}

// lcgPermutation deterministically shuffles 0..n-1 with a small linear
// congruential generator (stdlib-only; spec §8's scenarios call for a
// seeded pseudo-random order, not true randomness, so results are
// reproducible without math/rand's global state).
func lcgPermutation(n int, seed uint32) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	state := seed | 1
	for i := n - 1; i > 0; i-- {
		state = state*1664525 + 1013904223
		j := int(state) % (i + 1)
		if j < 0 {
			j += i + 1
		}
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func TestFlushAndReopenRecoversState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nor.img")
	cfg := NewConfig(256, 4, 8, 4, 6, node.ModeInPageOverwrite, 0, bytes.Compare)

	drv, err := dataflashdriver.Open(path, 256, 300, 6)
	if err != nil {
		t.Fatalf("Open driver: %v", err)
	}
	tr, err := Open(*cfg, drv)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := uint32(0); i < 150; i++ {
		if err := tr.Put(key(i), val(i)); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	drv2, err := dataflashdriver.Open(path, 256, 300, 6)
	if err != nil {
		t.Fatalf("reopen driver: %v", err)
	}
	defer drv2.Close()
	tr2, err := Open(*cfg, drv2)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	for i := uint32(0); i < 150; i++ {
		got, err := tr2.Get(key(i))
		if err != nil {
			t.Fatalf("Get(%d) after reopen: %v", i, err)
		}
		if !bytes.Equal(got, val(i)) {
			t.Fatalf("Get(%d) after reopen = %x, want %x", i, got, val(i))
		}
	}
}

func TestTreeFullReportsErrTreeFull(t *testing.T) {
	tr := openUpdateInPlace(t, 3)
	var lastErr error
	for i := uint32(0); i < 1000; i++ {
		if err := tr.Put(key(i), val(i)); err != nil {
			lastErr = err
			break
		}
	}
	if !errors.Is(lastErr, ErrTreeFull) {
		t.Fatalf("expected ErrTreeFull on a 3-page device, got %v", lastErr)
	}
}
