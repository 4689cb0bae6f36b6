package buffer

import (
	"testing"

	"github.com/ryogrid/pagebplustree/internal/logx"
	"github.com/ryogrid/pagebplustree/node"
	"github.com/ryogrid/pagebplustree/pageid"
	"github.com/ryogrid/pagebplustree/storage/dataflashdriver"
	"github.com/ryogrid/pagebplustree/storage/ramdriver"
)

func TestReadCachesAtMostOneCopy(t *testing.T) {
	drv := ramdriver.New(128, 16)
	b, err := New(drv, 128, 3, 4, node.ModeUpdateInPlace, logx.Nop)
	if err != nil {
		t.Fatal(err)
	}
	f := b.InitFrame(0)
	copy(f.buf, []byte("hello"))
	id, err := b.Write(f)
	if err != nil {
		t.Fatal(err)
	}

	f1, err := b.Read(id)
	if err != nil {
		t.Fatal(err)
	}
	f2, err := b.Read(id)
	if err != nil {
		t.Fatal(err)
	}
	if f1 != f2 {
		t.Fatal("second Read of a cached page should return the same frame, not reload it")
	}
}

func TestWriteAllocatesDistinctPages(t *testing.T) {
	drv := ramdriver.New(128, 16)
	b, err := New(drv, 128, 3, 4, node.ModeUpdateInPlace, logx.Nop)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[pageid.ID]bool{}
	for i := 0; i < 5; i++ {
		f := b.InitFrame(0)
		id, err := b.Write(f)
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("page id %d reused across writes", id)
		}
		seen[id] = true
	}
}

func TestOverwriteRefreshesCachedFrame(t *testing.T) {
	drv := ramdriver.New(128, 16)
	b, err := New(drv, 128, 3, 4, node.ModeInPageOverwrite, logx.Nop)
	if err != nil {
		t.Fatal(err)
	}
	f := b.InitFrame(0)
	id, err := b.Write(f)
	if err != nil {
		t.Fatal(err)
	}
	cached, err := b.Read(id)
	if err != nil {
		t.Fatal(err)
	}

	// cached is frame 0, so the new contents are built in frame 1, and
	// past the header bytes that Overwrite stamps with a logical id.
	f2 := b.InitFrame(1)
	copy(f2.buf[node.HeaderSize:], []byte("updated"))
	if err := b.Overwrite(f2, id); err != nil {
		t.Fatal(err)
	}
	if cached.buf[node.HeaderSize] != 'u' {
		t.Fatal("Overwrite should refresh any other frame caching the same page")
	}
}

func TestEnsureSpaceReclaimsEraseBlock(t *testing.T) {
	dir := t.TempDir()
	drv, err := dataflashdriver.Open(dir+"/dev.img", 128, 16, 4)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(drv, 128, 3, 4, node.ModeCopyOnWrite, logx.Nop)
	if err != nil {
		t.Fatal(err)
	}
	b.SetCallbacks(
		func(pageid.ID) Reachability { return Unreachable },
		func(prev, curr pageid.ID, f *Frame) error { return nil },
	)

	// drain every free page on the device so ensureSpace must erase a
	// block to find room.
	for i := 0; i < 16; i++ {
		f := b.InitFrame(0)
		if _, err := b.Write(f); err != nil {
			t.Fatal(err)
		}
	}
	ok, err := b.EnsureSpace(1)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("EnsureSpace should reclaim an all-unreachable block")
	}
}

func TestEnsureSpaceReportsFullWhenEverythingLive(t *testing.T) {
	dir := t.TempDir()
	drv, err := dataflashdriver.Open(dir+"/dev.img", 128, 8, 4)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(drv, 128, 3, 4, node.ModeCopyOnWrite, logx.Nop)
	if err != nil {
		t.Fatal(err)
	}
	b.SetCallbacks(
		func(pageid.ID) Reachability { return Reachable },
		func(prev, curr pageid.ID, f *Frame) error { return nil },
	)
	for i := 0; i < 8; i++ {
		f := b.InitFrame(0)
		if _, err := b.Write(f); err != nil {
			t.Fatal(err)
		}
	}
	ok, err := b.EnsureSpace(1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("EnsureSpace should report full when the whole device is live")
	}
}
