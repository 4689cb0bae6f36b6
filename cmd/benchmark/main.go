// Command benchmark drives a deterministic key stream through a Tree
// and reports throughput and latency, grounded on the retrieval pack's
// own cmd/benchmark/main.go and common/benchmark/framework.go. Unlike
// that teacher, this harness runs single-threaded (spec §5 rules out
// concurrent access to begin with, so there is no worker pool to size)
// and measures three phases: sequential load, random-order point
// query, and an ordered range scan.
package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ryogrid/pagebplustree/btree"
	"github.com/ryogrid/pagebplustree/internal/latency"
	"github.com/ryogrid/pagebplustree/node"
	"github.com/ryogrid/pagebplustree/storage"
	"github.com/ryogrid/pagebplustree/storage/dataflashdriver"
	"github.com/ryogrid/pagebplustree/storage/filedriver"
	"github.com/ryogrid/pagebplustree/storage/ramdriver"
)

func main() {
	mode := flag.String("mode", "update-in-place", "storage mode: update-in-place, copy-on-write, overwrite, file")
	numKeys := flag.Int("keys", 50000, "number of distinct keys to load")
	pageSize := flag.Uint("page-size", 4096, "page size in bytes")
	frames := flag.Int("frames", 16, "buffer frame count")
	eraseBlock := flag.Uint("erase-block", 32, "erase block size in pages, for erase-before-write modes")
	mappingCap := flag.Int("mapping-capacity", 4096, "mapping table capacity, copy-on-write mode only")
	rangeSize := flag.Int("range", 1000, "number of keys to scan in the range-scan phase")
	seed := flag.Uint64("seed", 1, "LCG seed for the random-order query phase")
	flag.Parse()

	fmt.Println("pagebplustree benchmark")
	fmt.Println("=======================")
	fmt.Printf("mode=%s keys=%d pageSize=%d frames=%d\n\n", *mode, *numKeys, *pageSize, *frames)

	driver, treeMode, err := buildDriver(*mode, uint32(*pageSize), *numKeys, uint32(*eraseBlock))
	if err != nil {
		fmt.Fprintln(os.Stderr, "benchmark:", err)
		os.Exit(1)
	}
	defer driver.Close()

	cfg := btree.NewConfig(uint32(*pageSize), 4, 8, *frames, uint32(*eraseBlock), treeMode, capacityFor(treeMode, *mappingCap), bytes.Compare)
	tr, err := btree.Open(*cfg, driver)
	if err != nil {
		fmt.Fprintln(os.Stderr, "benchmark: open tree:", err)
		os.Exit(1)
	}
	defer tr.Close()

	loadStats := runLoad(tr, *numKeys)
	printPhase("Sequential load", loadStats)

	queryStats := runRandomQuery(tr, *numKeys, *seed)
	printPhase("Random-order query", queryStats)

	scanned, scanElapsed := runRangeScan(tr, *numKeys, *rangeSize)
	fmt.Printf("\n--- Range scan ---\n")
	fmt.Printf("keys scanned: %d\n", scanned)
	fmt.Printf("duration:     %v\n", scanElapsed)
	if scanElapsed > 0 {
		fmt.Printf("throughput:   %.0f keys/sec\n", float64(scanned)/scanElapsed.Seconds())
	}

	reads, writes := tr.Stats()
	fmt.Printf("\n--- Buffer stats ---\n")
	fmt.Printf("reads:  %d\n", reads)
	fmt.Printf("writes: %d\n", writes)
}

// capacityFor zeroes the mapping table outside copy-on-write mode,
// since only that mode ever consults it.
func capacityFor(mode node.Mode, requested int) int {
	if mode != node.ModeCopyOnWrite {
		return 0
	}
	return requested
}

func buildDriver(mode string, pageSize uint32, numKeys int, eraseBlock uint32) (storage.Driver, node.Mode, error) {
	// headroom accounts for interior pages and in-flight splits; a real
	// deployment would size this from the device's actual capacity.
	capacityPages := uint32(numKeys)/8 + 256

	switch mode {
	case "update-in-place":
		return ramdriver.New(pageSize, capacityPages), node.ModeUpdateInPlace, nil
	case "copy-on-write":
		return ramdriver.New(pageSize, capacityPages*3), node.ModeCopyOnWrite, nil
	case "overwrite":
		dir, err := os.MkdirTemp("", "pagebplustree-benchmark-*")
		if err != nil {
			return nil, 0, fmt.Errorf("create temp dir: %w", err)
		}
		d, err := dataflashdriver.Open(filepath.Join(dir, "nor.img"), pageSize, capacityPages, eraseBlock)
		if err != nil {
			return nil, 0, fmt.Errorf("open dataflash device: %w", err)
		}
		return d, node.ModeInPageOverwrite, nil
	case "file":
		dir, err := os.MkdirTemp("", "pagebplustree-benchmark-*")
		if err != nil {
			return nil, 0, fmt.Errorf("create temp dir: %w", err)
		}
		d, err := filedriver.Open(filepath.Join(dir, "btree.img"), pageSize, capacityPages)
		if err != nil {
			return nil, 0, fmt.Errorf("open direct-I/O file device: %w", err)
		}
		return d, node.ModeUpdateInPlace, nil
	default:
		return nil, 0, fmt.Errorf("unknown mode %q (want update-in-place, copy-on-write, overwrite, or file)", mode)
	}
}

func keyFor(i int) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(i))
	return b
}

func valueFor(i int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(i))
	return b
}

func runLoad(tr *btree.Tree, numKeys int) latency.Stats {
	h := latency.New(numKeys)
	for i := 0; i < numKeys; i++ {
		start := time.Now()
		if err := tr.Put(keyFor(i), valueFor(i)); err != nil {
			fmt.Fprintf(os.Stderr, "benchmark: put %d: %v\n", i, err)
			os.Exit(1)
		}
		h.Record(time.Since(start))
	}
	return h.Stats()
}

func runRandomQuery(tr *btree.Tree, numKeys int, seed uint64) latency.Stats {
	h := latency.New(numKeys)
	state := seed | 1
	for i := 0; i < numKeys; i++ {
		state = state*6364136223846793005 + 1442695040888963407
		k := int(state % uint64(numKeys))
		start := time.Now()
		if _, err := tr.Get(keyFor(k)); err != nil {
			fmt.Fprintf(os.Stderr, "benchmark: get %d: %v\n", k, err)
			os.Exit(1)
		}
		h.Record(time.Since(start))
	}
	return h.Stats()
}

func runRangeScan(tr *btree.Tree, numKeys, rangeSize int) (int, time.Duration) {
	if rangeSize > numKeys {
		rangeSize = numKeys
	}
	start := time.Now()
	if err := tr.InitIterator(keyFor(0), keyFor(rangeSize-1)); err != nil {
		fmt.Fprintf(os.Stderr, "benchmark: init iterator: %v\n", err)
		os.Exit(1)
	}
	count := 0
	for {
		if _, _, err := tr.Next(); err != nil {
			break
		}
		count++
	}
	return count, time.Since(start)
}

func printPhase(name string, s latency.Stats) {
	fmt.Printf("\n--- %s ---\n", name)
	fmt.Printf("ops: %d\n", s.Count)
	if s.Count == 0 {
		return
	}
	fmt.Printf("min:  %v\n", s.Min)
	fmt.Printf("mean: %v\n", s.Mean)
	fmt.Printf("p50:  %v\n", s.P50)
	fmt.Printf("p95:  %v\n", s.P95)
	fmt.Printf("p99:  %v\n", s.P99)
	fmt.Printf("max:  %v\n", s.Max)
}
