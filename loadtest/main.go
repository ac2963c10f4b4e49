package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"catalogsync/client"
	v1 "catalogsync/pkg/api/v1"
	"catalogsync/pkg/constraints"
	"catalogsync/pkg/logger"
)

// Configuration
var (
	baseURL     = flag.String("url", "http://localhost:8080", "Server base URL")
	apiKey      = flag.String("key", "catalogsync-loadtest-key", "API key")
	totalVUs    = flag.Int("c", 20, "Concurrent uploads")
	rows        = flag.Int("rows", 50000, "Data rows per file")
	invalidRate = flag.Float64("invalid", 0.01, "Fraction of rows with an empty identifier")
	dupRate     = flag.Float64("dup", 0.05, "Fraction of rows repeating an earlier identifier in another case")
	rampUp      = flag.Duration("ramp", 10*time.Second, "Ramp up duration")
)

// Metrics
var (
	activeUploads int64
	completed     int64
	failed        int64
	uploadErrors  int64
	rowsDone      int64
	latencySum    int64 // milliseconds
	latencyCount  int64
)

func main() {
	flag.Parse()
	logger.InitLogger("prod", logger.WithLevel("warn"))

	fmt.Printf("Starting catalog load test\n")
	fmt.Printf("   Target: %s\n", *baseURL)
	fmt.Printf("   Uploads: %d x %d rows\n", *totalVUs, *rows)
	fmt.Printf("   Ramp: %v\n", *rampUp)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metric Reporter
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report()
			}
		}
	}()

	c := client.New(*baseURL, *apiKey)
	interval := *rampUp / time.Duration(*totalVUs)
	for i := 0; i < *totalVUs; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runUpload(ctx, c, id)
		}(i)
		time.Sleep(interval)
	}

	fmt.Println("All uploads launched. Waiting...")
	wg.Wait()
	report()
}

func report() {
	latCnt := atomic.LoadInt64(&latencyCount)
	avgLat := float64(0)
	if latCnt > 0 {
		avgLat = float64(atomic.LoadInt64(&latencySum)) / float64(latCnt)
	}
	fmt.Printf("[%s] Active: %d | Completed: %d | Failed: %d | Upload errors: %d | Rows: %d | Avg import: %.0f ms\n",
		time.Now().Format("15:04:05"),
		atomic.LoadInt64(&activeUploads),
		atomic.LoadInt64(&completed),
		atomic.LoadInt64(&failed),
		atomic.LoadInt64(&uploadErrors),
		atomic.LoadInt64(&rowsDone),
		avgLat)
}

func runUpload(ctx context.Context, c *client.Client, id int) {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeCatalog(pw, id, *rows, rand.New(rand.NewSource(int64(id)))))
	}()

	start := time.Now()
	accepted, err := c.Upload(ctx, fmt.Sprintf("loadtest-%d.csv", id), pr)
	if err != nil {
		if atomic.AddInt64(&uploadErrors, 1) == 1 {
			fmt.Printf("Upload error: %v\n", err)
		}
		return
	}

	atomic.AddInt64(&activeUploads, 1)
	defer atomic.AddInt64(&activeUploads, -1)

	var last int
	err = c.Watch(ctx, accepted.TaskID, func(st v1.ImportStatus) {
		if st.Current != nil {
			atomic.AddInt64(&rowsDone, int64(*st.Current-last))
			last = *st.Current
		}
		switch st.State {
		case constraints.StatusCompleted:
			atomic.AddInt64(&completed, 1)
		case constraints.StatusFailed:
			atomic.AddInt64(&failed, 1)
			fmt.Printf("Import %s failed: %s\n", accepted.TaskID, st.Error)
		}
	})
	if err != nil {
		fmt.Printf("Watch %s: %v\n", accepted.TaskID, err)
		return
	}
	atomic.AddInt64(&latencySum, time.Since(start).Milliseconds())
	atomic.AddInt64(&latencyCount, 1)
}

// writeCatalog emits a catalog with a share of invalid rows and of
// identifiers that differ from an earlier row only by case.
func writeCatalog(w io.Writer, id, n int, rnd *rand.Rand) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"identifier", "name", "description", "active"}); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		ident := fmt.Sprintf("LT%d-SKU-%06d", id, i)
		switch r := rnd.Float64(); {
		case r < *invalidRate:
			ident = ""
		case r < *invalidRate+*dupRate && i > 0:
			ident = strings.ToLower(fmt.Sprintf("LT%d-SKU-%06d", id, rnd.Intn(i)))
		}
		rec := []string{ident, "Product " + strconv.Itoa(i), "generated by loadtest", strconv.FormatBool(rnd.Intn(10) > 0)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
