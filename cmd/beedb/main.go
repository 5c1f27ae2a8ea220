// BeeDB demo entry point
// Opens an engine, runs a small transactional workload and reports stats
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jamal-zag/beedb/internal/metrics"
	"github.com/jamal-zag/beedb/pkg/engine"
	"github.com/jamal-zag/beedb/pkg/table"
)

var (
	dbPath  = flag.String("db", "beedb.pages", "Page file path")
	cfgPath = flag.String("config", "", "Optional yaml config file")
	rows    = flag.Int("rows", 1000, "Rows to insert")
)

func main() {
	flag.Parse()

	log.Printf("BeeDB v1.0.0")

	cfg := engine.DefaultConfig()
	if *cfgPath != "" {
		loaded, err := engine.LoadConfig(*cfgPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if cfg.Path == "" {
		cfg.Path = *dbPath
	}

	eng, err := engine.Open(cfg, metrics.NewMetrics())
	if err != nil {
		log.Fatalf("Failed to open engine: %v", err)
	}
	defer eng.Close()

	schema := table.NewSchema(
		table.Column{Name: "id", Type: table.Integer},
		table.Column{Name: "name", Type: table.Char, Length: 16},
	)
	accounts := eng.CreateTable(schema)

	// Insert a batch of rows in one transaction
	txn := eng.Begin()
	for i := 0; i < *rows; i++ {
		_, err := eng.Insert(txn, accounts, []table.Value{
			table.NewIntValue(int64(i)),
			table.NewCharValue(fmt.Sprintf("row-%d", i)),
		})
		if err != nil {
			log.Fatalf("Insert failed: %v", err)
		}
	}
	if err := eng.Commit(txn); err != nil {
		log.Fatalf("Commit failed: %v", err)
	}

	// Scan them back under a fresh snapshot
	reader := eng.Begin()
	visible, err := eng.Scan(reader, accounts, nil)
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}
	if err := eng.Commit(reader); err != nil {
		log.Fatalf("Read-only commit failed: %v", err)
	}

	fmt.Printf("rows inserted:   %d\n", *rows)
	fmt.Printf("rows visible:    %d\n", len(visible))
	fmt.Printf("pages in file:   %d\n", eng.PageCount())
	fmt.Printf("evicted frames:  %d\n", eng.EvictedFrames())

	if len(visible) != *rows {
		fmt.Fprintln(os.Stderr, "row count mismatch")
		os.Exit(1)
	}
}
