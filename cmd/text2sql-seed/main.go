package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/text2sql/text2sql/internal/config"
	duckdbengine "github.com/text2sql/text2sql/internal/query/duckdb"
	"github.com/text2sql/text2sql/internal/query/sqldb"
	"github.com/text2sql/text2sql/internal/sampledb"
	s3store "github.com/text2sql/text2sql/internal/storage/s3"
)

func main() {
	direction := flag.String("direction", "up", "install direction: up|down")
	steps := flag.Int("steps", 0, "number of versions; 0 means all for up, 1 for down")
	publish := flag.Bool("publish", false, "export the sample tables as parquet datasets to the configured bucket")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.LoadFromEnv("text2sql-seed")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, closeDB, err := openDatabase(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database open error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closeDB() }()

	installer := sampledb.NewInstaller()
	switch *direction {
	case "up":
		applied, err := installer.Up(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "install failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied %d sample version(s)\n", applied)
		counts, err := sampledb.Verify(ctx, db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "verification failed: %v\n", err)
			os.Exit(1)
		}
		printCounts(counts)
	case "down":
		reverted, err := installer.Down(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "revert failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("reverted %d sample version(s)\n", reverted)
	default:
		fmt.Fprintf(os.Stderr, "invalid direction: %s\n", *direction)
		os.Exit(1)
	}

	if !*publish {
		return
	}
	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:        cfg.Dataset.Endpoint,
		Region:          cfg.Dataset.Region,
		Bucket:          cfg.Dataset.Bucket,
		AccessKeyID:     cfg.Dataset.AccessKeyID,
		SecretAccessKey: cfg.Dataset.SecretAccessKey,
		UseSSL:          cfg.Dataset.UseSSL,
		Prefix:          cfg.Dataset.Prefix,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "dataset store error: %v\n", err)
		os.Exit(1)
	}
	objects, err := sampledb.Export(ctx, db, store, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "publish failed: %v\n", err)
		os.Exit(1)
	}
	for _, object := range objects {
		fmt.Printf("published %s (%d bytes)\n", object.Key, object.Size)
	}
}

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, func() error, error) {
	if strings.EqualFold(cfg.Database.Driver, "duckdb") {
		if strings.TrimSpace(cfg.Database.DSN) == "" {
			return nil, nil, fmt.Errorf("TEXT2SQL_DB_DSN must name a database file for duckdb")
		}
		engine, err := duckdbengine.Open(ctx, duckdbengine.Config{Path: cfg.Database.DSN})
		if err != nil {
			return nil, nil, err
		}
		return engine.DB(), engine.Close, nil
	}
	db, err := sqldb.Open(ctx, sqldb.DBConfig{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, MaxOpenConns: 1})
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}

func printCounts(counts map[string]int64) {
	tables := make([]string, 0, len(counts))
	for table := range counts {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		fmt.Printf("  %s: %d rows\n", table, counts[table])
	}
}
