package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"checkinsync/internal/database"
	"checkinsync/internal/queue"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ImportFile lists check-ins collected outside the agent, e.g. from a paper
// list or another device's dump.
type ImportFile struct {
	CheckIns []struct {
		TargetHash string `yaml:"target_hash"`
		EventID    string `yaml:"event_id"`
	} `yaml:"checkins"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		inPath = flag.String("in", "configs/checkins.yaml", "path to checkins yaml")
		dbPath = flag.String("db", "./data/checkin_queue.db", "path to sqlite db")
	)
	flag.Parse()

	data, err := os.ReadFile(*inPath)
	if err != nil {
		return fmt.Errorf("read checkins: %w", err)
	}
	var file ImportFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse checkins: %w", err)
	}
	if len(file.CheckIns) == 0 {
		return fmt.Errorf("no checkins in yaml")
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := queue.NewStore(db, &logger)
	pending, err := store.ListUnsynced(ctx)
	if err != nil {
		return fmt.Errorf("list unsynced: %w", err)
	}
	queued := make(map[string]bool, len(pending))
	for _, in := range pending {
		queued[in.TargetHash] = true
	}

	created := 0
	skipped := 0
	for _, c := range file.CheckIns {
		if c.TargetHash == "" || queued[c.TargetHash] {
			skipped++
			continue
		}
		if _, err = store.Enqueue(ctx, c.TargetHash, c.EventID); err != nil {
			return fmt.Errorf("enqueue %s: %w", c.TargetHash, err)
		}
		queued[c.TargetHash] = true
		created++
	}

	fmt.Printf("done: queued=%d skipped=%d\n", created, skipped)
	return nil
}
