// Command seed-history fills a devlaunch data directory with sample runs so
// the history command and the status dashboard have something to show.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"devlaunch/internal/config"
	"devlaunch/internal/negotiate"
	"devlaunch/internal/storage"
)

func main() {
	home, _ := os.UserHomeDir()
	dataDir := flag.String("data-dir", filepath.Join(home, config.DefaultDataDir), "data directory to seed")
	count := flag.Int("count", 12, "number of runs to create")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	if err := os.MkdirAll(*dataDir, 0o700); err != nil {
		logger.Fatal("Failed to create data dir", zap.Error(err))
	}
	mgr, err := storage.NewManager(*dataDir, logger.Sugar())
	if err != nil {
		logger.Fatal("Failed to create storage manager", zap.Error(err))
	}
	defer mgr.Close()

	n, err := seed(mgr, time.Now().UTC(), *count)
	if err != nil {
		logger.Fatal("Failed to seed history", zap.Error(err))
	}
	fmt.Printf("Stored %d runs in %s\n", n, *dataDir)
}

// seed writes count runs ending at now, cycling through the common
// negotiation outcomes.
func seed(mgr *storage.Manager, now time.Time, count int) (int, error) {
	scenarios := []struct {
		profile string
		result  negotiate.Phase
		outcome []negotiate.Outcome
	}{
		{"expo", negotiate.PhaseReady, []negotiate.Outcome{negotiate.OutcomeSucceeded}},
		{"expo", negotiate.PhaseReady, []negotiate.Outcome{negotiate.OutcomeConflict, negotiate.OutcomeSucceeded}},
		{"web", negotiate.PhaseReady, []negotiate.Outcome{negotiate.OutcomeSucceeded}},
		{"expo", negotiate.PhaseDeclined, []negotiate.Outcome{negotiate.OutcomeConflict}},
		{"expo", negotiate.PhaseExhausted, []negotiate.Outcome{negotiate.OutcomeConflict, negotiate.OutcomeConflict, negotiate.OutcomeConflict}},
		{"web", negotiate.PhaseFailed, []negotiate.Outcome{negotiate.OutcomeFailed}},
	}

	for i := 0; i < count; i++ {
		sc := scenarios[i%len(scenarios)]
		started := now.Add(-time.Duration(count-i) * time.Hour)
		port := 8081
		if sc.profile == "web" {
			port = 8080
		}

		rec := &storage.RunRecord{
			Profile:     sc.profile,
			InitialPort: port,
			Result:      string(sc.result),
			Interactive: i%2 == 0,
			StartedAt:   started,
			Metadata:    map[string]string{"seeded": "true"},
		}
		at := started
		for j, outcome := range sc.outcome {
			a := negotiate.Attempt{
				Index:     j + 1,
				Port:      port + j,
				StartedAt: at,
				EndedAt:   at.Add(3 * time.Second),
				Outcome:   outcome,
			}
			rec.Attempts = append(rec.Attempts, a)
			at = a.EndedAt
		}
		rec.FinalPort = rec.Attempts[len(rec.Attempts)-1].Port
		rec.DurationMs = at.Sub(started).Milliseconds()
		if sc.result == negotiate.PhaseFailed {
			rec.Error = "dev server exited with code 1"
		}

		if err := mgr.SaveRun(rec); err != nil {
			return i, err
		}
	}
	return count, nil
}
