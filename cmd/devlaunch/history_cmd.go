package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"devlaunch/internal/storage"
)

var (
	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show recent launches",
		Long: `Show recent launches with their outcome, ports and attempts, newest first.

Examples:
  devlaunch history
  devlaunch history --profile expo --result exhausted
  devlaunch history --since 24h --output=json`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}

	historyProfile string
	historyResult  string
	historySince   time.Duration
	historyLimit   int
	historyOffset  int
)

// GetHistoryCommand returns the history command
func GetHistoryCommand() *cobra.Command {
	return historyCmd
}

func init() {
	historyCmd.Flags().StringVarP(&historyProfile, "profile", "p", "", "Only runs of this profile")
	historyCmd.Flags().StringVar(&historyResult, "result", "", "Only runs that ended in this phase (ready, exhausted, declined, failed, aborted)")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "Only runs started within this duration")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum runs to show")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "Skip this many runs")
}

// historyView is a page of run history.
type historyView struct {
	Runs  []*storage.RunRecord `json:"runs" yaml:"runs"`
	Total int                  `json:"total" yaml:"total"`
}

func (v historyView) Headers() []string {
	return []string{"STARTED", "PROFILE", "RESULT", "PORTS", "ATTEMPTS", "DURATION", "PUBLIC URL"}
}

func (v historyView) Rows() [][]string {
	rows := make([][]string, 0, len(v.Runs))
	for _, r := range v.Runs {
		ports := strconv.Itoa(r.FinalPort)
		if r.InitialPort != r.FinalPort {
			ports = fmt.Sprintf("%d→%d", r.InitialPort, r.FinalPort)
		}
		rows = append(rows, []string{
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Profile,
			r.Result,
			ports,
			strconv.Itoa(len(r.Attempts)),
			(time.Duration(r.DurationMs) * time.Millisecond).String(),
			dash(r.TunnelURL),
		})
	}
	return rows
}

// historyFilter builds the storage filter from the flags.
func historyFilter(now time.Time) storage.RunFilter {
	f := storage.RunFilter{
		Profile: historyProfile,
		Result:  historyResult,
		Limit:   historyLimit,
		Offset:  historyOffset,
	}
	if historySince > 0 {
		f.Since = now.Add(-historySince)
	}
	return f
}

func runHistory(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, _, err := setupLogger(cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	history, err := openHistory(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = history.Close() }()

	runs, total, err := history.ListRuns(historyFilter(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	return printResult(historyView{Runs: runs, Total: total})
}
