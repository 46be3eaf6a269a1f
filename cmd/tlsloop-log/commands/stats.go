package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/tlsloop/tlsloop-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents      int
	EventsByRole     map[log.Role]int
	EventsByLayer    map[log.Layer]int
	EventsByCategory map[log.Category]int
	Runs             map[string]*RunSummary
	Errors           int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// RunSummary holds statistics for a single harness run.
type RunSummary struct {
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	Milestones map[log.Role]int
	Slowest    time.Duration
	SlowestOf  string
	Errors     int
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := collectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func collectStats(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByRole:     make(map[log.Role]int),
		EventsByLayer:    make(map[log.Layer]int),
		EventsByCategory: make(map[log.Category]int),
		Runs:             make(map[string]*RunSummary),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByRole[event.Role]++
		stats.EventsByLayer[event.Layer]++
		stats.EventsByCategory[event.Category]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		run, ok := stats.Runs[event.RunID]
		if !ok {
			run = &RunSummary{
				FirstSeen:  event.Timestamp,
				LastSeen:   event.Timestamp,
				Milestones: make(map[log.Role]int),
			}
			stats.Runs[event.RunID] = run
		}
		run.Events++
		if event.Timestamp.After(run.LastSeen) {
			run.LastSeen = event.Timestamp
		}
		if m := event.Milestone; m != nil {
			run.Milestones[event.Role]++
			if m.Elapsed > run.Slowest {
				run.Slowest = m.Elapsed
				run.SlowestOf = event.Role.String() + " " + m.Name
			}
		}
		if event.Error != nil {
			stats.Errors++
			run.Errors++
		}
	}
	return stats, nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== tlsloop Event Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Millisecond))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Role:")
	for _, r := range []log.Role{log.RoleServer, log.RoleClient, log.RoleHarness} {
		if count := stats.EventsByRole[r]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", r.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, l := range []log.Layer{log.LayerTransport, log.LayerTLS, log.LayerHarness} {
		if count := stats.EventsByLayer[l]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", l.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, c := range []log.Category{log.CategoryState, log.CategoryMilestone, log.CategoryPayload, log.CategoryError} {
		if count := stats.EventsByCategory[c]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", c.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Runs: %d\n", len(stats.Runs))
	if len(stats.Runs) > 0 {
		type runInfo struct {
			id    string
			stats *RunSummary
		}
		runs := make([]runInfo, 0, len(stats.Runs))
		for id, rs := range stats.Runs {
			runs = append(runs, runInfo{id, rs})
		}
		sort.Slice(runs, func(i, j int) bool {
			return runs[i].stats.FirstSeen.Before(runs[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, r := range runs {
			duration := r.stats.LastSeen.Sub(r.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortID(r.id), r.stats.Events, duration)
			fmt.Fprintf(w, "           Milestones: server %d, client %d\n",
				r.stats.Milestones[log.RoleServer], r.stats.Milestones[log.RoleClient])
			if r.stats.SlowestOf != "" {
				fmt.Fprintf(w, "           Slowest: %s (%s)\n", r.stats.SlowestOf, r.stats.Slowest.Round(time.Microsecond))
			}
			if r.stats.Errors > 0 {
				fmt.Fprintf(w, "           Errors: %d\n", r.stats.Errors)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
