// Command tlsloop-log views and analyzes tlsloop event logs.
//
// Event logs are written by tlsloop when run with -event-log.
//
// Usage:
//
//	tlsloop-log <command> [flags] <file.tlog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSONL or CSV format
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View only milestones
//	tlsloop-log view -category milestone run.tlog
//
//	# Export the client side of one run to CSV
//	tlsloop-log export -format csv -role client -run-id 1f0c2a9e-... run.tlog
//
//	# Show statistics
//	tlsloop-log stats run.tlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tlsloop/tlsloop-go/cmd/tlsloop-log/commands"
	"github.com/tlsloop/tlsloop-go/pkg/log"
)

const usage = `tlsloop-log - tlsloop Event Log Analyzer

Usage:
  tlsloop-log <command> [flags] <file.tlog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSONL or CSV format
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "tlsloop-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// newFlagSet creates a flag set with the shared filter flags.
func newFlagSet(name, summary string) (*flag.FlagSet, *commands.FilterFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "tlsloop-log %s - %s\n\nUsage:\n  tlsloop-log %s [flags] <file.tlog>\n\nFlags:\n", name, summary, name)
		fs.PrintDefaults()
	}

	ff := &commands.FilterFlags{}
	fs.StringVar(&ff.RunID, "run-id", "", "Filter by run ID")
	fs.StringVar(&ff.EndpointID, "endpoint-id", "", "Filter by endpoint ID")
	fs.StringVar(&ff.Role, "role", "", "Filter by role (server, client, harness)")
	fs.StringVar(&ff.Layer, "layer", "", "Filter by layer (transport, tls, harness)")
	fs.StringVar(&ff.Category, "category", "", "Filter by category (state, milestone, payload, error)")
	fs.StringVar(&ff.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&ff.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	return fs, ff
}

// parse parses flags and returns the log path and filter, exiting on error.
func parse(fs *flag.FlagSet, ff *commands.FilterFlags, args []string) (string, log.Filter) {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	filter, err := ff.Build()
	if err != nil {
		fatal(err)
	}
	return fs.Arg(0), filter
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs, ff := newFlagSet("view", "View log file in human-readable format")
	path, filter := parse(fs, ff, args)

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fatal(err)
	}
}

func runExport(args []string) {
	fs, ff := newFlagSet("export", "Export log file to JSONL or CSV format")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path, filter := parse(fs, ff, args)

	if err := commands.RunExport(path, filter, *format, *output); err != nil {
		fatal(err)
	}
}

func runFilter(args []string) {
	fs, ff := newFlagSet("filter", "Filter log file and write to new file")
	output := fs.String("o", "", "Output file (required)")
	path, filter := parse(fs, ff, args)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	n, err := commands.RunFilter(path, *output, filter)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Filtered %d events to %s\n", n, *output)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, "tlsloop-log stats - Show statistics about the log file\n\nUsage:\n  tlsloop-log stats <file.tlog>\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}

	if err := commands.RunStats(fs.Arg(0), os.Stdout); err != nil {
		fatal(err)
	}
}
