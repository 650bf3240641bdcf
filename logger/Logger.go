// Package logger implements tabular logging of training diagnostics.
// Diagnostics are accumulated over the course of an epoch and then
// summarized, printed, and appended to a progress file when the epoch
// ends.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stat describes how an accumulated diagnostic should be summarized
// when an epoch is dumped.
type Stat struct {
	name       string
	withMinMax bool
}

// AverageOnly returns a Stat which summarizes the named diagnostic
// with its average only.
func AverageOnly(name string) Stat {
	return Stat{name: name}
}

// WithMinAndMax returns a Stat which summarizes the named diagnostic
// with its average, standard deviation, minimum, and maximum.
func WithMinAndMax(name string) Stat {
	return Stat{name: name, withMinMax: true}
}

// Name returns the name of the diagnostic the Stat summarizes
func (s Stat) Name() string {
	return s.name
}

// Recorder records diagnostic values of a running experiment
type Recorder interface {
	// Store accumulates values of diagnostics over an epoch
	Store(map[string]float64)

	// StoreSlice accumulates whole slices of diagnostic values over
	// an epoch, so that summaries span every recorded sample
	StoreSlice(map[string][]float64)

	// LogTabular records a single value of a diagnostic for the
	// current epoch
	LogTabular(key string, value float64)

	// DumpTabular summarizes all diagnostics accumulated since the
	// last call, writes the summaries out, and resets the
	// accumulators. The computed summaries are returned.
	DumpTabular(stats ...Stat) (map[string]float64, error)
}

// EpochLogger is a Recorder which prints epoch summaries as an aligned
// table and appends them to a tab-separated progress file.
type EpochLogger struct {
	out         io.Writer
	progress    *os.File
	headers     []string
	wroteHeader bool

	stored  map[string][]float64
	current map[string]float64
	epoch   int
}

// NewEpochLogger returns a new EpochLogger which prints summaries to
// out and records them in a progress.tsv file under dir.
func NewEpochLogger(out io.Writer, dir string) (*EpochLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("newepochlogger: could not create output "+
			"directory: %v", err)
	}

	progress, err := os.Create(filepath.Join(dir, "progress.tsv"))
	if err != nil {
		return nil, fmt.Errorf("newepochlogger: could not create progress "+
			"file: %v", err)
	}

	return &EpochLogger{
		out:      out,
		progress: progress,
		stored:   make(map[string][]float64),
		current:  make(map[string]float64),
	}, nil
}

// Store accumulates values of diagnostics over an epoch
func (e *EpochLogger) Store(vals map[string]float64) {
	for key, val := range vals {
		e.stored[key] = append(e.stored[key], val)
	}
}

// StoreSlice accumulates whole slices of diagnostic values over an
// epoch
func (e *EpochLogger) StoreSlice(vals map[string][]float64) {
	for key, val := range vals {
		e.stored[key] = append(e.stored[key], val...)
	}
}

// LogTabular records a single value of a diagnostic for the current
// epoch
func (e *EpochLogger) LogTabular(key string, value float64) {
	e.current[key] = value
}

// DumpTabular summarizes all diagnostics accumulated since the last
// call, prints the summary table, appends a row to the progress file,
// and resets the accumulators. For each Stat argument, the values
// stored under the Stat's name are reduced to their average and,
// optionally, their standard deviation, minimum, and maximum.
func (e *EpochLogger) DumpTabular(stats ...Stat) (map[string]float64, error) {
	row := make(map[string]float64, len(e.current)+len(stats))

	row["Epoch"] = float64(e.epoch)
	for key, val := range e.current {
		row[key] = val
	}

	for _, s := range stats {
		vals := e.stored[s.name]
		if len(vals) == 0 {
			continue
		}

		row["Average"+s.name] = stat.Mean(vals, nil)
		if s.withMinMax {
			row["Std"+s.name] = stat.StdDev(vals, nil)
			row["Min"+s.name] = floats.Min(vals)
			row["Max"+s.name] = floats.Max(vals)
		}
	}

	if err := e.write(row); err != nil {
		return nil, fmt.Errorf("dumptabular: %v", err)
	}

	e.stored = make(map[string][]float64)
	e.current = make(map[string]float64)
	e.epoch++

	return row, nil
}

// Close closes the progress file of the EpochLogger
func (e *EpochLogger) Close() error {
	return e.progress.Close()
}

// write prints a single epoch summary and appends it to the progress
// file
func (e *EpochLogger) write(row map[string]float64) error {
	// Fix the column order on the first dump so that all rows of the
	// progress file line up
	if !e.wroteHeader {
		e.headers = make([]string, 0, len(row))
		for key := range row {
			e.headers = append(e.headers, key)
		}
		sort.Strings(e.headers)

		for i, header := range e.headers {
			if i > 0 {
				if _, err := fmt.Fprint(e.progress, "\t"); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprint(e.progress, header); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(e.progress); err != nil {
			return err
		}
		e.wroteHeader = true
	}

	// Print the summary table
	tab := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tab, "Diagnostic\tValue")
	for _, header := range e.headers {
		if val, ok := row[header]; ok {
			fmt.Fprintf(tab, "%v\t%.5g\n", header, val)
		}
	}
	if err := tab.Flush(); err != nil {
		return err
	}

	// Append the progress file row
	for i, header := range e.headers {
		if i > 0 {
			if _, err := fmt.Fprint(e.progress, "\t"); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(e.progress, "%v", row[header]); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(e.progress)

	return err
}

// Discard is a Recorder which drops all diagnostics
type Discard struct{}

// NewDiscard returns a new Recorder which drops all diagnostics
func NewDiscard() Discard {
	return Discard{}
}

// Store implements the Recorder interface
func (d Discard) Store(map[string]float64) {}

// StoreSlice implements the Recorder interface
func (d Discard) StoreSlice(map[string][]float64) {}

// LogTabular implements the Recorder interface
func (d Discard) LogTabular(string, float64) {}

// DumpTabular implements the Recorder interface
func (d Discard) DumpTabular(...Stat) (map[string]float64, error) {
	return map[string]float64{}, nil
}
