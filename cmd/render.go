package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/olekukonko/tablewriter"

	"github.com/JakeFAU/ingest-progress/internal/model"
	"github.com/JakeFAU/ingest-progress/internal/progress"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	return table
}

// renderJob prints one job's reconciled tables followed by its rollup line.
func renderJob(w io.Writer, view progress.JobView) {
	fmt.Fprintf(w, "job %s (%s)\n", view.Job.ID, displayStatus(view.Job.Status))
	table := newTable(w, "TABLE", "STATUS", "ROWS", "TOTAL", "PROGRESS", "ERROR")
	for _, tp := range view.Tables {
		total := "-"
		if tp.TotalRows != nil {
			total = strconv.FormatInt(*tp.TotalRows, 10)
		}
		table.Append([]string{
			tp.Table,
			tp.Status.String(),
			strconv.FormatInt(tp.CurrentRows, 10),
			total,
			fmt.Sprintf("%.1f%%", tp.Percentage),
			tp.Error,
		})
	}
	table.Render()
	s := view.Summary
	fmt.Fprintf(w, "%d/%d completed, %d failed, %d in flight, %d pending, %.2f%% overall, %d rows\n",
		s.CompletedCount, s.TotalTables, s.FailedCount, s.InFlightCount, s.PendingCount,
		s.OverallPercentage, s.TotalRowsTransferred)
}

// renderJobs prints one row per job from a reconciled snapshot.
func renderJobs(w io.Writer, views []progress.JobView) {
	table := newTable(w, "JOB", "STATUS", "TABLES", "COMPLETED", "FAILED", "OVERALL", "ROWS", "STARTED")
	for _, v := range views {
		started := "-"
		if !v.Job.StartTime.IsZero() {
			started = v.Job.StartTime.Format("2006-01-02 15:04:05")
		}
		table.Append([]string{
			v.Job.ID,
			displayStatus(v.Job.Status),
			strconv.Itoa(v.Summary.TotalTables),
			strconv.Itoa(v.Summary.CompletedCount),
			strconv.Itoa(v.Summary.FailedCount),
			fmt.Sprintf("%.2f%%", v.Summary.OverallPercentage),
			strconv.FormatInt(v.Summary.TotalRowsTransferred, 10),
			started,
		})
	}
	table.Render()
}

func displayStatus(s model.JobStatus) string {
	if s == "" {
		return "unknown"
	}
	return string(s)
}

// followSink re-renders one job after every batch that touches it and closes
// done once every table of the job is terminal.
type followSink struct {
	view func(jobID string) (progress.JobView, bool)
	out  io.Writer

	mu    sync.Mutex
	jobID string
	once  sync.Once
	done  chan struct{}
}

func newFollowSink(jobID string, view func(string) (progress.JobView, bool), out io.Writer) *followSink {
	return &followSink{
		jobID: jobID,
		view:  view,
		out:   out,
		done:  make(chan struct{}),
	}
}

// setJob switches the followed job and renders whatever is already known
// about it, so changes committed before the switch are not missed.
func (s *followSink) setJob(jobID string) {
	s.mu.Lock()
	s.jobID = jobID
	s.mu.Unlock()
	s.show(jobID)
}

func (s *followSink) job() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobID
}

func (s *followSink) Consume(_ context.Context, batch []progress.Change) error {
	jobID := s.job()
	if jobID == "" {
		return nil
	}
	for _, c := range batch {
		if c.JobID == jobID {
			s.show(jobID)
			break
		}
	}
	return nil
}

func (s *followSink) show(jobID string) {
	v, ok := s.view(jobID)
	if !ok {
		return
	}
	s.mu.Lock()
	renderJob(s.out, v)
	fmt.Fprintln(s.out)
	s.mu.Unlock()
	if v.Done() {
		s.once.Do(func() { close(s.done) })
	}
}

func (s *followSink) Close(context.Context) error { return nil }

// Done is closed once a snapshot has listed the followed job's tables and
// none of them is left in flight.
func (s *followSink) Done() <-chan struct{} { return s.done }
