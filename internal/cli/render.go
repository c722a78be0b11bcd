package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/periperidip/rtsched/internal/analysis"
	"github.com/periperidip/rtsched/internal/monitor"
	"github.com/periperidip/rtsched/internal/schedule"
	"github.com/periperidip/rtsched/internal/snapshot"
	"github.com/periperidip/rtsched/internal/trace"
	"github.com/periperidip/rtsched/pkg/types"
)

var planHeader = table.Row{"Cycle", "#", "Job", "Start", "Gap"}

func renderPlan(plan []schedule.Dispatch) string {
	t := table.NewWriter()
	t.AppendHeader(planHeader)
	for _, d := range plan {
		t.AppendRow(table.Row{d.Cycle, d.Index, d.Job, d.Start, d.Gap})
	}
	return t.Render()
}

var analysisHeader = table.Row{"Task", "Period", "Deadline", "Exec", "Priority", "Utilization"}

func renderAnalysis(rep analysis.Report) string {
	t := table.NewWriter()
	t.SetTitle("Task set")
	t.AppendHeader(analysisHeader)
	for _, l := range rep.Tasks {
		t.AppendRow(table.Row{l.Name, l.Period, l.Deadline, l.Exec, l.Priority, fmt.Sprintf("%.4f", l.Utilization)})
	}
	t.AppendFooter(table.Row{"Total", "", "", "", "", fmt.Sprintf("%.4f", rep.Utilization)})

	var b strings.Builder
	b.WriteString(t.Render())
	fmt.Fprintf(&b, "\nhyperperiod: %d\n", rep.Hyperperiod)
	fmt.Fprintf(&b, "rate-monotonic bound: %.4f (sufficient: %t, U <= 1: %t)\n", rep.Bound, rep.Sufficient, rep.Necessary)
	for _, w := range rep.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	return strings.TrimRight(b.String(), "\n")
}

var (
	jobHeader  = table.Row{"Job", "Dispatches", "Overruns", "Errors", "Worst lateness"}
	taskHeader = table.Row{"Task", "Jobs", "Last release", "Worst response", "Misses", "Errors"}
)

func renderStatus(st monitor.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "events: %d  cycles: %d  idle ticks: %d  deadline misses: %d  last tick: %d\n",
		st.Events, st.Cycles, st.IdleTicks, st.DeadlineMisses, st.LastTick)

	if len(st.Jobs) > 0 {
		t := table.NewWriter()
		t.AppendHeader(jobHeader)
		for _, j := range st.Jobs {
			t.AppendRow(table.Row{j.Job, j.Dispatches, j.Overruns, j.Errors, j.WorstLateness})
		}
		b.WriteString(t.Render())
		b.WriteString("\n")
	}
	if len(st.Tasks) > 0 {
		t := table.NewWriter()
		t.AppendHeader(taskHeader)
		for _, ts := range st.Tasks {
			t.AppendRow(table.Row{ts.Name, ts.Jobs, ts.LastRelease, ts.WorstResponse, ts.DeadlineMisses, ts.Errors})
		}
		b.WriteString(t.Render())
	}
	return strings.TrimRight(b.String(), "\n")
}

var threadHeader = table.Row{"Thread", "Priority", "Outcome"}

func renderRun(data snapshot.Data) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Run %s (%s)", data.RunID, data.Mode))
	t.AppendHeader(threadHeader)
	for _, th := range data.Threads {
		outcome := "ok"
		if th.Error != "" {
			outcome = th.Error
		}
		t.AppendRow(table.Row{th.Name, th.Priority, outcome})
	}
	t.AppendFooter(table.Row{"Duration", "", data.StoppedAt.Sub(data.StartedAt).String()})
	return t.Render()
}

// traceSummary counts trace records by kind and by source.
type traceSummary struct {
	records  int
	lastSeq  uint64
	lastTick types.Tick
	kinds    map[types.EventKind]int
	sources  map[string]int
	misses   int
}

func newTraceSummary() *traceSummary {
	return &traceSummary{
		kinds:   make(map[types.EventKind]int),
		sources: make(map[string]int),
	}
}

func (s *traceSummary) add(r trace.Record) {
	s.records++
	s.lastSeq = r.Seq
	if r.Event.Tick > s.lastTick {
		s.lastTick = r.Event.Tick
	}
	s.kinds[r.Event.Kind]++
	if r.Event.Source != "" {
		s.sources[r.Event.Source]++
	}
	if r.Event.DeadlineMissed() {
		s.misses++
	}
}

func (s *traceSummary) render(path string) string {
	t := table.NewWriter()
	t.SetTitle(path)
	t.AppendHeader(table.Row{"Kind", "Count"})
	for _, k := range sortedKeys(s.kinds) {
		t.AppendRow(table.Row{k, s.kinds[types.EventKind(k)]})
	}
	t.AppendFooter(table.Row{"Total", s.records})

	src := table.NewWriter()
	src.AppendHeader(table.Row{"Source", "Events"})
	for _, name := range sortedKeys(s.sources) {
		src.AppendRow(table.Row{name, s.sources[name]})
	}

	return fmt.Sprintf("%s\n%s\nlast seq: %d  last tick: %d  deadline misses: %d",
		t.Render(), src.Render(), s.lastSeq, s.lastTick, s.misses)
}

func sortedKeys[K ~string, V any](m map[K]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}
