package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	rankStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#87CEEB"))

	opStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	rangeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// WriteReport renders a run result. Ranges are listed only when verbose.
func WriteReport(w io.Writer, res *Result, verbose bool) {
	name := res.Scenario.Name
	if name == "" {
		name = "scenario"
	}
	fmt.Fprintf(w, "%s %d ranks\n\n", titleStyle.Render("mpicheck "+name), len(res.Ranks))

	for _, rr := range res.Ranks {
		fmt.Fprintln(w, rankStyle.Render(fmt.Sprintf("rank %d", rr.Rank)))
		for i, sr := range rr.Steps {
			fmt.Fprintf(w, "  %2d %s\n", i, formatStep(sr))
			if verbose {
				for _, ev := range sr.Events {
					fmt.Fprintf(w, "       %s\n", rangeStyle.Render(formatEvent(ev)))
				}
			}
		}
		if rr.Pending > 0 {
			fmt.Fprintf(w, "  %s\n", errorStyle.Render(fmt.Sprintf("%d receive(s) still tracked", rr.Pending)))
		}
	}

	fmt.Fprintln(w)
	if len(res.Reports) == 0 {
		fmt.Fprintln(w, okStyle.Render("no invalid accesses"))
	} else {
		fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("%d invalid access(es)", len(res.Reports))))
		for _, r := range res.Reports {
			fmt.Fprintf(w, "  %s\n", r)
		}
	}
	if res.Complaints > 0 {
		fmt.Fprintln(w, helpStyle.Render(fmt.Sprintf("%d unhandled datatype diagnostic(s)", res.Complaints)))
	}
	if res.Err != nil {
		fmt.Fprintln(w, errorStyle.Render("error: "+res.Err.Error()))
	}
	if exp := res.Scenario.Expect; exp != nil {
		verdict := okStyle.Render("as expected")
		if res.Failed() {
			verdict = errorStyle.Render(fmt.Sprintf("expected %d report(s) and %d pending", exp.Reports, exp.Pending))
		}
		fmt.Fprintln(w, verdict)
	}
}

func formatStep(sr StepResult) string {
	st := sr.Step
	var b strings.Builder
	b.WriteString(opStyle.Render(st.Op))

	var args []string
	if st.Buf != "" {
		args = append(args, st.Buf)
	}
	if st.Type != "" {
		args = append(args, fmt.Sprintf("%d x %s", st.Count, st.Type))
	}
	switch st.Op {
	case "send", "isend", "sendrecv":
		args = append(args, fmt.Sprintf("to %d tag %d", st.Peer, st.Tag))
	case "recv", "irecv":
		args = append(args, fmt.Sprintf("from %s tag %s", wildcard(st.Peer), wildcard(st.Tag)))
	case "bcast", "reduce":
		args = append(args, fmt.Sprintf("root %d", st.Root))
	}
	if st.Req != "" {
		args = append(args, st.Req)
	}
	if len(st.Reqs) > 0 {
		args = append(args, strings.Join(st.Reqs, ","))
	}
	if len(args) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(args, " "))
	}

	switch {
	case sr.Err != nil:
		b.WriteString(" ")
		b.WriteString(errorStyle.Render(sr.Err.Error()))
	case sr.Status != nil:
		s := sr.Status
		b.WriteString(" ")
		b.WriteString(helpStyle.Render(fmt.Sprintf("[src %d tag %d %d bytes %s]", s.Source, s.Tag, s.Bytes, s.Error)))
	}
	return b.String()
}

func formatEvent(ev Event) string {
	return fmt.Sprintf("%-17s [%#x, %#x) %d bytes", ev.Op, ev.Range.Addr, ev.Range.End(), ev.Range.Len)
}

func wildcard(v int) string {
	if v < 0 {
		return "any"
	}
	return fmt.Sprint(v)
}
