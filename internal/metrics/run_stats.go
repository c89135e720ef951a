package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RunStats summarises one shrink run
type RunStats struct {
	RunID    string
	Mode     string // "full" or "incremental"
	Fallback string // why an incremental run became a full run, if it did

	// Graph size
	Classes        int
	ProgramClasses int
	Members        int
	Edges          int

	// Reachability per counter set
	ReachableClasses map[string]int
	ReachableMembers map[string]int

	// Output changes
	Written  int
	Deleted  int
	Skipped  int // reachable classes without an output location
	Warnings int

	Duration time.Duration
}

// NewRunStats creates an empty summary for mode
func NewRunStats(mode string) *RunStats {
	return &RunStats{
		Mode:             mode,
		ReachableClasses: make(map[string]int),
		ReachableMembers: make(map[string]int),
	}
}

// String renders the summary the way the CLI prints it
func (s *RunStats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s run %s in %s\n", s.Mode, s.RunID, s.Duration.Round(time.Millisecond))
	if s.Fallback != "" {
		fmt.Fprintf(&b, "  fell back to a full run: %s\n", s.Fallback)
	}
	fmt.Fprintf(&b, "  graph: %d classes (%d program), %d members, %d edges\n",
		s.Classes, s.ProgramClasses, s.Members, s.Edges)

	sets := make([]string, 0, len(s.ReachableClasses))
	for cs := range s.ReachableClasses {
		sets = append(sets, cs)
	}
	sort.Strings(sets)
	for _, cs := range sets {
		fmt.Fprintf(&b, "  %s: %d classes, %d members reachable\n", cs, s.ReachableClasses[cs], s.ReachableMembers[cs])
	}
	fmt.Fprintf(&b, "  outputs: %d written, %d deleted, %d without output location\n", s.Written, s.Deleted, s.Skipped)
	if s.Warnings > 0 {
		fmt.Fprintf(&b, "  %d warnings\n", s.Warnings)
	}
	return b.String()
}
