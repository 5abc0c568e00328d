package main

import (
	"fmt"
	"io"

	"github.com/devkitPro/pacman-sub000/ports"
)

// stderrSinks prints every event/question/progress callback to an
// io.Writer, the CLI's stand-in for a real front-end's UI; batch mode
// answers every Question false, the documented non-interactive default
// (spec.md §7: a nil QuestionSink is "non-interactive/batch mode").
type stderrSinks struct {
	w io.Writer
}

func (s stderrSinks) Event(e ports.Event) {
	fmt.Fprintf(s.w, ":: %s %v %v\n", e.Kind, e.Arg1, e.Arg2)
}

func (s stderrSinks) Ask(q ports.Question) bool {
	fmt.Fprintf(s.w, ":: %s? (%v, %v, %v) [assuming no]\n", q.Kind, q.Arg1, q.Arg2, q.Arg3)
	return false
}

func (s stderrSinks) Progress(p ports.Progress) {
	fmt.Fprintf(s.w, "(%d/%d) %s %d%%\n", p.CurrentTarget, p.TotalTargets, p.Label, p.Percent)
}
