package status

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

// Render writes the report for a terminal.
func (r *Report) Render(w io.Writer) {
	fmt.Fprint(w, pterm.DefaultHeader.WithFullWidth().Sprintf("Project status: %s", r.Root))
	fmt.Fprintln(w)

	for _, s := range r.Sections {
		fmt.Fprint(w, pterm.DefaultSection.Sprint(s.Title))
		for _, c := range s.Checks {
			fmt.Fprint(w, checkLine(c))
			for _, item := range c.Items {
				fmt.Fprintln(w, pterm.Gray("    - "+item))
			}
		}
	}

	fmt.Fprint(w, pterm.DefaultSection.Sprint("Summary"))
	for _, s := range r.Sections {
		if s.OK() {
			fmt.Fprint(w, pterm.Success.Sprintln(s.Title))
		} else {
			fmt.Fprint(w, pterm.Error.Sprintln(s.Title))
		}
	}
	passed, total := r.Completeness()
	msg := fmt.Sprintf("completeness: %d/%d (%.0f%%)", passed, total, r.Percent())
	switch pct := r.Percent(); {
	case pct >= 100:
		fmt.Fprint(w, pterm.Success.Sprintln(msg+", project is ready"))
	case pct >= 75:
		fmt.Fprint(w, pterm.Warning.Sprintln(msg+", almost ready"))
	default:
		fmt.Fprint(w, pterm.Error.Sprintln(msg+", run setup to finish the project layout"))
	}
}

func checkLine(c Check) string {
	line := c.Name
	if c.Detail != "" {
		line += ": " + c.Detail
	}
	switch {
	case c.OK:
		return pterm.Success.Sprintln(line)
	case c.Optional:
		return pterm.Warning.Sprintln(line)
	default:
		return pterm.Error.Sprintln(line)
	}
}
