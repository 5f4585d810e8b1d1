// Package setup bootstraps the directory layout and tooling of a churn
// project.
package setup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"

	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/logger"
	"github.com/telcovision/churn/pkg/project"
)

// Step is one setup action.
type Step struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Result lists what setup did.
type Result struct {
	Steps     []Step   `json:"steps"`
	Created   []string `json:"created,omitempty"`
	NextSteps []string `json:"next_steps"`
}

func (r *Result) add(ok bool, name, detail string) {
	r.Steps = append(r.Steps, Step{Name: name, OK: ok, Detail: detail})
}

func (r *Result) warn(name, detail string) {
	r.Steps = append(r.Steps, Step{Name: name, Optional: true, Detail: detail})
}

// Run prepares the project. Missing git aborts before anything is written;
// a missing or failing dvc is reported and skipped.
func Run(ctx context.Context, p *project.Project) (*Result, error) {
	log := logger.Named("setup").With(logger.FieldPath, p.Root)
	r := &Result{}

	gitVersion, err := p.Command(ctx, "git", "--version")
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrap(err, "git is required"),
			"install git from https://git-scm.com/downloads",
		)
	}
	r.add(true, "git", gitVersion)

	dvcVersion, err := p.Command(ctx, "dvc", "--version")
	hasDVC := err == nil
	if hasDVC {
		r.add(true, "dvc", "dvc "+dvcVersion)
	} else {
		r.warn("dvc", "dvc not available; install it with pip install dvc")
	}

	for _, dir := range project.Directories {
		if p.IsDir(dir) {
			continue
		}
		if err := os.MkdirAll(p.Path(dir), 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
		r.Created = append(r.Created, dir+"/")
	}
	r.add(true, "directories", fmt.Sprintf("%d created, %d present", len(r.Created), len(project.Directories)-len(r.Created)))

	for _, ig := range project.IgnoreFiles {
		path := p.Path(ig.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrapf(err, "create directory for %s", ig.Path)
		}
		if err := os.WriteFile(path, []byte(ig.Content), 0o644); err != nil {
			return nil, errors.Wrapf(err, "write %s", ig.Path)
		}
	}
	r.add(true, "gitignore files", fmt.Sprintf("%d written", len(project.IgnoreFiles)))

	switch {
	case p.IsDir(project.DVCDir):
		r.add(true, "dvc init", "already initialized")
	case !hasDVC:
		r.warn("dvc init", "skipped, dvc not available")
	default:
		if _, err := p.Command(ctx, "dvc", "init"); err != nil {
			log.Warnw("dvc init failed", logger.FieldError, err)
			r.warn("dvc init", err.Error())
		} else {
			r.add(true, "dvc init", "initialized")
		}
	}

	hasEnv := p.IsFile(project.EnvFile)
	switch {
	case hasEnv:
		r.add(true, "env file", project.EnvFile+" present")
	case p.IsFile(project.EnvExampleFile):
		r.warn("env file", "copy "+project.EnvExampleFile+" to "+project.EnvFile)
	default:
		r.warn("env file", "neither "+project.EnvFile+" nor "+project.EnvExampleFile+" found")
	}

	r.NextSteps = nextSteps(hasEnv)
	log.Infow("setup complete", "created", len(r.Created), "steps", len(r.Steps))
	return r, nil
}

func nextSteps(hasEnv bool) []string {
	var steps []string
	if !hasEnv {
		steps = append(steps, "cp "+project.EnvExampleFile+" "+project.EnvFile+" and set MLFLOW_TRACKING_URI")
	}
	return append(steps,
		"place the raw dataset at "+project.RawDataFile,
		"dvc add "+project.RawDataFile+" && git add "+project.RawDataFile+".dvc",
		"prepare --params params.yaml",
		"train --params params.yaml",
		"evaluate --params params.yaml",
		"experiments --configs "+project.ConfigsDir,
		"register --experiment telcovision_experiments",
		"status",
	)
}

// Render writes the result for a terminal.
func (r *Result) Render(w io.Writer) {
	fmt.Fprint(w, pterm.DefaultHeader.WithFullWidth().Sprint("Project setup"))
	fmt.Fprintln(w)
	for _, s := range r.Steps {
		line := s.Name
		if s.Detail != "" {
			line += ": " + s.Detail
		}
		switch {
		case s.OK:
			fmt.Fprint(w, pterm.Success.Sprintln(line))
		case s.Optional:
			fmt.Fprint(w, pterm.Warning.Sprintln(line))
		default:
			fmt.Fprint(w, pterm.Error.Sprintln(line))
		}
	}
	for _, dir := range r.Created {
		fmt.Fprintln(w, pterm.Gray("    + "+dir))
	}

	fmt.Fprint(w, pterm.DefaultSection.Sprint("Next steps"))
	for i, s := range r.NextSteps {
		fmt.Fprintf(w, "%d. %s\n", i+1, pterm.LightCyan(s))
	}
}
