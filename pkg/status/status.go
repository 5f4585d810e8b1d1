// Package status inspects a churn project and reports what is set up.
package status

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-git/v5"
	"gopkg.in/yaml.v3"

	"github.com/telcovision/churn/pkg/config"
	"github.com/telcovision/churn/pkg/experiments"
	"github.com/telcovision/churn/pkg/logger"
	"github.com/telcovision/churn/pkg/project"
	"github.com/telcovision/churn/pkg/tracking"
)

// maxItems caps the paths listed under a single check.
const maxItems = 10

// Check is one inspected property. A failed optional check is a warning.
type Check struct {
	Name     string   `json:"name"`
	OK       bool     `json:"ok"`
	Optional bool     `json:"optional,omitempty"`
	Detail   string   `json:"detail,omitempty"`
	Items    []string `json:"items,omitempty"`
}

// Section groups the checks of one area.
type Section struct {
	Title  string  `json:"title"`
	Checks []Check `json:"checks"`
}

func (s *Section) pass(name, detail string, items ...string) {
	s.Checks = append(s.Checks, Check{Name: name, OK: true, Detail: detail, Items: items})
}

func (s *Section) fail(name, detail string) {
	s.Checks = append(s.Checks, Check{Name: name, Detail: detail})
}

func (s *Section) warn(name, detail string) {
	s.Checks = append(s.Checks, Check{Name: name, Optional: true, Detail: detail})
}

// OK reports whether every required check passed.
func (s Section) OK() bool {
	for _, c := range s.Checks {
		if !c.OK && !c.Optional {
			return false
		}
	}
	return true
}

// Report is the outcome of a status run.
type Report struct {
	Root     string    `json:"root"`
	Sections []Section `json:"sections"`
}

// Completeness counts passing sections.
func (r *Report) Completeness() (passed, total int) {
	for _, s := range r.Sections {
		if s.OK() {
			passed++
		}
	}
	return passed, len(r.Sections)
}

// Percent is the share of passing sections.
func (r *Report) Percent() float64 {
	passed, total := r.Completeness()
	if total == 0 {
		return 0
	}
	return float64(passed) / float64(total) * 100
}

// Section returns the section with the given title.
func (r *Report) Section(title string) (Section, bool) {
	for _, s := range r.Sections {
		if s.Title == title {
			return s, true
		}
	}
	return Section{}, false
}

// Section titles.
const (
	SectionGit         = "Git"
	SectionDVC         = "DVC"
	SectionPipeline    = "DVC pipeline"
	SectionTracking    = "Tracking"
	SectionStructure   = "Project structure"
	SectionData        = "Data"
	SectionExperiments = "Experiment configs"
)

// Checker inspects a project.
type Checker struct {
	Project  *project.Project
	Tracking config.TrackingSettings
}

// NewChecker returns a checker for p using the given tracking settings.
func NewChecker(p *project.Project, tracking config.TrackingSettings) *Checker {
	return &Checker{Project: p, Tracking: tracking}
}

// Run inspects every area. Problems are reported as failed checks, never as
// errors.
func (c *Checker) Run(ctx context.Context) *Report {
	r := &Report{Root: c.Project.Root}
	r.Sections = append(r.Sections,
		c.git(),
		c.dvc(ctx),
		c.pipeline(),
		c.tracking(ctx),
		c.structure(),
		c.data(),
		c.experiments(),
	)
	passed, total := r.Completeness()
	logger.Named("status").Infow("status checked", logger.FieldPath, r.Root, "passed", passed, "total", total)
	return r
}

func (c *Checker) git() Section {
	s := Section{Title: SectionGit}
	repo, err := git.PlainOpenWithOptions(c.Project.Root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		s.fail("repository", "not a git repository; run git init")
		return s
	}
	s.pass("repository", "initialized")

	if head, err := repo.Head(); err == nil {
		s.pass("branch", head.Name().Short())
	} else {
		s.warn("branch", "no commits yet")
	}

	remotes, err := repo.Remotes()
	switch {
	case err != nil:
		s.warn("remotes", err.Error())
	case len(remotes) == 0:
		s.warn("remotes", "no remote configured")
	default:
		var items []string
		for _, rm := range remotes {
			cfg := rm.Config()
			items = append(items, fmt.Sprintf("%s %s", cfg.Name, strings.Join(cfg.URLs, ", ")))
		}
		sort.Strings(items)
		s.pass("remotes", fmt.Sprintf("%d configured", len(items)), items...)
	}

	wt, err := repo.Worktree()
	if err != nil {
		s.warn("working tree", err.Error())
		return s
	}
	st, err := wt.Status()
	if err != nil {
		s.warn("working tree", err.Error())
		return s
	}
	if st.IsClean() {
		s.pass("working tree", "clean")
		return s
	}
	var changed []string
	for path := range st {
		changed = append(changed, path)
	}
	sort.Strings(changed)
	s.Checks = append(s.Checks, Check{
		Name:     "working tree",
		Optional: true,
		Detail:   fmt.Sprintf("%d uncommitted changes", len(changed)),
		Items:    truncate(changed),
	})
	return s
}

func (c *Checker) dvc(ctx context.Context) Section {
	s := Section{Title: SectionDVC}
	version, err := c.Project.Command(ctx, "dvc", "--version")
	installed := err == nil
	if installed {
		s.pass("installed", "dvc "+version)
	} else {
		s.warn("installed", "dvc not found on PATH")
	}

	if !c.Project.IsDir(project.DVCDir) {
		s.fail("initialized", "no .dvc directory; run dvc init")
		return s
	}
	s.pass("initialized", project.DVCDir)

	if installed {
		out, err := c.Project.Command(ctx, "dvc", "remote", "list")
		remotes := nonEmptyLines(out)
		switch {
		case err != nil:
			s.warn("remotes", err.Error())
		case len(remotes) == 0:
			s.warn("remotes", "no remote configured")
		default:
			s.pass("remotes", fmt.Sprintf("%d configured", len(remotes)), remotes...)
		}
	}

	tracked := c.trackedFiles()
	if len(tracked) == 0 {
		s.warn("tracked files", "no .dvc files; run dvc add "+project.RawDataFile)
	} else {
		s.pass("tracked files", fmt.Sprintf("%d tracked", len(tracked)), truncate(tracked)...)
	}
	return s
}

// trackedFiles lists the .dvc sidecars of the project.
func (c *Checker) trackedFiles() []string {
	var files []string
	_ = filepath.WalkDir(c.Project.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", project.DVCDir, tracking.DefaultLocalRoot, "node_modules":
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".dvc") {
			if rel, err := filepath.Rel(c.Project.Root, path); err == nil {
				files = append(files, filepath.ToSlash(rel))
			}
		}
		return nil
	})
	sort.Strings(files)
	return files
}

type pipelineFile struct {
	Stages yaml.Node `yaml:"stages"`
}

func (c *Checker) pipeline() Section {
	s := Section{Title: SectionPipeline}
	data, err := os.ReadFile(c.Project.Path(project.DVCPipelineFile))
	if err != nil {
		s.fail(project.DVCPipelineFile, "not found")
		return s
	}
	var pf pipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		s.fail(project.DVCPipelineFile, "invalid YAML: "+err.Error())
		return s
	}
	var stages []string
	if pf.Stages.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(pf.Stages.Content); i += 2 {
			stages = append(stages, pf.Stages.Content[i].Value)
		}
	}
	if len(stages) == 0 {
		s.fail(project.DVCPipelineFile, "no stages defined")
		return s
	}
	s.pass(project.DVCPipelineFile, fmt.Sprintf("%d stages", len(stages)), stages...)
	return s
}

func (c *Checker) tracking(ctx context.Context) Section {
	s := Section{Title: SectionTracking}
	if c.Project.IsFile(project.EnvFile) {
		s.pass("env file", project.EnvFile)
	} else {
		s.warn("env file", "no .env; copy .env.example to .env")
	}

	settings := c.Tracking
	experiment := settings.Experiment
	if experiment == "" {
		experiment = config.DefaultExperiment
	}

	if settings.Remote() {
		s.pass("tracking URI", settings.URI)
		s.pass("mode", "remote server")
		s.pass("experiment", experiment)
		if settings.HasCredentials() {
			s.pass("credentials", "username "+settings.Username)
		} else {
			s.warn("credentials", config.EnvTrackingUsername+" and "+config.EnvTrackingPassword+" not set")
		}
		return s
	}

	root, err := tracking.LocalRoot(settings.URI)
	if err != nil {
		s.fail("tracking URI", err.Error())
		return s
	}
	if settings.URI == "" {
		s.pass("tracking URI", config.EnvTrackingURI+" not set; using "+root)
	} else {
		s.pass("tracking URI", settings.URI)
	}
	s.pass("mode", "local store")
	s.pass("experiment", experiment)

	root = c.Project.Path(root)
	if _, err := os.Stat(filepath.Join(root, tracking.DatabaseFile)); err != nil {
		s.warn("local store", "no runs recorded yet")
		return s
	}
	store, err := tracking.NewLocalStore(root)
	if err != nil {
		s.warn("local store", err.Error())
		return s
	}
	defer store.Close()
	exps, err := store.ListExperiments(ctx)
	if err != nil {
		s.warn("local store", err.Error())
		return s
	}
	var names []string
	for _, e := range exps {
		names = append(names, e.Name)
	}
	s.pass("local store", fmt.Sprintf("%d experiments", len(exps)), names...)
	return s
}

func (c *Checker) structure() Section {
	s := Section{Title: SectionStructure}
	for _, f := range project.RequiredFiles {
		if c.Project.IsFile(f) {
			s.pass(f, "present")
		} else {
			s.fail(f, "missing")
		}
	}
	for _, d := range project.RequiredDirs {
		if c.Project.IsDir(d) {
			s.pass(d+"/", "present")
		} else {
			s.fail(d+"/", "missing; run setup")
		}
	}
	return s
}

func (c *Checker) data() Section {
	s := Section{Title: SectionData}
	files := []struct {
		path     string
		required bool
	}{
		{project.RawDataFile, true},
		{project.RawDataFile + ".dvc", false},
		{project.ProcessedDataFile, false},
		{project.ModelFile, false},
	}
	for _, f := range files {
		info, ok := c.Project.Stat(f.path)
		switch {
		case ok && info.Mode().IsRegular():
			s.pass(f.path, humanize.Bytes(uint64(info.Size())))
		case f.required:
			s.fail(f.path, "missing")
		default:
			s.warn(f.path, "not generated yet")
		}
	}
	return s
}

func (c *Checker) experiments() Section {
	s := Section{Title: SectionExperiments}
	files, err := experiments.ConfigFiles(c.Project.Path(project.ConfigsDir))
	if err != nil {
		s.fail(project.ConfigsDir, err.Error())
		return s
	}
	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	s.pass(project.ConfigsDir, fmt.Sprintf("%d configs", len(names)), names...)
	return s
}

func nonEmptyLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func truncate(items []string) []string {
	if len(items) <= maxItems {
		return items
	}
	out := append([]string{}, items[:maxItems]...)
	return append(out, fmt.Sprintf("... and %d more", len(items)-maxItems))
}
