// Package project describes the on-disk layout of a churn project and runs
// the external tools it relies on.
package project

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/telcovision/churn/pkg/config"
	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/logger"
)

// Well known project paths, relative to the root.
const (
	RawDataFile       = config.DefaultRawData
	ProcessedDataFile = config.DefaultProcessedData
	ModelFile         = config.DefaultModelPath
	ConfigsDir        = "params_experiments"
	DVCDir            = ".dvc"
	DVCPipelineFile   = "dvc.yaml"
	EnvFile           = ".env"
	EnvExampleFile    = ".env.example"
)

// Directories is the layout created by setup.
var Directories = []string{
	"data/raw",
	"data/processed",
	"models",
	"mlruns",
	ConfigsDir,
	"reports",
	"plots",
	"metrics",
}

// RequiredFiles must exist in a complete project.
var RequiredFiles = []string{
	"README.md",
	config.DefaultParamsFile,
	DVCPipelineFile,
	".gitignore",
	EnvExampleFile,
}

// RequiredDirs must exist in a complete project.
var RequiredDirs = []string{
	"data/raw",
	"data/processed",
	"models",
	ConfigsDir,
}

// IgnoreFile is a .gitignore kept next to generated data.
type IgnoreFile struct {
	Path    string
	Content string
}

// IgnoreFiles keeps generated data out of git.
var IgnoreFiles = []IgnoreFile{
	{Path: "data/processed/.gitignore", Content: "/telco_churn_processed.csv\n"},
	{Path: "models/.gitignore", Content: "*.gob\nmetrics.json\n"},
	{Path: "mlruns/.gitignore", Content: "*\n"},
}

// Runner executes name with args in dir and returns its trimmed combined
// output.
type Runner func(ctx context.Context, dir, name string, args ...string) (string, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// Project is a churn project rooted at a directory.
type Project struct {
	Root     string
	Run      Runner
	LookPath func(file string) (string, error)
}

// Open returns the project rooted at root, which must be a readable
// directory.
func Open(root string) (*Project, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", root)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundf("project directory not found: %s", abs)
		}
		return nil, errors.Wrapf(err, "stat %s", abs)
	}
	if !info.IsDir() {
		return nil, errors.Validationf("%s is not a directory", abs)
	}
	if _, err := os.ReadDir(abs); err != nil {
		return nil, errors.Wrapf(err, "read %s", abs)
	}
	return &Project{Root: abs, Run: ExecRunner, LookPath: exec.LookPath}, nil
}

// Path joins rel onto the project root.
func (p *Project) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(p.Root, filepath.FromSlash(rel))
}

// Stat stats a project path.
func (p *Project) Stat(rel string) (os.FileInfo, bool) {
	info, err := os.Stat(p.Path(rel))
	if err != nil {
		return nil, false
	}
	return info, true
}

// IsFile reports whether rel is an existing regular file.
func (p *Project) IsFile(rel string) bool {
	info, ok := p.Stat(rel)
	return ok && info.Mode().IsRegular()
}

// IsDir reports whether rel is an existing directory.
func (p *Project) IsDir(rel string) bool {
	info, ok := p.Stat(rel)
	return ok && info.IsDir()
}

// HasTool reports whether name is on PATH.
func (p *Project) HasTool(name string) bool {
	_, err := p.lookPath(name)
	return err == nil
}

func (p *Project) lookPath(name string) (string, error) {
	if p.LookPath == nil {
		return exec.LookPath(name)
	}
	return p.LookPath(name)
}

// Command runs an external tool in the project root. A tool missing from
// PATH is a not-found error; a failing tool is an external service error
// carrying its output.
func (p *Project) Command(ctx context.Context, name string, args ...string) (string, error) {
	if _, err := p.lookPath(name); err != nil {
		return "", errors.NotFoundf("%s not found on PATH", name)
	}
	run := p.Run
	if run == nil {
		run = ExecRunner
	}
	logger.Named("project").Debugw("running command", "command", name, "args", args)
	out, err := run(ctx, p.Root, name, args...)
	if err != nil {
		if out != "" {
			err = errors.Wrap(err, out)
		}
		return out, errors.ExternalService(err, name+" "+strings.Join(args, " "))
	}
	return out, nil
}
