package status

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telcovision/churn/pkg/config"
	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/project"
	"github.com/telcovision/churn/pkg/tracking"
)

func write(t *testing.T, p *project.Project, rel, content string) {
	t.Helper()
	path := p.Path(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// noTools makes every external tool look uninstalled.
func noTools(p *project.Project) {
	p.LookPath = func(string) (string, error) { return "", os.ErrNotExist }
}

func check(t *testing.T, r *Report, section, name string) Check {
	t.Helper()
	s, ok := r.Section(section)
	require.True(t, ok, section)
	for _, c := range s.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no check %q in section %q", name, section)
	return Check{}
}

func completeProject(t *testing.T) *project.Project {
	t.Helper()
	p, err := project.Open(t.TempDir())
	require.NoError(t, err)
	noTools(p)

	for _, f := range project.RequiredFiles {
		write(t, p, f, "x\n")
	}
	write(t, p, project.DVCPipelineFile, "stages:\n  data_prep:\n    cmd: prepare\n  train:\n    cmd: train\n")
	for _, d := range project.RequiredDirs {
		require.NoError(t, os.MkdirAll(p.Path(d), 0o755))
	}
	require.NoError(t, os.MkdirAll(p.Path(project.DVCDir), 0o755))
	write(t, p, project.RawDataFile, "customer_id,churn\na,1\n")
	write(t, p, project.RawDataFile+".dvc", "outs:\n- path: telco_churn.csv\n")
	write(t, p, project.ConfigsDir+"/exp1_rf.yaml", "model:\n  type: RandomForest\n")
	write(t, p, project.EnvFile, "MLFLOW_TRACKING_URI=mlruns\n")

	repo, err := git.PlainInit(p.Root, false)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{"https://example.com/churn.git"}})
	require.NoError(t, err)
	return p
}

func TestCompleteProject(t *testing.T) {
	p := completeProject(t)
	ctx := context.Background()

	store, err := tracking.NewLocalStore(p.Path("mlruns"))
	require.NoError(t, err)
	_, err = store.CreateExperiment(ctx, "telcovision_experiments")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	r := NewChecker(p, config.TrackingSettings{URI: "mlruns"}).Run(ctx)
	for _, s := range r.Sections {
		assert.True(t, s.OK(), "section %s: %+v", s.Title, s.Checks)
	}
	assert.Equal(t, 100.0, r.Percent())

	assert.Equal(t, "1 configured", check(t, r, SectionGit, "remotes").Detail)
	assert.Equal(t, "no commits yet", check(t, r, SectionGit, "branch").Detail)
	assert.False(t, check(t, r, SectionGit, "working tree").OK)

	pipeline := check(t, r, SectionPipeline, project.DVCPipelineFile)
	assert.Equal(t, []string{"data_prep", "train"}, pipeline.Items)

	tracked := check(t, r, SectionDVC, "tracked files")
	assert.Equal(t, []string{project.RawDataFile + ".dvc"}, tracked.Items)
	assert.True(t, check(t, r, SectionDVC, "installed").Optional)

	assert.Equal(t, "local store", check(t, r, SectionTracking, "mode").Detail)
	assert.Equal(t, []string{"telcovision_experiments"}, check(t, r, SectionTracking, "local store").Items)
	assert.Equal(t, "22 B", check(t, r, SectionData, project.RawDataFile).Detail)
	assert.Equal(t, []string{"exp1_rf.yaml"}, check(t, r, SectionExperiments, project.ConfigsDir).Items)
}

func TestEmptyProject(t *testing.T) {
	p, err := project.Open(t.TempDir())
	require.NoError(t, err)
	noTools(p)

	r := NewChecker(p, config.TrackingSettings{}).Run(context.Background())
	passed, total := r.Completeness()
	assert.Equal(t, 7, total)
	assert.Equal(t, 1, passed, "only tracking passes without setup")

	assert.False(t, check(t, r, SectionGit, "repository").OK)
	assert.False(t, check(t, r, SectionDVC, "initialized").OK)
	assert.Contains(t, check(t, r, SectionTracking, "tracking URI").Detail, tracking.DefaultLocalRoot)
	assert.Equal(t, "no runs recorded yet", check(t, r, SectionTracking, "local store").Detail)
	assert.Contains(t, check(t, r, SectionExperiments, project.ConfigsDir).Detail, "not found")
	assert.NoDirExists(t, p.Path("mlruns"), "status never creates the local store")
}

func TestDVCCommands(t *testing.T) {
	p := completeProject(t)
	p.LookPath = func(file string) (string, error) { return "/usr/bin/" + file, nil }
	p.Run = func(_ context.Context, _, name string, args ...string) (string, error) {
		if len(args) > 0 && args[0] == "--version" {
			return "3.50.0", nil
		}
		if len(args) > 1 && args[0] == "remote" {
			return "storage\ts3://bucket/churn\n\n", nil
		}
		return "", errors.Newf("unexpected %s %v", name, args)
	}

	r := NewChecker(p, config.TrackingSettings{}).Run(context.Background())
	assert.Equal(t, "dvc 3.50.0", check(t, r, SectionDVC, "installed").Detail)
	remotes := check(t, r, SectionDVC, "remotes")
	assert.True(t, remotes.OK)
	assert.Equal(t, []string{"storage\ts3://bucket/churn"}, remotes.Items)
}

func TestRemoteTracking(t *testing.T) {
	p := completeProject(t)
	r := NewChecker(p, config.TrackingSettings{URI: "https://mlflow.example.com"}).Run(context.Background())
	assert.Equal(t, "remote server", check(t, r, SectionTracking, "mode").Detail)
	creds := check(t, r, SectionTracking, "credentials")
	assert.False(t, creds.OK)
	assert.True(t, creds.Optional)

	r = NewChecker(p, config.TrackingSettings{URI: "s3://bucket"}).Run(context.Background())
	s, _ := r.Section(SectionTracking)
	assert.False(t, s.OK())
}

func TestRender(t *testing.T) {
	pterm.DisableStyling()
	defer pterm.EnableStyling()

	p := completeProject(t)
	r := NewChecker(p, config.TrackingSettings{}).Run(context.Background())
	var out bytes.Buffer
	r.Render(&out)

	text := out.String()
	for _, want := range []string{"Git", "DVC pipeline", "Summary", "repository: initialized", "completeness: 7/7"} {
		assert.Contains(t, text, want)
	}
	assert.Contains(t, text, "https://example.com/churn.git")
}

func TestTruncate(t *testing.T) {
	var items []string
	for i := 0; i < 12; i++ {
		items = append(items, "f")
	}
	got := truncate(items)
	assert.Len(t, got, maxItems+1)
	assert.Equal(t, "... and 2 more", got[maxItems])
}
