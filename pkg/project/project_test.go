package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telcovision/churn/pkg/errors"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, p.Root)
	assert.Equal(t, filepath.Join(dir, "data", "raw"), p.Path("data/raw"))
	assert.Equal(t, "/abs/path", p.Path("/abs/path"))

	_, err = Open(filepath.Join(dir, "missing"))
	assert.True(t, errors.IsNotFound(err))

	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = Open(file)
	assert.True(t, errors.IsValidation(err))
}

func TestIsFileIsDir(t *testing.T) {
	p, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(p.Path("models"), 0o755))
	require.NoError(t, os.WriteFile(p.Path("params.yaml"), nil, 0o644))

	assert.True(t, p.IsDir("models"))
	assert.False(t, p.IsFile("models"))
	assert.True(t, p.IsFile("params.yaml"))
	assert.False(t, p.IsDir("params.yaml"))
	assert.False(t, p.IsFile("missing"))
}

func TestCommand(t *testing.T) {
	p, err := Open(t.TempDir())
	require.NoError(t, err)

	var gotDir, gotName string
	var gotArgs []string
	p.LookPath = func(file string) (string, error) {
		if file == "dvc" {
			return "/usr/bin/dvc", nil
		}
		return "", os.ErrNotExist
	}
	p.Run = func(_ context.Context, dir, name string, args ...string) (string, error) {
		gotDir, gotName, gotArgs = dir, name, args
		if len(args) > 0 && args[0] == "boom" {
			return "ERROR: not a dvc repository", errors.New("exit status 1")
		}
		return "3.50.0", nil
	}

	out, err := p.Command(context.Background(), "dvc", "--version")
	require.NoError(t, err)
	assert.Equal(t, "3.50.0", out)
	assert.Equal(t, p.Root, gotDir)
	assert.Equal(t, "dvc", gotName)
	assert.Equal(t, []string{"--version"}, gotArgs)
	assert.True(t, p.HasTool("dvc"))

	_, err = p.Command(context.Background(), "dvc", "boom")
	assert.True(t, errors.IsExternalService(err))
	assert.Contains(t, err.Error(), "not a dvc repository")

	_, err = p.Command(context.Background(), "git", "status")
	assert.True(t, errors.IsNotFound(err))
	assert.False(t, p.HasTool("git"))
}
