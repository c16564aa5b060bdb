// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package container

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockExecutor records calls and returns configured responses.
type mockExecutor struct {
	availableBins map[string]bool   // binary -> whether LookPath succeeds
	runnableCmds  map[string]bool   // "bin arg1 arg2" -> whether RunSilent succeeds
	outputs       map[string]string // "bin arg1 arg2" -> Output result
	runPipedFunc  func(name string, args []string, stdin io.Reader, stdout io.Writer) error
	calls         []string
}

func (m *mockExecutor) LookPath(file string) (string, error) {
	if m.availableBins[file] {
		return "/usr/bin/" + file, nil
	}
	return "", errors.New("not found: " + file)
}

func (m *mockExecutor) RunSilent(_ context.Context, name string, args ...string) error {
	key := name + " " + strings.Join(args, " ")
	m.calls = append(m.calls, key)
	if m.runnableCmds[key] {
		return nil
	}
	return errors.New("command failed: " + key)
}

func (m *mockExecutor) Output(_ context.Context, name string, args ...string) (string, error) {
	key := name + " " + strings.Join(args, " ")
	m.calls = append(m.calls, key)
	if out, ok := m.outputs[key]; ok {
		return out, nil
	}
	return "", nil
}

func (m *mockExecutor) RunPiped(_ context.Context, name string, args []string, stdin io.Reader, stdout io.Writer) error {
	m.calls = append(m.calls, name+" "+strings.Join(args, " "))
	if m.runPipedFunc != nil {
		return m.runPipedFunc(name, args, stdin, stdout)
	}
	return nil
}

func TestDetectRuntime(t *testing.T) {
	tests := []struct {
		name     string
		exec     *mockExecutor
		wantName string
		wantErr  bool
	}{
		{
			name: "docker available",
			exec: &mockExecutor{
				availableBins: map[string]bool{"docker": true},
				runnableCmds:  map[string]bool{"docker info": true},
			},
			wantName: "docker",
		},
		{
			name: "podman fallback when docker missing",
			exec: &mockExecutor{
				availableBins: map[string]bool{"podman": true},
				runnableCmds:  map[string]bool{"podman info": true},
			},
			wantName: "podman",
		},
		{
			name:    "neither available",
			exec:    &mockExecutor{},
			wantErr: true,
		},
		{
			name: "docker on PATH but info fails, podman works",
			exec: &mockExecutor{
				availableBins: map[string]bool{"docker": true, "podman": true},
				runnableCmds:  map[string]bool{"podman info": true},
			},
			wantName: "podman",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := detectRuntime(context.Background(), tt.exec)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "no container runtime available")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, rt.Name())
		})
	}
}

func TestImageExists(t *testing.T) {
	ctx := context.Background()
	m := &mockExecutor{runnableCmds: map[string]bool{
		"docker image inspect markitdown:latest": true,
		"podman image exists markitdown:latest":  true,
	}}

	assert.NoError(t, newDockerRuntime(m).ImageExists(ctx, "markitdown:latest"))
	assert.NoError(t, newPodmanRuntime(m).ImageExists(ctx, "markitdown:latest"))

	err := newDockerRuntime(m).ImageExists(ctx, "grobid/grobid:0.8.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in docker")
}

func TestRun_PipesStdinToStdout(t *testing.T) {
	m := &mockExecutor{
		runPipedFunc: func(name string, args []string, stdin io.Reader, stdout io.Writer) error {
			data, _ := io.ReadAll(stdin)
			_, err := stdout.Write(bytes.ToUpper(data))
			return err
		},
	}
	var out bytes.Buffer
	err := newDockerRuntime(m).Run(context.Background(), "markitdown:latest", strings.NewReader("pdf bytes"), &out)
	require.NoError(t, err)
	assert.Equal(t, "PDF BYTES", out.String())
	assert.Equal(t, []string{"docker run --rm -i markitdown:latest"}, m.calls)
}

func TestServe(t *testing.T) {
	ctx := context.Background()
	image := "grobid/grobid:0.8.1"

	t.Run("already running", func(t *testing.T) {
		m := &mockExecutor{outputs: map[string]string{
			"docker ps --filter name=^grobid$ --format {{.Names}}": "grobid\n",
		}}
		require.NoError(t, newDockerRuntime(m).Serve(ctx, "grobid", image, 8070, 8070))
		assert.Len(t, m.calls, 1, "no start when running")
	})

	t.Run("starts detached", func(t *testing.T) {
		start := "podman run -d --rm --name grobid -p 8070:8070 " + image
		m := &mockExecutor{runnableCmds: map[string]bool{start: true}}
		require.NoError(t, newPodmanRuntime(m).Serve(ctx, "grobid", image, 8070, 8070))
		assert.Contains(t, m.calls, "podman rm -f grobid")
		assert.Equal(t, start, m.calls[len(m.calls)-1])
	})

	t.Run("start failure", func(t *testing.T) {
		m := &mockExecutor{}
		err := newDockerRuntime(m).Serve(ctx, "grobid", image, 8070, 8070)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "starting docker container")
	})
}
