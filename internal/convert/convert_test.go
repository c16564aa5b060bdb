// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/proceedings-engine/pkg/types"
)

func TestPdftextConverter(t *testing.T) {
	pdfPath := writePDF(t, "Gestural Control of Sound", "Jane Doe")

	text, err := PdftextConverter{}.Convert(context.Background(), pdfPath)
	require.NoError(t, err)
	assert.Contains(t, text, "Gestural Control of Sound")
	assert.Contains(t, text, "Jane Doe")
}

func TestPdftextConverter_NotAPDF(t *testing.T) {
	p := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(p, []byte("<html>landing page</html>"), 0o644))

	_, err := PdftextConverter{}.Convert(context.Background(), p)
	assert.Error(t, err)
}

// fakeRuntime implements container.Runtime for testing.
type fakeRuntime struct {
	imageErr error
	output   string
	runErr   error
}

func (f *fakeRuntime) Name() string                      { return "docker" }
func (f *fakeRuntime) Available(context.Context) bool     { return true }
func (f *fakeRuntime) Stop(context.Context, string) error { return nil }

func (f *fakeRuntime) ImageExists(context.Context, string) error { return f.imageErr }

func (f *fakeRuntime) Run(_ context.Context, _ string, stdin io.Reader, stdout io.Writer) error {
	if f.runErr != nil {
		return f.runErr
	}
	data, _ := io.ReadAll(stdin)
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return errors.New("stdin is not the PDF")
	}
	_, err := io.WriteString(stdout, f.output)
	return err
}

func (f *fakeRuntime) Serve(context.Context, string, string, int, int) error { return nil }

func TestMarkitdownConverter(t *testing.T) {
	ctx := context.Background()
	pdfPath := writePDF(t, "x")

	tests := []struct {
		name    string
		rt      *fakeRuntime
		want    string
		wantErr string
	}{
		{"converts", &fakeRuntime{output: "# Title\n\nBody"}, "# Title\n\nBody", ""},
		{"empty output", &fakeRuntime{}, "", "empty output"},
		{"container failure", &fakeRuntime{runErr: errors.New("exit 1")}, "", "exit 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMarkitdownConverter(ctx, tt.rt)
			require.NoError(t, err)
			got, err := m.Convert(ctx, pdfPath)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := NewMarkitdownConverter(ctx, &fakeRuntime{imageErr: errors.New("no such image")})
	assert.ErrorContains(t, err, "markitdown image not available")
}

func TestNewConverter(t *testing.T) {
	ctx := context.Background()

	c, err := NewConverter(ctx, types.BackendPdftext)
	require.NoError(t, err)
	assert.IsType(t, PdftextConverter{}, c)

	c, err = NewConverter(ctx, "")
	require.NoError(t, err)
	assert.IsType(t, PdftextConverter{}, c)

	c, err = NewConverter(ctx, types.BackendNone)
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = NewConverter(ctx, "ocr")
	assert.Error(t, err)
}
