package tools

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

type fakeRunner struct {
	result RunResult
	err    error
	block  bool

	path string
	args []string
}

func (f *fakeRunner) run(ctx context.Context, path string, args []string) (RunResult, error) {
	f.path, f.args = path, args
	if f.block {
		<-ctx.Done()
		return RunResult{}, ctx.Err()
	}
	return f.result, f.err
}

func catalogWith(r *fakeRunner, missing ...string) *Catalog {
	return NewCatalog(WithLookPath(lookPathExcept(missing...)), WithRunner(r.run))
}

func TestExecAdapter_Execute(t *testing.T) {
	r := &fakeRunner{result: RunResult{Stdout: []byte("www.example.com\napi.example.com\nnot-a-host\n")}}
	a, _ := catalogWith(r).Adapter("subfinder")

	disc, err := a.Execute(context.Background(), "example.com", nil)
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/subfinder", r.path)
	assert.Equal(t, []string{"-silent", "-d", "example.com"}, r.args)
	require.Len(t, disc.Assets, 2)
	assert.Equal(t, "www.example.com", disc.Assets[0].Identifier)
	assert.Equal(t, domain.AssetKindSubdomain, disc.Assets[0].Kind)
}

func TestExecAdapter_Params(t *testing.T) {
	r := &fakeRunner{}
	a, _ := catalogWith(r).Adapter("masscan")

	_, err := a.Execute(context.Background(), "10.0.0.1", map[string]string{"ports": "80,443"})
	require.NoError(t, err)
	assert.Equal(t, []string{"-p80,443", "--rate=1000", "-oJ", "-", "10.0.0.1"}, r.args)
}

func TestExecAdapter_RejectsTargets(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{name: "empty", target: " "},
		{name: "flag", target: "-oN/tmp/x"},
		{name: "newline", target: "example.com\n-x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{}
			a, _ := catalogWith(r).Adapter("httpx")

			_, err := a.Execute(context.Background(), tt.target, nil)
			require.ErrorIs(t, err, domain.ErrInvalidRequest)
			assert.Nil(t, r.args, "runner must not be called")
		})
	}
}

func TestExecAdapter_ToolUnavailable(t *testing.T) {
	r := &fakeRunner{}
	a, _ := catalogWith(r, "nikto").Adapter("nikto")

	_, err := a.Execute(context.Background(), "https://example.com", nil)
	require.ErrorIs(t, err, domain.ErrToolUnavailable)

	var ae *domain.AdapterError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "nikto", ae.Tool)
}

func TestExecAdapter_NonZeroExit(t *testing.T) {
	exitErr := &exec.ExitError{}

	t.Run("no output is a failure", func(t *testing.T) {
		r := &fakeRunner{
			result: RunResult{Stderr: []byte("fatal: resolver unreachable"), ExitCode: 2},
			err:    exitErr,
		}
		a, _ := catalogWith(r).Adapter("subfinder")

		_, err := a.Execute(context.Background(), "example.com", nil)
		var ae *domain.AdapterError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, 2, ae.ExitCode)
		assert.Contains(t, err.Error(), "resolver unreachable")
	})

	t.Run("partial output is kept", func(t *testing.T) {
		r := &fakeRunner{
			result: RunResult{Stdout: []byte("a.example.com\n"), ExitCode: 1},
			err:    exitErr,
		}
		a, _ := catalogWith(r).Adapter("subfinder")

		disc, err := a.Execute(context.Background(), "example.com", nil)
		require.NoError(t, err)
		assert.Len(t, disc.Assets, 1)
	})
}

func TestExecAdapter_Cancellation(t *testing.T) {
	r := &fakeRunner{block: true}
	a, _ := catalogWith(r).Adapter("nuclei")

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(domain.ErrTimedOut)

	_, err := a.Execute(ctx, "https://example.com", nil)
	require.ErrorIs(t, err, domain.ErrTimedOut)
}

func TestExecAdapter_UnparseableOutput(t *testing.T) {
	r := &fakeRunner{result: RunResult{Stdout: []byte("{not json")}}
	a, _ := catalogWith(r).Adapter("wpscan")

	_, err := a.Execute(context.Background(), "https://blog.example.com", nil)
	var ae *domain.AdapterError
	require.ErrorAs(t, err, &ae)
	assert.False(t, errors.Is(err, domain.ErrToolUnavailable))
}

func TestWithStderr(t *testing.T) {
	base := errors.New("exit status 1")

	assert.Same(t, base, withStderr(base, []byte("   ")))

	long := make([]byte, stderrTail*2)
	for i := range long {
		long[i] = 'x'
	}
	err := withStderr(base, long)
	require.ErrorIs(t, err, base)
	assert.Less(t, len(err.Error()), stderrTail+64)
}
