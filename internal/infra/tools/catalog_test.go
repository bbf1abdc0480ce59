package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

func lookPathExcept(missing ...string) LookPathFunc {
	return func(file string) (string, error) {
		for _, m := range missing {
			if m == file {
				return "", errors.New("not found")
			}
		}
		return "/usr/bin/" + file, nil
	}
}

func TestNewCatalog_ContainsEveryTool(t *testing.T) {
	c := NewCatalog(WithLookPath(lookPathExcept()))

	all := c.All()
	require.Len(t, all, 15)

	for _, info := range all {
		assert.True(t, info.Enabled, info.Name)
		assert.True(t, info.Available, info.Name)
		assert.Positive(t, info.Weight, info.Name)
		assert.Positive(t, info.Timeout, info.Name)

		_, ok := c.Adapter(info.Name)
		assert.True(t, ok, info.Name)
	}
}

func TestCatalog_AllOrdering(t *testing.T) {
	c := NewCatalog(WithLookPath(lookPathExcept()))

	all := c.All()
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		if prev.Category == cur.Category {
			assert.Less(t, prev.Name, cur.Name)
			continue
		}
		assert.Less(t, prev.Category, cur.Category)
	}
}

func TestCatalog_Availability(t *testing.T) {
	missing := map[string]bool{"nuclei": true}
	lookPath := func(file string) (string, error) {
		if missing[file] {
			return "", errors.New("not found")
		}
		return "/opt/bin/" + file, nil
	}
	c := NewCatalog(WithLookPath(lookPath))

	info, ok := c.Lookup("nuclei")
	require.True(t, ok)
	assert.False(t, info.Available)
	_, ok = c.Path("nuclei")
	assert.False(t, ok)

	p, ok := c.Path("httpx")
	require.True(t, ok)
	assert.Equal(t, "/opt/bin/httpx", p)

	delete(missing, "nuclei")
	c.Refresh()
	info, _ = c.Lookup("nuclei")
	assert.True(t, info.Available)
}

func TestCatalog_LookupIsCaseInsensitive(t *testing.T) {
	c := NewCatalog(WithLookPath(lookPathExcept()))

	info, ok := c.Lookup("SubFinder")
	require.True(t, ok)
	assert.Equal(t, "subfinder", info.Name)

	_, ok = c.Lookup("unknown")
	assert.False(t, ok)
}

func TestCatalog_Overrides(t *testing.T) {
	disabled := false
	var gotArgs []string
	runner := func(_ context.Context, _ string, args []string) (RunResult, error) {
		gotArgs = args
		return RunResult{Stdout: []byte("a.example.com\n")}, nil
	}

	c := NewCatalog(
		WithLookPath(lookPathExcept()),
		WithRunner(runner),
		WithOverrides(map[string]Override{
			"amass":     {Enabled: &disabled},
			"subfinder": {Timeout: time.Minute, Args: []string{"-all"}},
		}),
		WithWeights(map[string]float64{"subfinder": 42, "nikto": 0}),
	)

	amass, _ := c.Lookup("amass")
	assert.False(t, amass.Enabled)

	sf, _ := c.Lookup("subfinder")
	assert.Equal(t, time.Minute, sf.Timeout)
	assert.Equal(t, 42.0, sf.Weight)

	nikto, _ := c.Lookup("nikto")
	assert.Equal(t, 5.0, nikto.Weight, "non-positive weights keep the default")

	a, _ := c.Adapter("subfinder")
	_, err := a.Execute(context.Background(), "example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"-silent", "-d", "example.com", "-all"}, gotArgs)
}

func TestCatalog_PassiveTools(t *testing.T) {
	c := NewCatalog(WithLookPath(lookPathExcept()))

	var passive []string
	for _, info := range c.All() {
		if info.Passive {
			passive = append(passive, info.Name)
		}
	}
	assert.ElementsMatch(t, []string{"whois", "subfinder", "amass", "assetfinder"}, passive)

	masscan, _ := c.Lookup("masscan")
	assert.True(t, masscan.RequiresRoot)
	assert.Equal(t, []domain.AssetKind{domain.AssetKindIP}, masscan.Produces)
}
