package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firewatch/firewatch/internal/github"
)

func TestTokenPrecedence(t *testing.T) {
	t.Setenv("GH_TOKEN", "from-gh-env")
	t.Setenv("GITHUB_TOKEN", "from-github-env")

	tok, err := Token("from-config")
	require.NoError(t, err)
	assert.Equal(t, "from-config", tok, "explicit config wins")

	tok, err = Token("")
	require.NoError(t, err)
	assert.Equal(t, "from-gh-env", tok, "GH_TOKEN outranks GITHUB_TOKEN")

	t.Setenv("GH_TOKEN", "")
	tok, err = Token("")
	require.NoError(t, err)
	assert.Equal(t, "from-github-env", tok)
}

func TestTokenFromGhCLI(t *testing.T) {
	t.Setenv("GH_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "")

	cfgDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", cfgDir)
	require.NoError(t, os.MkdirAll(filepath.Join(cfgDir, "gh"), 0o755))
	hosts := "github.com:\n  oauth_token: from-hosts-yml\n  user: alice\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "gh", "hosts.yml"), []byte(hosts), 0o644))

	tok, err := Token("")
	require.NoError(t, err)
	assert.Equal(t, "from-hosts-yml", tok)
}

func TestTokenMissing(t *testing.T) {
	t.Setenv("GH_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := Token("")
	var ae *github.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Error(), "gh auth login")
}
