// Package auth detects the GitHub credential: explicit config first, then
// the conventional environment variables, then the gh CLI's stored token.
package auth

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/firewatch/firewatch/internal/github"
)

// Token resolves the bearer token. Precedence: configToken > GH_TOKEN >
// GITHUB_TOKEN > gh CLI hosts.yml. An empty result is an AuthError.
func Token(configToken string) (string, error) {
	if configToken != "" {
		return configToken, nil
	}
	if t := os.Getenv("GH_TOKEN"); t != "" {
		return t, nil
	}
	if t := os.Getenv("GITHUB_TOKEN"); t != "" {
		return t, nil
	}
	if t := ghCLIToken(); t != "" {
		return t, nil
	}
	return "", &github.AuthError{
		Msg: "no token found; set github_token in config, GH_TOKEN, or run `gh auth login`",
	}
}

// ghHosts matches the slice of gh's hosts.yml we read.
type ghHosts map[string]struct {
	OAuthToken string `yaml:"oauth_token"`
}

// ghCLIToken reads the github.com oauth token stored by the gh CLI.
func ghCLIToken() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, "gh", "hosts.yml"))
	if err != nil {
		return ""
	}
	var hosts ghHosts
	if err := yaml.Unmarshal(data, &hosts); err != nil {
		return ""
	}
	return hosts["github.com"].OAuthToken
}
