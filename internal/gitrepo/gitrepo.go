// Package gitrepo detects the working repository from git remotes so the
// surfaces can default --repo to where the user is standing.
package gitrepo

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// remoteRe extracts owner/name from the common GitHub remote URL forms:
//
//	git@github.com:owner/name.git
//	https://github.com/owner/name.git
//	ssh://git@github.com/owner/name
var remoteRe = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/\s]+?)(?:\.git)?$`)

// Detect returns the owner/name slug for the repo at dir, trying the origin
// remote first, then upstream.
func Detect(dir string) (string, error) {
	for _, remote := range []string{"origin", "upstream"} {
		url, err := remoteURL(dir, remote)
		if err != nil || url == "" {
			continue
		}
		if slug, ok := ParseRemote(url); ok {
			return slug, nil
		}
	}
	return "", fmt.Errorf("no GitHub remote found in %s; pass --repo owner/name", dir)
}

// ParseRemote extracts an owner/name slug from a git remote URL.
func ParseRemote(url string) (string, bool) {
	m := remoteRe.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return "", false
	}
	return m[1] + "/" + m[2], true
}

func remoteURL(dir, remote string) (string, error) {
	cmd := exec.Command("git", "config", "--get", "remote."+remote+".url")
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
