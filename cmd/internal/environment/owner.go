package environment

import (
	"errors"
	"fmt"
	"github.com/go-git/go-git/v5"
	"strings"
)

// DetectOwner finds the git repository enclosing dir and returns the owner of its origin remote.
func DetectOwner(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("failed to open the git repository at %s: %w", dir, err)
	}

	remote, err := repo.Remote("origin")
	if err != nil {
		return "", fmt.Errorf("failed to read the origin remote: %w", err)
	}

	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", errors.New("the origin remote has no URL")
	}

	return OwnerFromRemoteUrl(urls[0])
}

// OwnerFromRemoteUrl extracts the owner from SSH (git@host:owner/repo.git) and
// HTTPS (https://host/owner/repo) remote URLs.
func OwnerFromRemoteUrl(url string) (string, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(url), "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")

	if _, rest, found := strings.Cut(trimmed, "://"); found {
		trimmed = rest
	}

	if at := strings.Index(trimmed, "@"); at >= 0 {
		trimmed = trimmed[at+1:]
	}

	separator := strings.IndexAny(trimmed, ":/")
	if separator < 0 {
		return "", fmt.Errorf("could not find an owner in remote URL %q", url)
	}

	parts := strings.Split(strings.Trim(trimmed[separator+1:], "/"), "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" {
		return "", fmt.Errorf("could not find an owner in remote URL %q", url)
	}

	return parts[len(parts)-2], nil
}
