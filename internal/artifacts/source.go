// Package artifacts reads deployable content (notebooks, sample data, reports,
// environment libraries, agent definitions) from a local directory or a git repository.
package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"lakedeploy/internal/common"
	"lakedeploy/internal/observability"
	"lakedeploy/pkg/errors"
	"lakedeploy/pkg/models"
)

// Source is an opened artifact tree
type Source struct {
	root   string
	layout models.Artifacts
	clone  bool
}

// Open resolves layout.Source. Git URLs are shallow-cloned into a temporary
// directory that Close removes; anything else must be a local directory.
func Open(ctx context.Context, layout models.Artifacts) (*Source, error) {
	if IsGitURL(layout.Source) {
		dir, err := os.MkdirTemp("", "lakedeploy-artifacts-*")
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "failed to create clone directory")
		}
		if err := clone(ctx, layout.Source, layout.Ref, dir); err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
		return &Source{root: dir, layout: layout, clone: true}, nil
	}

	root, err := common.CleanPath(layout.Source)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid artifact source").WithContext("source", layout.Source)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, errors.Newf(errors.ErrCodeFileNotFound, "Artifact directory '%s' not found", layout.Source).
			WithSuggestions("Set artifacts.source to the accelerator checkout or a git URL")
	}
	return &Source{root: root, layout: layout}, nil
}

// Root returns the directory artifacts are read from
func (s *Source) Root() string {
	return s.root
}

// Close removes a temporary clone
func (s *Source) Close() error {
	if !s.clone {
		return nil
	}
	return os.RemoveAll(s.root)
}

// IsGitURL reports whether source names a remote repository rather than a local directory
func IsGitURL(source string) bool {
	for _, prefix := range []string{"https://", "http://", "ssh://", "git@", "file://"} {
		if strings.HasPrefix(source, prefix) {
			return true
		}
	}
	return strings.HasSuffix(source, ".git")
}

func clone(ctx context.Context, url, ref, dir string) error {
	opts := &git.CloneOptions{
		URL:  url,
		Auth: authMethod(url),
	}
	if !strings.HasPrefix(url, "file://") && !filepath.IsAbs(url) {
		opts.Depth = 1
	}
	if ref != "" {
		opts.SingleBranch = true
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	}

	observability.Infof("Cloning artifacts from %s", url)
	_, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil && ref != "" {
		// the ref may be a tag
		os.RemoveAll(dir)
		opts.ReferenceName = plumbing.NewTagReferenceName(ref)
		_, err = git.PlainCloneContext(ctx, dir, false, opts)
	}
	if err != nil {
		appErr := errors.Wrap(err, errors.ErrCodeArtifactFetch, "failed to clone artifact repository").
			WithContext("url", url)
		if ref != "" {
			appErr = appErr.WithContext("ref", ref)
		}
		if err == transport.ErrAuthenticationRequired || err == transport.ErrAuthorizationFailed {
			return appErr.WithSuggestions("Set GIT_USERNAME/GIT_PASSWORD or GITHUB_TOKEN for private repositories")
		}
		return appErr.AsRecoverable()
	}
	return nil
}

func authMethod(url string) transport.AuthMethod {
	if strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		keyPath := filepath.Join(home, ".ssh", "id_rsa")
		if _, err := os.Stat(keyPath); err == nil {
			if auth, err := ssh.NewPublicKeysFromFile("git", keyPath, ""); err == nil {
				return auth
			}
		}
		return nil
	}

	if strings.HasPrefix(url, "https://") {
		if user, pass := os.Getenv("GIT_USERNAME"), os.Getenv("GIT_PASSWORD"); user != "" && pass != "" {
			return &http.BasicAuth{Username: user, Password: pass}
		}
		if token := os.Getenv("GITHUB_TOKEN"); token != "" {
			return &http.BasicAuth{Username: "token", Password: token}
		}
	}
	return nil
}
