// Package export pushes generated scripts to a GitHub repository so they
// can live in version control alongside the suites they belong to.
package export

import (
	"context"
	"fmt"
	"net/http"
	"path"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/mbellotti/testyard/internal/config"
)

// repositoriesService abstracts the GitHub API methods we use, enabling test mocks.
type repositoriesService interface {
	GetContents(ctx context.Context, owner, repo, path string, opts *github.RepositoryContentGetOptions) (*github.RepositoryContent, []*github.RepositoryContent, *github.Response, error)
	CreateFile(ctx context.Context, owner, repo, path string, opts *github.RepositoryContentFileOptions) (*github.RepositoryContentResponse, *github.Response, error)
	UpdateFile(ctx context.Context, owner, repo, path string, opts *github.RepositoryContentFileOptions) (*github.RepositoryContentResponse, *github.Response, error)
}

// GitHub commits script files to one repository directory on a fixed branch.
type GitHub struct {
	repos  repositoriesService
	owner  string
	repo   string
	branch string
	dir    string
}

// Opts holds parameters for creating a GitHub exporter.
type Opts struct {
	Owner  string
	Repo   string
	Branch string // defaults to main
	Dir    string // repository directory for script files, defaults to scripts
	Token  string // personal access token or app installation token
	// For testing: inject a mock service instead of the real GitHub API.
	Repositories repositoriesService
}

// New creates a GitHub exporter.
func New(ctx context.Context, opts Opts) (*GitHub, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("export: owner and repo are required")
	}
	if opts.Repositories == nil && opts.Token == "" {
		return nil, fmt.Errorf("export: token is required")
	}
	branch := opts.Branch
	if branch == "" {
		branch = "main"
	}
	dir := opts.Dir
	if dir == "" {
		dir = "scripts"
	}

	repos := opts.Repositories
	if repos == nil {
		tc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}))
		repos = github.NewClient(tc).Repositories
	}
	return &GitHub{
		repos:  repos,
		owner:  opts.Owner,
		repo:   opts.Repo,
		branch: branch,
		dir:    dir,
	}, nil
}

// NewFromConfig builds a GitHub exporter from config. Returns nil when
// export is disabled, so callers can skip the wiring entirely.
func NewFromConfig(ctx context.Context, cfg config.ExportConfig) (*GitHub, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return New(ctx, Opts{
		Owner:  cfg.Owner,
		Repo:   cfg.Repo,
		Branch: cfg.Branch,
		Dir:    cfg.Dir,
		Token:  cfg.Token,
	})
}

// Export commits content as dir/name on the configured branch, creating the
// file or updating it in place. It returns the file's web URL. Re-exporting
// identical content is a no-op.
func (g *GitHub) Export(ctx context.Context, name, content string) (string, error) {
	filePath := path.Join(g.dir, name)

	existing, _, resp, err := g.repos.GetContents(ctx, g.owner, g.repo, filePath,
		&github.RepositoryContentGetOptions{Ref: g.branch})
	if err != nil && (resp == nil || resp.StatusCode != http.StatusNotFound) {
		return "", fmt.Errorf("export: get %s: %w", filePath, err)
	}

	fileOpts := &github.RepositoryContentFileOptions{
		Content: []byte(content),
		Branch:  github.String(g.branch),
	}

	if existing != nil {
		current, decErr := existing.GetContent()
		if decErr == nil && current == content {
			return existing.GetHTMLURL(), nil
		}
		fileOpts.Message = github.String("Update " + name)
		fileOpts.SHA = existing.SHA
		created, _, err := g.repos.UpdateFile(ctx, g.owner, g.repo, filePath, fileOpts)
		if err != nil {
			return "", fmt.Errorf("export: update %s: %w", filePath, err)
		}
		return created.Content.GetHTMLURL(), nil
	}

	fileOpts.Message = github.String("Add " + name)
	created, _, err := g.repos.CreateFile(ctx, g.owner, g.repo, filePath, fileOpts)
	if err != nil {
		return "", fmt.Errorf("export: create %s: %w", filePath, err)
	}
	return created.Content.GetHTMLURL(), nil
}
