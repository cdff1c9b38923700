// internal/provider/gitlab.go
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dsablic/linestat/internal/model"
)

const gitlabAPIBase = "https://gitlab.com"

// GitLab implements Provider using the v4 repository API.
type GitLab struct {
	token   string
	baseURL string
	client  *http.Client
	opts    Options
}

// NewGitLab creates a new GitLab provider. If baseURL is empty,
// the default GitLab.com endpoint is used.
func NewGitLab(token string, baseURL string, opts Options) *GitLab {
	if baseURL == "" {
		baseURL = gitlabAPIBase
	}
	return &GitLab{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  opts.client(),
		opts:    opts,
	}
}

type gitlabProject struct {
	ID                int    `json:"id"`
	Path              string `json:"path"`
	PathWithNamespace string `json:"path_with_namespace"`
	Name              string `json:"name"`
	WebURL            string `json:"web_url"`
	HTTPURLToRepo     string `json:"http_url_to_repo"`
	DefaultBranch     string `json:"default_branch"`
	Visibility        string `json:"visibility"`
	Archived          bool   `json:"archived"`
	ForkedFromProject *struct {
		ID int `json:"id"`
	} `json:"forked_from_project"`
}

// ListRepos fetches the projects owned by the token's user.
func (g *GitLab) ListRepos(ctx context.Context, opts ListOpts) ([]model.Repo, error) {
	var allRepos []model.Repo

	params := url.Values{}
	params.Set("per_page", "100")
	params.Set("owned", "true")
	if !opts.IncludeArchived {
		params.Set("archived", "false")
	}

	nextURL := fmt.Sprintf("%s/api/v4/projects?%s", g.baseURL, params.Encode())
	for nextURL != "" {
		repos, next, err := g.fetchPage(ctx, nextURL)
		if err != nil {
			return nil, err
		}
		for _, r := range repos {
			if opts.keep(r) {
				allRepos = append(allRepos, r)
			}
		}
		nextURL = next
	}

	return allRepos, nil
}

func (g *GitLab) doGet(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	resp, err := g.opts.send(g.client, req)
	if err != nil {
		return nil, fmt.Errorf("gitlab API request: %w", err)
	}
	return resp, nil
}

func (g *GitLab) fetchPage(ctx context.Context, pageURL string) ([]model.Repo, string, error) {
	resp, err := g.doGet(ctx, pageURL)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", statusError("gitlab", resp)
	}

	var projects []gitlabProject
	if err := json.NewDecoder(resp.Body).Decode(&projects); err != nil {
		return nil, "", fmt.Errorf("decode gitlab response: %w", err)
	}

	repos := make([]model.Repo, 0, len(projects))
	for _, p := range projects {
		repos = append(repos, model.Repo{
			ID:            strconv.Itoa(p.ID),
			Name:          p.Path,
			FullName:      p.PathWithNamespace,
			URL:           p.WebURL,
			CloneURL:      p.HTTPURLToRepo,
			Provider:      model.PlatformGitLab,
			DefaultBranch: p.DefaultBranch,
			Private:       p.Visibility != "public",
			Archived:      p.Archived,
			Fork:          p.ForkedFromProject != nil,
		})
	}

	return repos, nextPageURL(pageURL, resp), nil
}

func nextPageURL(currentURL string, resp *http.Response) string {
	// Try x-next-page header first (offset-based pagination)
	if next := resp.Header.Get("X-Next-Page"); next != "" {
		u, err := url.Parse(currentURL)
		if err != nil {
			return ""
		}
		q := u.Query()
		q.Set("page", next)
		u.RawQuery = q.Encode()
		return u.String()
	}
	// Fall back to Link header (keyset pagination)
	return parseLinkNext(resp.Header.Get("Link"))
}

func (g *GitLab) projectURL(repo model.Repo) string {
	return fmt.Sprintf("%s/api/v4/projects/%s", g.baseURL, url.PathEscape(repo.ID))
}

// LatestCommit returns the id of the newest commit on ref.
func (g *GitLab) LatestCommit(ctx context.Context, repo model.Repo, ref string) (string, error) {
	u := fmt.Sprintf("%s/repository/commits?ref_name=%s&per_page=1", g.projectURL(repo), url.QueryEscape(ref))
	resp, err := g.doGet(ctx, u)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("gitlab", resp)
	}

	var commits []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&commits); err != nil {
		return "", fmt.Errorf("decode gitlab commits: %w", err)
	}
	if len(commits) == 0 || commits[0].ID == "" {
		return "", fmt.Errorf("gitlab commits for %s@%s: %w", repo.FullName, ref, ErrNotFound)
	}
	return commits[0].ID, nil
}

type gitlabTreeItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path"`
}

// ListTree lists one directory of the repository tree. GitLab does not
// report blob sizes, so entries carry Size -1.
func (g *GitLab) ListTree(ctx context.Context, repo model.Repo, ref, dir string) ([]TreeEntry, error) {
	params := url.Values{}
	params.Set("ref", ref)
	params.Set("per_page", "100")
	if dir != "" {
		params.Set("path", dir)
	}

	var entries []TreeEntry
	nextURL := fmt.Sprintf("%s/repository/tree?%s", g.projectURL(repo), params.Encode())
	for nextURL != "" {
		resp, err := g.doGet(ctx, nextURL)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, statusError("gitlab", resp)
		}

		var items []gitlabTreeItem
		if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("decode gitlab tree of %q: %w", dir, err)
		}
		resp.Body.Close()

		for _, it := range items {
			var typ EntryType
			switch it.Type {
			case "blob":
				typ = EntryFile
			case "tree":
				typ = EntryDir
			default:
				continue
			}
			entries = append(entries, TreeEntry{Path: it.Path, Type: typ, ContentID: it.ID, Size: -1})
		}

		nextURL = nextPageURL(nextURL, resp)
	}

	return entries, nil
}

// FetchFile downloads the raw file, refusing content over the size limit.
func (g *GitLab) FetchFile(ctx context.Context, repo model.Repo, ref, path string) ([]byte, error) {
	u := fmt.Sprintf("%s/repository/files/%s/raw?ref=%s",
		g.projectURL(repo), url.PathEscape(path), url.QueryEscape(ref))
	resp, err := g.doGet(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("gitlab", resp)
	}
	if resp.ContentLength > g.opts.maxFileSize() {
		return nil, ErrTooLarge
	}
	return readLimited(resp.Body, g.opts.maxFileSize())
}
