// internal/provider/github.go
package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/dsablic/linestat/internal/model"
)

const githubAPIBase = "https://api.github.com"

// GitHub implements Provider using the REST contents API.
type GitHub struct {
	token   string
	baseURL string
	client  *http.Client
	opts    Options
}

// NewGitHub creates a new GitHub provider. If baseURL is empty,
// the default GitHub API endpoint is used.
func NewGitHub(token string, baseURL string, opts Options) *GitHub {
	if baseURL == "" {
		baseURL = githubAPIBase
	}
	return &GitHub{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  opts.client(),
		opts:    opts,
	}
}

// ListRepos fetches the repositories owned by the authenticated user,
// handling Link header pagination automatically.
func (g *GitHub) ListRepos(ctx context.Context, opts ListOpts) ([]model.Repo, error) {
	var allRepos []model.Repo

	nextURL := fmt.Sprintf("%s/user/repos?per_page=100&affiliation=owner", g.baseURL)
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

type githubRepo struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	HTMLURL       string `json:"html_url"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
	Archived      bool   `json:"archived"`
	Fork          bool   `json:"fork"`
}

func (g *GitHub) get(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := g.opts.send(g.client, req)
	if err != nil {
		return nil, fmt.Errorf("github API request: %w", err)
	}
	return resp, nil
}

func (g *GitHub) fetchPage(ctx context.Context, pageURL string) ([]model.Repo, string, error) {
	resp, err := g.get(ctx, pageURL)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", statusError("github", resp)
	}

	var ghRepos []githubRepo
	if err := json.NewDecoder(resp.Body).Decode(&ghRepos); err != nil {
		return nil, "", fmt.Errorf("decode github response: %w", err)
	}

	repos := make([]model.Repo, 0, len(ghRepos))
	for _, r := range ghRepos {
		repos = append(repos, model.Repo{
			ID:            strconv.FormatInt(r.ID, 10),
			Name:          r.Name,
			FullName:      r.FullName,
			URL:           r.HTMLURL,
			CloneURL:      r.CloneURL,
			Provider:      model.PlatformGitHub,
			DefaultBranch: r.DefaultBranch,
			Private:       r.Private,
			Archived:      r.Archived,
			Fork:          r.Fork,
		})
	}

	return repos, parseLinkNext(resp.Header.Get("Link")), nil
}

var linkNextRe = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

func parseLinkNext(header string) string {
	matches := linkNextRe.FindStringSubmatch(header)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

// LatestCommit returns the sha of the newest commit on ref.
func (g *GitHub) LatestCommit(ctx context.Context, repo model.Repo, ref string) (string, error) {
	u := fmt.Sprintf("%s/repos/%s/commits?sha=%s&per_page=1", g.baseURL, repo.FullName, url.QueryEscape(ref))
	resp, err := g.get(ctx, u)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// 409 is returned for an empty repository.
	if resp.StatusCode == http.StatusConflict {
		return "", fmt.Errorf("github commits for %s: %w", repo.FullName, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError("github", resp)
	}

	var commits []struct {
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&commits); err != nil {
		return "", fmt.Errorf("decode github commits: %w", err)
	}
	if len(commits) == 0 || commits[0].SHA == "" {
		return "", fmt.Errorf("github commits for %s@%s: %w", repo.FullName, ref, ErrNotFound)
	}
	return commits[0].SHA, nil
}

type githubContent struct {
	Type        string `json:"type"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	Encoding    string `json:"encoding"`
	Content     string `json:"content"`
	DownloadURL string `json:"download_url"`
}

func (g *GitHub) contentsURL(repo model.Repo, ref, path string) string {
	u := fmt.Sprintf("%s/repos/%s/contents", g.baseURL, repo.FullName)
	if path != "" {
		u += "/" + escapePath(path)
	}
	return u + "?ref=" + url.QueryEscape(ref)
}

// ListTree lists one directory through the contents API.
func (g *GitHub) ListTree(ctx context.Context, repo model.Repo, ref, dir string) ([]TreeEntry, error) {
	resp, err := g.get(ctx, g.contentsURL(repo, ref, dir))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("github", resp)
	}

	var items []githubContent
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode github contents of %q: %w", dir, err)
	}

	entries := make([]TreeEntry, 0, len(items))
	for _, it := range items {
		var typ EntryType
		switch it.Type {
		case "file":
			typ = EntryFile
		case "dir":
			typ = EntryDir
		default:
			// symlinks and submodules are not walked
			continue
		}
		entries = append(entries, TreeEntry{
			Path:      it.Path,
			Type:      typ,
			ContentID: it.SHA,
			Size:      it.Size,
		})
	}
	return entries, nil
}

// FetchFile returns the file content. Inline base64 content is used when
// present; otherwise the raw download URL is fetched.
func (g *GitHub) FetchFile(ctx context.Context, repo model.Repo, ref, path string) ([]byte, error) {
	resp, err := g.get(ctx, g.contentsURL(repo, ref, path))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("github", resp)
	}

	var c githubContent
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode github content of %q: %w", path, err)
	}
	if c.Size > g.opts.maxFileSize() {
		return nil, ErrTooLarge
	}

	if c.Encoding == "base64" && c.Content != "" {
		data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(c.Content, "\n", ""))
		if err != nil {
			return nil, fmt.Errorf("decode base64 content of %q: %w", path, err)
		}
		return data, nil
	}
	if c.Size == 0 {
		return []byte{}, nil
	}
	if c.DownloadURL == "" {
		return nil, fmt.Errorf("github content of %q has no inline data or download URL", path)
	}
	return g.download(ctx, c.DownloadURL)
}

func (g *GitHub) download(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := g.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("github raw", resp)
	}
	return readLimited(resp.Body, g.opts.maxFileSize())
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}
