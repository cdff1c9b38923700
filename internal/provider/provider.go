// internal/provider/provider.go
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/dsablic/linestat/internal/model"
)

// DefaultMaxFileSize is the largest file content a provider will return.
const DefaultMaxFileSize = 10 << 20

var (
	// ErrNotFound is returned when a ref, path or repository does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTooLarge is returned by FetchFile when content exceeds the size ceiling.
	ErrTooLarge = errors.New("file exceeds size limit")
)

// ListOpts configures which repositories to retrieve from a provider.
type ListOpts struct {
	Repos           []string
	Exclude         []string
	IncludeArchived bool
	IncludeForks    bool
}

func (o ListOpts) keep(r model.Repo) bool {
	if !o.IncludeForks && r.Fork {
		return false
	}
	if !o.IncludeArchived && r.Archived {
		return false
	}
	if len(o.Repos) > 0 && !slices.Contains(o.Repos, r.Name) && !slices.Contains(o.Repos, r.FullName) {
		return false
	}
	if slices.Contains(o.Exclude, r.Name) || slices.Contains(o.Exclude, r.FullName) {
		return false
	}
	return true
}

// EntryType distinguishes files from directories in a tree listing.
type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"
)

// TreeEntry is one child of a listed directory.
type TreeEntry struct {
	Path string
	Type EntryType
	// ContentID is the platform blob id; empty when the platform has none.
	ContentID string
	// Size in bytes, or -1 when the listing does not report it.
	Size int64
}

// Provider is the interface every hosting platform implements for the
// scanner.
type Provider interface {
	ListRepos(ctx context.Context, opts ListOpts) ([]model.Repo, error)
	// LatestCommit returns the head commit id of ref.
	LatestCommit(ctx context.Context, repo model.Repo, ref string) (string, error)
	// ListTree lists the direct children of dir at ref. The root is "".
	ListTree(ctx context.Context, repo model.Repo, ref, dir string) ([]TreeEntry, error)
	// FetchFile returns the raw bytes of path at ref.
	FetchFile(ctx context.Context, repo model.Repo, ref, path string) ([]byte, error)
}

// Options holds settings shared by all providers.
type Options struct {
	Client      *http.Client
	MaxFileSize int64
	// FetchTimeout bounds each remote request: listings, commit lookups
	// and content downloads.
	FetchTimeout time.Duration
}

// bound limits ctx to FetchTimeout when one is set.
func (o Options) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.FetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.FetchTimeout)
}

// releaseBody ties a request's deadline to its response body, so the
// body stays readable until the caller closes it.
type releaseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b releaseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// send performs req under FetchTimeout.
func (o Options) send(client *http.Client, req *http.Request) (*http.Response, error) {
	ctx, cancel := o.bound(req.Context())
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = releaseBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (o Options) maxFileSize() int64 {
	if o.MaxFileSize <= 0 {
		return DefaultMaxFileSize
	}
	return o.MaxFileSize
}

func (o Options) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return &http.Client{}
}

// New returns the provider for an account's platform.
func New(account model.Account, opts Options) (Provider, error) {
	switch account.Platform {
	case model.PlatformGitHub:
		return NewGitHub(account.AccessToken, account.BaseURL, opts), nil
	case model.PlatformGitLab:
		return NewGitLab(account.AccessToken, account.BaseURL, opts), nil
	case model.PlatformGit:
		if account.BaseURL == "" {
			return nil, errors.New("git account requires a base URL or directory")
		}
		return NewGit(account.BaseURL, account.AccessToken, opts), nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", account.Platform)
	}
}

// readLimited reads at most limit bytes from r, failing with ErrTooLarge
// when more are available.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

func statusError(platform string, resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s API: %w", platform, ErrNotFound)
	}
	return fmt.Errorf("%s API returned status %d", platform, resp.StatusCode)
}
