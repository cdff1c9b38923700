// internal/provider/git.go
package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/dsablic/linestat/internal/model"
)

// Git implements Provider on top of go-git. The location is either a
// local repository, a directory whose children are repositories, or a
// remote clone URL.
type Git struct {
	location string
	token    string
	opts     Options

	mu     sync.Mutex
	clones map[string]*git.Repository
}

// NewGit creates a Git provider for location.
func NewGit(location, token string, opts Options) *Git {
	return &Git{
		location: location,
		token:    token,
		opts:     opts,
		clones:   make(map[string]*git.Repository),
	}
}

func isRemote(location string) bool {
	return strings.Contains(location, "://") || strings.HasPrefix(location, "git@")
}

func (g *Git) auth() transport.AuthMethod {
	if g.token == "" {
		return nil
	}
	return &http.BasicAuth{Username: "x-token-auth", Password: g.token}
}

// ListRepos returns the repositories found at the provider location.
func (g *Git) ListRepos(ctx context.Context, opts ListOpts) ([]model.Repo, error) {
	if isRemote(g.location) {
		repo, err := g.remoteRepo(ctx)
		if err != nil {
			return nil, err
		}
		return filterRepos([]model.Repo{repo}, opts), nil
	}

	if r, err := git.PlainOpen(g.location); err == nil {
		return filterRepos([]model.Repo{localRepo(g.location, r)}, opts), nil
	}

	dirEntries, err := os.ReadDir(g.location)
	if err != nil {
		return nil, fmt.Errorf("read repository directory: %w", err)
	}

	var repos []model.Repo
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		dir := filepath.Join(g.location, de.Name())
		r, err := git.PlainOpen(dir)
		if err != nil {
			continue
		}
		repos = append(repos, localRepo(dir, r))
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })
	return filterRepos(repos, opts), nil
}

func filterRepos(repos []model.Repo, opts ListOpts) []model.Repo {
	var out []model.Repo
	for _, r := range repos {
		if opts.keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func localRepo(dir string, r *git.Repository) model.Repo {
	name := filepath.Base(dir)
	repo := model.Repo{
		ID:       name,
		Name:     name,
		FullName: name,
		URL:      dir,
		CloneURL: dir,
		Provider: model.PlatformGit,
	}
	if head, err := r.Head(); err == nil && head.Name().IsBranch() {
		repo.DefaultBranch = head.Name().Short()
	} else if sym, err := r.Storer.Reference(plumbing.HEAD); err == nil && sym.Type() == plumbing.SymbolicReference {
		repo.DefaultBranch = sym.Target().Short()
	}
	return repo
}

func (g *Git) listRemote(ctx context.Context, url string) ([]*plumbing.Reference, error) {
	ctx, cancel := g.opts.bound(ctx)
	defer cancel()
	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: g.auth()})
	if err != nil {
		return nil, fmt.Errorf("git ls-remote %s: %w", url, err)
	}
	return refs, nil
}

func (g *Git) remoteRepo(ctx context.Context) (model.Repo, error) {
	refs, err := g.listRemote(ctx, g.location)
	if err != nil {
		return model.Repo{}, err
	}
	name := strings.TrimSuffix(path.Base(strings.TrimRight(g.location, "/")), ".git")
	repo := model.Repo{
		ID:       g.location,
		Name:     name,
		FullName: name,
		URL:      g.location,
		CloneURL: g.location,
		Provider: model.PlatformGit,
	}
	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD && ref.Type() == plumbing.SymbolicReference {
			repo.DefaultBranch = ref.Target().Short()
		}
	}
	return repo, nil
}

// LatestCommit returns the hash ref points at. Remote repositories are
// queried without cloning.
func (g *Git) LatestCommit(ctx context.Context, repo model.Repo, ref string) (string, error) {
	branch := plumbing.NewBranchReferenceName(ref)

	if isRemote(repo.CloneURL) {
		refs, err := g.listRemote(ctx, repo.CloneURL)
		if err != nil {
			return "", err
		}
		for _, r := range refs {
			if r.Name() == branch {
				return r.Hash().String(), nil
			}
		}
		return "", fmt.Errorf("git branch %s: %w", ref, ErrNotFound)
	}

	r, err := git.PlainOpen(repo.CloneURL)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", repo.CloneURL, err)
	}
	hash, err := resolveBranch(r, ref)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func resolveBranch(r *git.Repository, ref string) (plumbing.Hash, error) {
	for _, name := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(ref),
		plumbing.NewRemoteReferenceName("origin", ref),
	} {
		resolved, err := r.Reference(name, true)
		if err == nil {
			return resolved.Hash(), nil
		}
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, err
		}
	}
	return plumbing.ZeroHash, fmt.Errorf("git branch %s: %w", ref, ErrNotFound)
}

// open returns the repository handle, cloning remote repositories into
// memory once per provider. refresh fetches new objects into an existing
// clone.
func (g *Git) open(ctx context.Context, repo model.Repo, refresh bool) (*git.Repository, error) {
	if !isRemote(repo.CloneURL) {
		r, err := git.PlainOpen(repo.CloneURL)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", repo.CloneURL, err)
		}
		return r, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.clones[repo.CloneURL]; ok {
		if refresh {
			err := r.FetchContext(ctx, &git.FetchOptions{Auth: g.auth(), Tags: git.NoTags, Force: true})
			if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
				return nil, fmt.Errorf("git fetch %s: %w", repo.CloneURL, err)
			}
		}
		return r, nil
	}

	r, err := git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
		URL:  repo.CloneURL,
		Auth: g.auth(),
		Tags: git.NoTags,
	})
	if err != nil {
		return nil, fmt.Errorf("git clone %s: %w", repo.CloneURL, err)
	}
	g.clones[repo.CloneURL] = r
	return r, nil
}

func (g *Git) rootTree(ctx context.Context, repo model.Repo, ref string, refresh bool) (*git.Repository, *object.Tree, error) {
	r, err := g.open(ctx, repo, refresh)
	if err != nil {
		return nil, nil, err
	}
	hash, err := resolveBranch(r, ref)
	if err != nil {
		return nil, nil, err
	}
	commit, err := r.CommitObject(hash)
	if err != nil {
		return nil, nil, fmt.Errorf("load commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, nil, fmt.Errorf("load tree of %s: %w", hash, err)
	}
	return r, tree, nil
}

// ListTree lists the direct children of dir. Blob hashes are used as
// content ids.
func (g *Git) ListTree(ctx context.Context, repo model.Repo, ref, dir string) ([]TreeEntry, error) {
	r, tree, err := g.rootTree(ctx, repo, ref, dir == "")
	if err != nil {
		return nil, err
	}
	if dir != "" {
		tree, err = tree.Tree(dir)
		if err != nil {
			if errors.Is(err, object.ErrDirectoryNotFound) {
				return nil, fmt.Errorf("git tree %s: %w", dir, ErrNotFound)
			}
			return nil, err
		}
	}

	entries := make([]TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		p := path.Join(dir, e.Name)
		switch {
		case e.Mode == filemode.Dir:
			entries = append(entries, TreeEntry{Path: p, Type: EntryDir, ContentID: e.Hash.String(), Size: -1})
		case e.Mode.IsFile() && e.Mode != filemode.Symlink:
			size := int64(-1)
			if blob, err := r.BlobObject(e.Hash); err == nil {
				size = blob.Size
			}
			entries = append(entries, TreeEntry{Path: p, Type: EntryFile, ContentID: e.Hash.String(), Size: size})
		}
	}
	return entries, nil
}

// FetchFile reads a blob from the tree at ref.
func (g *Git) FetchFile(ctx context.Context, repo model.Repo, ref, filePath string) ([]byte, error) {
	_, tree, err := g.rootTree(ctx, repo, ref, false)
	if err != nil {
		return nil, err
	}
	f, err := tree.File(filePath)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, fmt.Errorf("git file %s: %w", filePath, ErrNotFound)
		}
		return nil, err
	}
	if f.Size > g.opts.maxFileSize() {
		return nil, ErrTooLarge
	}
	rd, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", filePath, err)
	}
	defer rd.Close()
	return readLimited(rd, g.opts.maxFileSize())
}
