package scan_test

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dsablic/linestat/internal/model"
	"github.com/dsablic/linestat/internal/provider"
	"github.com/dsablic/linestat/internal/store"
)

type fakeBranch struct {
	commit string
	files  map[string]string
}

// fakeProvider serves in-memory repositories and counts every call.
type fakeProvider struct {
	mu       sync.Mutex
	repos    []model.Repo
	branches map[string]map[string]*fakeBranch // full name -> branch
	noIDs    bool
	listErr  error
	treeErrs map[string]error // directory -> listing error
	fetchErr map[string]error // path -> fetch error
	fetches  map[string]int
	listings int
	commits  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		branches: make(map[string]map[string]*fakeBranch),
		treeErrs: make(map[string]error),
		fetchErr: make(map[string]error),
		fetches:  make(map[string]int),
	}
}

func (f *fakeProvider) addRepo(name, defaultBranch string) model.Repo {
	repo := model.Repo{ID: name, Name: name, FullName: "octo/" + name, DefaultBranch: defaultBranch}
	f.repos = append(f.repos, repo)
	f.branches[repo.FullName] = make(map[string]*fakeBranch)
	return repo
}

func (f *fakeProvider) commit(repo model.Repo, branch, id string, files map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches[repo.FullName][branch] = &fakeBranch{commit: id, files: files}
}

// drop removes a branch, as when a repository becomes unreachable.
func (f *fakeProvider) drop(repo model.Repo, branch string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.branches[repo.FullName], branch)
}

func (f *fakeProvider) fetchCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[path]
}

func (f *fakeProvider) totalFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.fetches {
		n += c
	}
	return n
}

func (f *fakeProvider) branch(repo model.Repo, ref string) (*fakeBranch, error) {
	b, ok := f.branches[repo.FullName][ref]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return b, nil
}

func (f *fakeProvider) ListRepos(_ context.Context, _ provider.ListOpts) ([]model.Repo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.repos, nil
}

func (f *fakeProvider) LatestCommit(_ context.Context, repo model.Repo, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	b, err := f.branch(repo, ref)
	if err != nil {
		return "", err
	}
	return b.commit, nil
}

func (f *fakeProvider) ListTree(_ context.Context, repo model.Repo, ref, dir string) ([]provider.TreeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings++
	if err := f.treeErrs[dir]; err != nil {
		return nil, err
	}
	b, err := f.branch(repo, ref)
	if err != nil {
		return nil, err
	}

	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}
	seen := make(map[string]bool)
	var out []provider.TreeEntry
	for path, content := range b.files {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok {
			continue
		}
		if head, _, nested := strings.Cut(rest, "/"); nested {
			if !seen[head] {
				seen[head] = true
				out = append(out, provider.TreeEntry{Path: prefix + head, Type: provider.EntryDir, Size: -1})
			}
			continue
		}
		e := provider.TreeEntry{Path: path, Type: provider.EntryFile, Size: int64(len(content))}
		if !f.noIDs {
			sum := sha1.Sum([]byte(content))
			e.ContentID = hex.EncodeToString(sum[:])
		}
		out = append(out, e)
	}
	if dir != "" && len(out) == 0 {
		return nil, provider.ErrNotFound
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (f *fakeProvider) FetchFile(_ context.Context, repo model.Repo, ref, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[path]++
	if err := f.fetchErr[path]; err != nil {
		return nil, err
	}
	b, err := f.branch(repo, ref)
	if err != nil {
		return nil, err
	}
	content, ok := b.files[path]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return []byte(content), nil
}

var (
	errListing = errors.New("listing unavailable")
	errFetch   = errors.New("fetch unavailable")
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.SQLite, filepath.Join(t.TempDir(), "scan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addAccount(t *testing.T, s *store.Store, username string) model.Account {
	t.Helper()
	ctx := context.Background()
	id, err := s.AddAccount(ctx, model.Account{Platform: model.PlatformGitHub, Username: username, Active: true})
	require.NoError(t, err)
	a, err := s.GetAccount(ctx, id)
	require.NoError(t, err)
	return a
}
