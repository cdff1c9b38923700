// Package auth resolves platform access tokens for new accounts.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dsablic/linestat/internal/model"
)

var ErrNoCredentials = errors.New("no credentials found")

// EnvPrefix starts the token variables, e.g. LINESTAT_GITHUB_TOKEN.
const EnvPrefix = "LINESTAT"

type Credentials struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username,omitempty"`
	// Host is the platform host the token belongs to, empty for the
	// public service.
	Host string `json:"host,omitempty"`
}

type FileStore struct {
	path string
	// cli looks up tokens from installed platform CLIs.
	cli func(platform model.Platform, host string) (string, bool)
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, cli: CLIToken}
}

func DefaultStorePath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, "linestat", "credentials.json")
}

func (s *FileStore) Save(platform model.Platform, cred Credentials) error {
	all, _ := s.loadAll()
	if all == nil {
		all = make(map[model.Platform]Credentials)
	}
	all[platform] = cred

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

func (s *FileStore) Load(platform model.Platform) (Credentials, error) {
	all, err := s.loadAll()
	if err != nil {
		return Credentials{}, ErrNoCredentials
	}
	cred, ok := all[platform]
	if !ok {
		return Credentials{}, ErrNoCredentials
	}
	return cred, nil
}

// Resolve finds a token for platform, trying in order the environment,
// the credentials file and the platform's CLI. Git accounts only need a
// token for private remotes, so a missing one is not an error for them.
func (s *FileStore) Resolve(platform model.Platform, host string) (Credentials, error) {
	name := strings.ToUpper(string(platform))
	if token := os.Getenv(fmt.Sprintf("%s_%s_TOKEN", EnvPrefix, name)); token != "" {
		return Credentials{
			AccessToken: token,
			Username:    os.Getenv(fmt.Sprintf("%s_%s_USERNAME", EnvPrefix, name)),
			Host:        host,
		}, nil
	}
	if cred, err := s.Load(platform); err == nil && (host == "" || cred.Host == "" || cred.Host == host) {
		return cred, nil
	}
	if s.cli != nil {
		if token, ok := s.cli(platform, host); ok {
			return Credentials{AccessToken: token, Host: host}, nil
		}
	}
	if platform == model.PlatformGit {
		return Credentials{}, nil
	}
	return Credentials{}, ErrNoCredentials
}

func (s *FileStore) loadAll() (map[model.Platform]Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var all map[model.Platform]Credentials
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	return all, nil
}
