package auth

import "github.com/dsablic/linestat/internal/model"

// SetCLI replaces the CLI token lookup.
func (s *FileStore) SetCLI(fn func(model.Platform, string) (string, bool)) {
	s.cli = fn
}

var HostOf = hostOf
