package auth

import (
	"net/url"
	"os/exec"
	"strings"

	"github.com/dsablic/linestat/internal/model"
)

// CLIToken asks the gh or glab CLI for a token. host may be a bare host
// or a base URL; empty means the public service.
func CLIToken(platform model.Platform, host string) (string, bool) {
	host = hostOf(host)
	switch platform {
	case model.PlatformGitHub:
		args := []string{"auth", "token"}
		if host != "" {
			args = append(args, "--hostname", host)
		}
		return run("gh", args...)
	case model.PlatformGitLab:
		if host == "" {
			host = "gitlab.com"
		}
		return run("glab", "config", "get", "token", "--host", host)
	}
	return "", false
}

func hostOf(s string) string {
	if s == "" {
		return ""
	}
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		return u.Host
	}
	return s
}

// run returns the trimmed output of a command, or false when the command
// is missing, fails or prints nothing.
func run(name string, args ...string) (string, bool) {
	out, err := exec.Command(name, args...).Output()
	if err != nil {
		return "", false
	}
	token := strings.TrimSpace(string(out))
	if token == "" {
		return "", false
	}
	return token, true
}
