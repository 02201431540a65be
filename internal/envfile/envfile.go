// Package envfile is a dependency-free .env scanner: it reads KEY=VALUE
// lines from a small set of candidate paths and injects only the keys the
// caller declares it owns into the process environment, skipping anything
// else (so a shared .env carrying unrelated secrets for a sidecar process
// never gets shell-exported here). Adapted from the teacher's
// loadBotEnv/env.go, generalized from a hardcoded key set to a caller-
// supplied one.
package envfile

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Load scans each of paths (missing files are silently skipped) for
// KEY=VALUE lines whose KEY is in known, and sets the corresponding
// process environment variable unless it's already set. Lines may be
// blank, "# comment", or prefixed with "export "; values may be quoted and
// carry a trailing "# ..." comment.
func Load(known []string, paths ...string) {
	want := make(map[string]struct{}, len(known))
	for _, k := range known {
		want[k] = struct{}{}
	}
	for _, p := range paths {
		loadOne(p, want)
	}
}

// LoadDefault scans ".env" and "../.env", matching the teacher's
// convention of checking both the working directory and its parent
// (useful when running from a cmd/ subdirectory).
func LoadDefault(known []string) {
	Load(known, filepath.Join(".", ".env"), filepath.Join("..", ".env"))
}

func loadOne(path string, want map[string]struct{}) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(line[len("export "):])
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		if _, ok := want[key]; !ok {
			continue
		}
		val := strings.TrimSpace(line[eq+1:])
		if idx := strings.IndexAny(val, "#"); idx >= 0 {
			val = strings.TrimSpace(val[:idx])
		}
		if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, val)
		}
	}
}
