package gitops

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/samber/lo"
)

const SyncIgnoreFile = ".syncignore"

// ParseSyncIgnore reads one repository relative path or glob per line.
// Blank lines and lines starting with # are skipped.
func ParseSyncIgnore(content []byte) []string {
	var entries []string
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, strings.TrimPrefix(strings.TrimSuffix(line, "/"), "/"))
	}
	return lo.Uniq(entries)
}

// MatchExcluded returns the paths covered by an entry, either by glob match or
// by being the entry itself or a file below it.
func MatchExcluded(entries []string, paths []string) []string {
	return lo.Filter(paths, func(path string, _ int) bool {
		return lo.SomeBy(entries, func(entry string) bool {
			if path == entry || strings.HasPrefix(path, entry+"/") {
				return true
			}
			ok, err := doublestar.Match(entry, path)
			return err == nil && ok
		})
	})
}
