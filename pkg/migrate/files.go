package migrate

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// sectionMarker splits a .sql file into its halves. Matching is
// case-insensitive and tolerates trailing text on the marker line.
var sectionMarker = regexp.MustCompile(`(?i)^--\s*(up|down)\b`)

// SQLRunner turns parsed SQL text into runnable migrations. The relational
// target implements it; tests substitute a recorder.
type SQLRunner interface {
	SQLMigration(name, up, down string) Migration
}

// Files loads .sql migrations from a filesystem, usually the embedded
// migrations directory. File names (without extension) are the migration
// names and must match the name pattern.
func Files(fsys fs.FS, runner SQLRunner) Source {
	return SourceFunc(func(context.Context) ([]Migration, error) {
		entries, err := fs.ReadDir(fsys, ".")
		if err != nil {
			return nil, fmt.Errorf("failed to read migrations directory: %w", err)
		}

		var migs []Migration
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
				continue
			}
			name := strings.TrimSuffix(entry.Name(), ".sql")
			if !ValidName(name) {
				return nil, fmt.Errorf("migration file %s: name must match <14-digit-timestamp>_<slug>.sql", entry.Name())
			}

			content, err := fs.ReadFile(fsys, entry.Name())
			if err != nil {
				return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
			}
			up, down, err := splitSections(string(content))
			if err != nil {
				return nil, fmt.Errorf("migration file %s: %w", entry.Name(), err)
			}
			migs = append(migs, runner.SQLMigration(name, up, down))
		}

		sort.Slice(migs, func(i, j int) bool { return migs[i].Name < migs[j].Name })
		return migs, nil
	})
}

// Dir is Files over a directory on disk, for deployments that override the
// embedded set.
func Dir(path string, runner SQLRunner) Source {
	return Files(os.DirFS(path), runner)
}

// splitSections divides file content into its up and down halves. Text before
// the first marker is ignored, so files can carry header comments. A missing
// or empty up section is a parse error; a missing down section makes the
// migration irreversible.
func splitSections(content string) (up, down string, err error) {
	var upText, downText strings.Builder
	section := ""

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := sectionMarker.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			section = strings.ToLower(m[1])
			continue
		}
		switch section {
		case "up":
			upText.WriteString(line)
			upText.WriteString("\n")
		case "down":
			downText.WriteString(line)
			downText.WriteString("\n")
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", err
	}

	up = strings.TrimSpace(upText.String())
	down = strings.TrimSpace(downText.String())
	if up == "" {
		return "", "", fmt.Errorf("missing or empty -- up section")
	}
	return up, down, nil
}

// slugPattern constrains the slug passed to CreateFile so the resulting file
// name is a valid migration name.
var slugPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

const fileTemplate = `-- up


-- down

`

// CreateFile writes a timestamped migration template into dir and returns its
// path. The timestamp is rendered in loc, so a team pinning one zone gets
// names that sort by creation time across machines.
func CreateFile(dir, slug string, now time.Time, loc *time.Location) (string, error) {
	if !slugPattern.MatchString(slug) {
		return "", fmt.Errorf("slug %q must contain only lowercase letters, digits, and underscores", slug)
	}

	name := now.In(loc).Format("20060102150405") + "_" + slug + ".sql"
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create migration file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(fileTemplate); err != nil {
		return "", fmt.Errorf("failed to write migration template: %w", err)
	}
	return path, nil
}
