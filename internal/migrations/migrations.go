package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// GetInitialSchema returns the SQL that creates the key-value table
func GetInitialSchema() (string, error) {
	content, err := schemaFS.ReadFile("sql/001_initial_schema.sql")
	if err != nil {
		return "", fmt.Errorf("could not read initial schema: %w", err)
	}
	return string(content), nil
}

// All returns every embedded migration in file name order
func All() ([]string, error) {
	entries, err := fs.ReadDir(schemaFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("could not list migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	scripts := make([]string, 0, len(names))
	for _, name := range names {
		content, err := schemaFS.ReadFile("sql/" + name)
		if err != nil {
			return nil, fmt.Errorf("could not read migration %s: %w", name, err)
		}
		scripts = append(scripts, string(content))
	}
	return scripts, nil
}
