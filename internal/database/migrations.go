package database

import (
	"cmp"
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Migration is one numbered pair of SQL scripts under migrations/.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

func (m Migration) String() string {
	return fmt.Sprintf("%06d_%s", m.Version, m.Name)
}

//go:embed migrations/*.sql
var migrationFiles embed.FS

var embeddedMigrations = sync.OnceValues(func() ([]Migration, error) {
	dir, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, err
	}
	return loadMigrations(dir)
})

// Migrations returns the embedded migrations in version order.
func Migrations() ([]Migration, error) {
	return embeddedMigrations()
}

// loadMigrations reads <version>_<name>.up.sql files and their .down.sql
// counterparts from the root of fsys. Malformed names are errors.
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	ups, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}

	out := make([]Migration, 0, len(ups))
	seen := make(map[int]string, len(ups))
	for _, file := range ups {
		stem := strings.TrimSuffix(file, ".up.sql")
		rawVersion, name, ok := strings.Cut(stem, "_")
		if !ok || name == "" {
			return nil, fmt.Errorf("migration %s: want <version>_<name>.up.sql", file)
		}
		version, err := strconv.Atoi(rawVersion)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: bad version %q", file, rawVersion)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration version %d used by both %s and %s", version, prev, file)
		}
		seen[version] = file

		up, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, err
		}
		down, err := fs.ReadFile(fsys, stem+".down.sql")
		if err != nil {
			return nil, fmt.Errorf("migration %s has no down script: %w", stem, err)
		}

		out = append(out, Migration{Version: version, Name: name, Up: string(up), Down: string(down)})
	}

	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

func findMigration(all []Migration, version int) (Migration, bool) {
	i, ok := slices.BinarySearchFunc(all, version, func(m Migration, v int) int {
		return cmp.Compare(m.Version, v)
	})
	if !ok {
		return Migration{}, false
	}
	return all[i], true
}

// pendingMigrations returns the migrations whose versions are not in applied.
func pendingMigrations(all []Migration, applied []int) []Migration {
	var pending []Migration
	for _, m := range all {
		if !slices.Contains(applied, m.Version) {
			pending = append(pending, m)
		}
	}
	return pending
}

// validateAppliedVersions fails when the database records a version this
// binary does not know about, which means it is older than the schema.
func validateAppliedVersions(applied []int, known []Migration) error {
	var unknown []string
	for _, v := range applied {
		if _, ok := findMigration(known, v); !ok {
			unknown = append(unknown, fmt.Sprintf("%06d", v))
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	slices.Sort(unknown)
	return fmt.Errorf("schema_migrations records versions missing from this build: %s", strings.Join(unknown, ", "))
}
