// Package discover finds templated SQL migration files under a root directory.
package discover

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// Suffixes recognized as migration sources, longest first so that
// "001_init.sql.j2" resolves to the name "001_init".
var recognizedSuffixes = []string{
	".sql.gotmpl",
	".sql.jinja",
	".sql.tmpl",
	".sql.j2",
	".sql",
}

var versionPattern = regexp.MustCompile(`^[VvUu]?(\d+)(?:[_\-.]|$)`)

var (
	// ErrRootNotFound is returned when the migration root does not exist.
	ErrRootNotFound = errors.New("migration root does not exist")
	// ErrRootNotDir is returned when the migration root is not a directory.
	ErrRootNotDir = errors.New("migration root is not a directory")
)

// PathError reports a failure to read the migration root.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("discover migrations in %q: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// Source is a migration file and its logical name.
type Source struct {
	// Path is the file path as seen by the filesystem.
	Path string
	// Name is the base name without directory and migration suffix.
	Name string
	// Version is the numeric prefix of Name, valid when Versioned is true.
	Version uint64
	// Versioned reports whether Name starts with a numeric version.
	Versioned bool
}

// Discoverer scans a filesystem for migration sources.
type Discoverer struct {
	fs     afero.Fs
	logger *slog.Logger
	skip   []string
}

// New constructs a Discoverer. A nil fs uses the OS filesystem.
func New(fsys afero.Fs, logger *slog.Logger) *Discoverer {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{fs: fsys, logger: logger}
}

// SkipDirs excludes the given directories, and everything below them, from the walk.
// The root itself is never skipped.
func (d *Discoverer) SkipDirs(dirs ...string) *Discoverer {
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		d.skip = append(d.skip, absClean(dir))
	}
	return d
}

// Discover walks root recursively and returns the migration sources in apply order:
// versioned names by ascending version then name, followed by unversioned names.
func (d *Discoverer) Discover(root string) ([]Source, error) {
	info, err := d.fs.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &PathError{Path: root, Err: ErrRootNotFound}
		}
		return nil, &PathError{Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &PathError{Path: root, Err: ErrRootNotDir}
	}

	rootAbs := absClean(root)
	var sources []Source
	walkErr := afero.Walk(d.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if abs := absClean(path); abs != rootAbs && slices.Contains(d.skip, abs) {
				d.logger.Debug("skipping directory", "path", path)
				return filepath.SkipDir
			}
			return nil
		}
		name, ok := LogicalName(info.Name())
		if !ok {
			return nil
		}
		if name == "" {
			d.logger.Warn("skipping migration file with empty name", "path", path)
			return nil
		}
		if strings.TrimSpace(name) != name {
			d.logger.Warn("skipping migration file with surrounding whitespace in its name", "path", path)
			return nil
		}
		src := Source{Path: path, Name: name}
		src.Version, src.Versioned = parseVersion(name)
		sources = append(sources, src)
		return nil
	})
	if walkErr != nil {
		return nil, &PathError{Path: root, Err: walkErr}
	}

	Sort(sources)
	d.logger.Debug("discovered migrations", "root", root, "count", len(sources))
	return sources, nil
}

// LogicalName strips a recognized migration suffix from a file name.
// It reports false when the file is not a migration source.
func LogicalName(filename string) (string, bool) {
	base := filepath.Base(filename)
	lower := strings.ToLower(base)
	for _, suffix := range recognizedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return base[:len(base)-len(suffix)], true
		}
	}
	return "", false
}

// Sort orders sources in place for application.
func Sort(sources []Source) {
	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]
		if a.Versioned != b.Versioned {
			return a.Versioned
		}
		if a.Versioned && a.Version != b.Version {
			return a.Version < b.Version
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Path < b.Path
	})
}

func absClean(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func parseVersion(name string) (uint64, bool) {
	m := versionPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
