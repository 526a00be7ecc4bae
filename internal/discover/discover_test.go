package discover

import (
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFiles(t *testing.T, fsys afero.Fs, files map[string]string) {
	t.Helper()
	for path, body := range files {
		require.NoError(t, afero.WriteFile(fsys, path, []byte(body), 0o644))
	}
}

func names(sources []Source) []string {
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		out = append(out, s.Name)
	}
	return out
}

func TestDiscoverOrdersByNumericVersion(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, map[string]string{
		"/migrations/10_later.sql":         "",
		"/migrations/2_second.sql.j2":      "",
		"/migrations/001_init.sql.tmpl":    "",
		"/migrations/nested/V3__users.sql": "",
		"/migrations/seed_data.sql":        "",
		"/migrations/README.md":            "",
		"/migrations/notes.txt":            "",
	})

	got, err := New(fsys, quietLogger()).Discover("/migrations")
	require.NoError(t, err)
	require.Equal(t, []string{"001_init", "2_second", "V3__users", "10_later", "seed_data"}, names(got))

	require.True(t, got[0].Versioned)
	require.Equal(t, uint64(1), got[0].Version)
	require.Equal(t, "/migrations/001_init.sql.tmpl", got[0].Path)
	require.False(t, got[4].Versioned)
}

func TestDiscoverIsDeterministic(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, map[string]string{
		"/m/001_b.sql": "",
		"/m/001_a.sql": "",
		"/m/zeta.sql":  "",
		"/m/alpha.sql": "",
	})

	d := New(fsys, quietLogger())
	first, err := d.Discover("/m")
	require.NoError(t, err)
	second, err := d.Discover("/m")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, []string{"001_a", "001_b", "alpha", "zeta"}, names(first))
}

func TestDiscoverSkipsEmptyNames(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, map[string]string{
		"/m/.sql":       "",
		"/m/001_ok.sql": "",
		"/m/ .sql.tmpl": "",
	})

	got, err := New(fsys, quietLogger()).Discover("/m")
	require.NoError(t, err)
	require.Equal(t, []string{"001_ok"}, names(got))
}

func TestDiscoverSkipsWhitespaceNames(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, map[string]string{
		"/m/001_a.sql":  "",
		"/m/ 001_a.sql": "",
		"/m/002_b .sql": "",
	})

	got, err := New(fsys, quietLogger()).Discover("/m")
	require.NoError(t, err)
	require.Equal(t, []string{"001_a"}, names(got))
}

func TestDiscoverSkipDirs(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, map[string]string{
		"/proj/001_init.sql.j2":                "",
		"/proj/target/migrations/001_init.sql": "",
		"/proj/target/other/002_kept.sql":      "",
	})

	got, err := New(fsys, quietLogger()).SkipDirs("/proj/target/migrations/", "").Discover("/proj")
	require.NoError(t, err)
	require.Equal(t, []string{"001_init", "002_kept"}, names(got))
	require.Equal(t, "/proj/001_init.sql.j2", got[0].Path)
}

func TestDiscoverNeverSkipsRoot(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, map[string]string{"/m/001_a.sql": ""})

	got, err := New(fsys, quietLogger()).SkipDirs("/m").Discover("/m")
	require.NoError(t, err)
	require.Equal(t, []string{"001_a"}, names(got))
}

func TestDiscoverMissingRoot(t *testing.T) {
	_, err := New(afero.NewMemMapFs(), quietLogger()).Discover("/absent")
	require.ErrorIs(t, err, ErrRootNotFound)

	var pathErr *PathError
	require.ErrorAs(t, err, &pathErr)
	require.Equal(t, "/absent", pathErr.Path)
}

func TestDiscoverRootIsFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys, map[string]string{"/file.sql": ""})

	_, err := New(fsys, quietLogger()).Discover("/file.sql")
	require.ErrorIs(t, err, ErrRootNotDir)
}

func TestLogicalName(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"001_init.sql", "001_init", true},
		{"001_init.sql.j2", "001_init", true},
		{"dir/002_x.SQL.TMPL", "002_x", true},
		{"003_y.sql.gotmpl", "003_y", true},
		{"004_z.sql.jinja", "004_z", true},
		{"README.md", "", false},
		{"001_init.sql.bak", "", false},
		{" 001_pad.sql", " 001_pad", true},
	}
	for _, c := range cases {
		got, ok := LogicalName(c.in)
		require.Equal(t, c.ok, ok, c.in)
		require.Equal(t, c.want, got, c.in)
	}
}

func TestParseVersion(t *testing.T) {
	v, ok := parseVersion("V12__add_index")
	require.True(t, ok)
	require.Equal(t, uint64(12), v)

	v, ok = parseVersion("20240101120000_create")
	require.True(t, ok)
	require.Equal(t, uint64(20240101120000), v)

	_, ok = parseVersion("seed")
	require.False(t, ok)

	_, ok = parseVersion("12abc")
	require.False(t, ok)
}
