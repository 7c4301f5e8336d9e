package apk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRepositoryRef(t *testing.T) {
	for _, tc := range []struct {
		line    string
		want    RepositoryRef
		wantErr bool
	}{
		{line: "https://packages.wolfi.dev/os", want: RepositoryRef{ID: "packages.wolfi.dev/os", URL: "https://packages.wolfi.dev/os"}},
		{line: "http://dl-cdn.alpinelinux.org/alpine/edge/main", want: RepositoryRef{ID: "dl-cdn.alpinelinux.org/alpine/edge/main", URL: "http://dl-cdn.alpinelinux.org/alpine/edge/main"}},
		{line: "@edge https://dl-cdn.alpinelinux.org/alpine/edge/main", want: RepositoryRef{ID: "edge", URL: "https://dl-cdn.alpinelinux.org/alpine/edge/main"}},
		{line: "  /srv/packages  ", want: RepositoryRef{ID: "/srv/packages", URL: "/srv/packages"}},
		{line: "@edge", wantErr: true},
		{line: "@ https://example.com", wantErr: true},
		{line: "https://a https://b", wantErr: true},
		{line: "", wantErr: true},
	} {
		t.Run(tc.line, func(t *testing.T) {
			got, err := ParseRepositoryRef(tc.line)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestReadRepositoriesFile(t *testing.T) {
	refs, err := ReadRepositoriesFile(strings.NewReader(`# wolfi
https://packages.wolfi.dev/os

@local /srv/packages
`))
	require.NoError(t, err)
	require.Equal(t, []RepositoryRef{
		{ID: "packages.wolfi.dev/os", URL: "https://packages.wolfi.dev/os"},
		{ID: "local", URL: "/srv/packages"},
	}, refs)
	require.Equal(t, "@local /srv/packages", refs[1].String())

	_, err = ReadRepositoriesFile(strings.NewReader("@broken\n"))
	require.Error(t, err)
}

func TestNewLocalIndex(t *testing.T) {
	idx := NewLocalIndex([]*Package{{Name: "hello", Version: "1.0-r0"}})
	require.Equal(t, LocalRepositoryName, idx.Name())
	require.Equal(t, 1, idx.Count())
	require.Equal(t, "", idx.Source())
	require.Equal(t, "hello", idx.Packages()[0].Name)
}

func TestRepositoryIsRemote(t *testing.T) {
	require.True(t, (&Repository{URI: "https://packages.wolfi.dev/os/x86_64"}).IsRemote())
	require.False(t, (&Repository{URI: "/srv/packages/x86_64"}).IsRemote())
}
