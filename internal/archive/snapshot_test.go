package archive

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var testMirrors = []string{"archive.ph", "archive.today"}

func TestIsSnapshotURL(t *testing.T) {
	t.Parallel()

	require.True(t, IsSnapshotURL("https://archive.ph/Ab3dE", testMirrors))
	require.True(t, IsSnapshotURL("https://archive.today/x9Y2z", testMirrors))
	require.True(t, IsSnapshotURL("https://www.archive.ph/Ab3dE", testMirrors))

	// Listing and wildcard paths are not snapshots.
	require.False(t, IsSnapshotURL("https://archive.ph/newest/https://example.com", testMirrors))
	require.False(t, IsSnapshotURL("https://archive.ph/https://example.com/a", testMirrors))
	// Short codes outside the 4-6 alphanumeric range do not match.
	require.False(t, IsSnapshotURL("https://archive.ph/ab", testMirrors))
	require.False(t, IsSnapshotURL("https://archive.ph/abcdefgh", testMirrors))
	// Non-mirror hosts never match, short code or not.
	require.False(t, IsSnapshotURL("https://example.com/Ab3dE", testMirrors))
	require.False(t, IsSnapshotURL("://bad", testMirrors))
}

func TestIsMirrorHost(t *testing.T) {
	t.Parallel()

	require.True(t, IsMirrorHost("archive.ph", testMirrors))
	require.True(t, IsMirrorHost("ARCHIVE.PH", testMirrors))
	require.True(t, IsMirrorHost("img.archive.ph", testMirrors))
	require.False(t, IsMirrorHost("notarchive.ph.evil.com", testMirrors))
	require.False(t, IsMirrorHost("example.com", testMirrors))
	// Suffix matching requires a dot boundary.
	require.False(t, IsMirrorHost("fakearchive.ph", testMirrors))
}
