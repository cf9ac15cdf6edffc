package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBinaryVersion(t *testing.T) {
	for output, expected := range map[string]string{
		"24.1.2-stable-ya~8a2f\n":                "24.1.2-stable-ya",
		"ytserver-master\n23.2.0\n":              "23.2.0",
		"19.3.12345-prestable\nBuild: release\n": "19.3.12345-prestable",
		"YT version 22.4 (build 1)":              "22.4.0",
	} {
		v, err := ParseBinaryVersion(output)
		require.NoError(t, err, output)
		require.Equal(t, expected, v.String(), output)
	}

	_, err := ParseBinaryVersion("no digits here")
	require.Error(t, err)
}

func TestDriverAPIVersion(t *testing.T) {
	old, err := ParseVersion("19.3.1")
	require.NoError(t, err)
	require.Equal(t, 3, DriverAPIVersion(old))

	stable, err := ParseBinaryVersion("19.3.12345-prestable\n")
	require.NoError(t, err)
	require.Equal(t, 3, DriverAPIVersion(stable))

	current, err := ParseVersion("24.1.0")
	require.NoError(t, err)
	require.Equal(t, 4, DriverAPIVersion(current))

	require.Equal(t, 4, DriverAPIVersion(nil))
}
