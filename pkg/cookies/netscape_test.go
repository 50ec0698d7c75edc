package cookies

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetscapeLine(t *testing.T) {
	c := Cookie{
		Domain:            ".instagram.com",
		IncludeSubdomains: true,
		Path:              "/",
		Secure:            true,
		Expiry:            1700000000,
		Name:              "sessionid",
		Value:             "abc",
	}
	assert.Equal(t, ".instagram.com\tTRUE\t/\tTRUE\t1700000000\tsessionid\tabc", c.NetscapeLine())
}

func TestNetscapeLineInsecure(t *testing.T) {
	c := Cookie{
		Domain: "example.com",
		Path:   "/",
		Expiry: 0,
		Name:   "k",
		Value:  "v",
	}
	assert.Equal(t, "example.com\tFALSE\t/\tFALSE\t0\tk\tv", c.NetscapeLine())
}

func TestWriteNetscapeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jars", "someuser.txt")

	cookies := []Cookie{
		{Domain: ".instagram.com", IncludeSubdomains: true, Path: "/", Secure: true, Expiry: 1700000000, Name: "sessionid", Value: "abc"},
		{Domain: ".instagram.com", IncludeSubdomains: true, Path: "/", Secure: true, Expiry: 1700000000, Name: "csrftoken", Value: "tok"},
	}
	require.NoError(t, WriteNetscapeFile(path, cookies))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "# Netscape HTTP Cookie File\n"))
	assert.Contains(t, content, ".instagram.com\tTRUE\t/\tTRUE\t1700000000\tsessionid\tabc\n")
	assert.Contains(t, content, ".instagram.com\tTRUE\t/\tTRUE\t1700000000\tcsrftoken\ttok\n")
}

func TestParseRawCookieString(t *testing.T) {
	got := ParseRawCookieString("sessionid=abc; csrftoken=tok; malformed; ds_user_id=42")
	require.Len(t, got, 3)

	assert.Equal(t, "sessionid", got[0].Name)
	assert.Equal(t, "abc", got[0].Value)
	assert.Equal(t, ".instagram.com", got[0].Domain)
	assert.True(t, got[0].IncludeSubdomains)
	assert.True(t, got[0].Secure)
	assert.Equal(t, "/", got[0].Path)

	// Expiry is roughly a year out.
	yearOut := time.Now().AddDate(1, 0, 0).Unix()
	assert.InDelta(t, yearOut, got[0].Expiry, 60)

	assert.Equal(t, "csrftoken", got[1].Name)
	assert.Equal(t, "ds_user_id", got[2].Name)
	assert.Equal(t, "42", got[2].Value)
}

func TestParseRawCookieStringValueWithEquals(t *testing.T) {
	got := ParseRawCookieString("sessionid=abc=def")
	require.Len(t, got, 1)
	assert.Equal(t, "abc=def", got[0].Value)
}

func TestFileFor(t *testing.T) {
	assert.Equal(t, filepath.Join("cookies", "someuser.txt"), FileFor("cookies", "someuser"))
}
