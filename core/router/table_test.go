package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRoutes(t *testing.T) {
	tbl := Default()
	require.Equal(t, 4, tbl.Len())

	cases := map[string]string{
		"/bonuses":  `{"bonuses":[10,20,30]}`,
		"/settings": `{"settings":{"theme":"dark"}}`,
		"/games":    `{"games":["chess","poker"]}`,
		"/health":   `{"status":"OK"}`,
	}
	for path, want := range cases {
		body, ok := tbl.Lookup(path)
		require.True(t, ok, path)
		assert.Equal(t, want, string(body))
	}
}

func TestLookupIsExactAndCaseSensitive(t *testing.T) {
	tbl := Default()
	for _, miss := range []string{"/", "/nope", "/Health", "/health/", "/health/x", "health"} {
		_, ok := tbl.Lookup(miss)
		assert.False(t, ok, miss)
	}
}

func TestAddAfterSealPanics(t *testing.T) {
	tbl := NewTable()
	tbl.Add("/a", []byte("{}"))
	tbl.Seal()
	assert.Panics(t, func() { tbl.Add("/b", []byte("{}")) })
}

func TestAddRequiresSlashPrefix(t *testing.T) {
	tbl := NewTable()
	assert.Panics(t, func() { tbl.Add("broken", []byte("{}")) })
	assert.Panics(t, func() { tbl.Add("", []byte("{}")) })
}
