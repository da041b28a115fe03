package hooks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnStart_RunsConfiguredCommand(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "started")
	r := New("touch "+marker, "", "", nil)
	r.OnStart()
	assert.FileExists(t, marker)
}

func TestOnStart_NoopWhenUnconfigured(t *testing.T) {
	r := New("", "", "", nil)
	r.OnStart() // must not panic or block
}

func TestOnCassetteWritten_PassesPathInEnv(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	r := New("", "", `echo -n "$VCR_CASSETTE_PATH" > `+out, nil)
	r.OnCassetteWritten("/cassettes/example.com/GET_widgets_abcd1234.json")

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "/cassettes/example.com/GET_widgets_abcd1234.json", string(content))
}
