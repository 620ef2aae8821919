package e2e

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmokeFlow(t *testing.T) {
	home := t.TempDir()
	binaryPath := buildBinary(t)

	_, stderr, err := runMP(t, binaryPath, home, "provider", "set", "openai", "--key", "sk-test-123")
	require.NoError(t, err, "stderr: %s", stderr)

	stdout, stderr, err := runMP(t, binaryPath, home, "turn", "--conversation", "c-1", "--json", "write", "a", "spring", "newsletter")
	require.NoError(t, err, "stderr: %s", stderr)

	var decision map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &decision))
	assert.Equal(t, true, decision["admitted"])

	_, stderr, err = runMP(t, binaryPath, home, "event", "c-1", "intent_captured", "--intent", "spring sale")
	require.NoError(t, err, "stderr: %s", stderr)

	// Each run is a fresh process, so this reads the persisted checkpoint log.
	stdout, stderr, err = runMP(t, binaryPath, home, "session", "latest", "--json")
	require.NoError(t, err, "stderr: %s", stderr)

	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &view))
	session := view["session"].(map[string]any)
	assert.Equal(t, "selecting_template", session["state"])
	assert.Equal(t, "spring sale", session["intent"])

	stdout, stderr, err = runMP(t, binaryPath, home, "credits", "--json")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, `"remaining_credits": 9`)
}

func buildBinary(t *testing.T) string {
	t.Helper()

	binaryPath := filepath.Join(t.TempDir(), "mp-e2e")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/mp")
	cmd.Dir = repoRoot(t)

	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "build mp binary: %s", string(output))
	return binaryPath
}

func runMP(t *testing.T, binaryPath, home string, args ...string) (string, string, error) {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(os.Environ(),
		"HOME="+home,
		"MAILPILOT_USER=u-1",
		"MAILPILOT_PLAN=free",
		"MAILPILOT_SECRETS_BACKEND=file",
		"OPENAI_API_KEY=",
		"ANTHROPIC_API_KEY=",
		"GOOGLE_API_KEY=",
		"GEMINI_API_KEY=",
		"MISTRAL_API_KEY=",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func repoRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}
