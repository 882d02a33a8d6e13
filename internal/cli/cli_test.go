package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
	"github.com/gregLibert/eid-middleware/pkg/eid"
)

const testConfig = `
driver: virtual
reader:
  poll_interval: 50ms
apdu:
  timeout: 5s
logging:
  level: error
`

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", path}, args...))

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestReaders(t *testing.T) {
	out, _, err := run(t, "readers")
	require.NoError(t, err)
	assert.Equal(t, "0: "+VirtualReader+"\n", out)
}

func TestStatus(t *testing.T) {
	out, _, err := run(t, "status")
	require.NoError(t, err)

	assert.Contains(t, out, "State: card present")
	assert.Contains(t, out, "Reader:  "+VirtualReader)
	assert.Contains(t, out, "Session: 1 ")
	assert.Contains(t, out, fmt.Sprintf("ATR:     %X", eid.DemoATR))
}

func TestRead_Identity(t *testing.T) {
	out, _, err := run(t, "read", "identity")
	require.NoError(t, err)

	assert.Contains(t, out, "Alice Geldigekaart A Specimen")
	assert.Contains(t, out, "85073003328")
}

func TestRead_AddressByPath(t *testing.T) {
	out, _, err := run(t, "read", "3F00DF014033")
	require.NoError(t, err)
	assert.Contains(t, out, "Meirplaats 1 bus 1, 2000 Antwerpen")
}

func TestRead_ToFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "photo.jpg")

	out, _, err := run(t, "read", "photo", "--out", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 3064 bytes")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, eid.DemoPhoto, data)
}

func TestRead_UnknownFile(t *testing.T) {
	_, _, err := run(t, "read", "passport")
	assert.Error(t, err)

	_, _, err = run(t, "read", "DF014099")
	assert.True(t, carderr.KindOf(err) == carderr.ObjectNotFound, "got %v", err)
}

func TestDump(t *testing.T) {
	out, _, err := run(t, "dump")
	require.NoError(t, err)

	assert.Contains(t, out, "Session 1")
	assert.Contains(t, out, "Photo: 3064 bytes")
	assert.Contains(t, out, "Certificate root:")
}

func TestStat(t *testing.T) {
	out, _, err := run(t, "stat", "photo")
	require.NoError(t, err)

	assert.Contains(t, out, "Size: 3064 bytes")
	assert.Contains(t, out, "FID:  4035")
}

func TestChallenge(t *testing.T) {
	out, _, err := run(t, "challenge", "--length", "21")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{42}\n$`), out)
}

func TestPIN(t *testing.T) {
	out, _, err := run(t, "pin-status")
	require.NoError(t, err)
	assert.Equal(t, "PIN not verified, 3 tries left.\n", out)

	_, stderr, err := run(t, "verify-pin", "0000")
	require.Error(t, err)
	assert.True(t, carderr.KindOf(err) == carderr.SecurityConditionNotSatisfied)
	assert.Contains(t, stderr, "PIN rejected, 2 tries left")

	out, _, err = run(t, "verify-pin", "1234")
	require.NoError(t, err)
	assert.Equal(t, "PIN verified.\n", out)

	out, _, err = run(t, "change-pin", "1234", "5678")
	require.NoError(t, err)
	assert.Equal(t, "PIN changed.\n", out)
}

func TestAPDU(t *testing.T) {
	out, _, err := run(t, "apdu", "00 84 00 00 08")
	require.NoError(t, err)

	assert.Contains(t, out, "[1] > 0084000008")
	assert.Contains(t, out, "Status: 9000")
}

func TestAPDU_SelectReport(t *testing.T) {
	out, _, err := run(t, "apdu", "00A4080404DF014035")
	require.NoError(t, err)
	assert.Contains(t, out, "=== SELECT COMMAND REPORT ===")
	assert.Contains(t, out, "File Size: 3064 bytes")
}

func TestAPDU_InvalidHex(t *testing.T) {
	_, _, err := run(t, "apdu", "00 8G")
	assert.Error(t, err)
}

func TestExplore(t *testing.T) {
	out, _, err := run(t, "explore", "--chunk", "64")
	require.NoError(t, err)

	assert.Contains(t, out, "=== SELECT COMMAND REPORT ===")
	assert.Contains(t, out, "=== READ BINARY COMMAND REPORT ===")
	// The signature files are absent from the demo card.
	assert.Contains(t, out, "Exploration finished: 8/10 files readable")
}
