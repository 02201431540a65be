package envfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func writeEnvFile(t *testing.T, dir, contents string) string {
	t.Helper()
	p := filepath.Join(dir, ".env")
	require := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	require(os.WriteFile(p, []byte(contents), 0o600))
	return p
}

func TestLoadOnlySetsKnownKeys(t *testing.T) {
	dir := t.TempDir()
	writeEnvFile(t, dir, "PRODUCT_ID=BTC-USD\nSECRET_PEM=ignore-me\n# a comment\nexport PORT=9090\n")

	os.Unsetenv("PRODUCT_ID")
	os.Unsetenv("SECRET_PEM")
	os.Unsetenv("PORT")

	Load([]string{"PRODUCT_ID", "PORT"}, filepath.Join(dir, ".env"))

	assert.Equal(t, "BTC-USD", os.Getenv("PRODUCT_ID"))
	assert.Equal(t, "9090", os.Getenv("PORT"))
	assert.Empty(t, os.Getenv("SECRET_PEM"))
}

func TestLoadNeverOverridesExistingEnv(t *testing.T) {
	dir := t.TempDir()
	writeEnvFile(t, dir, "PRODUCT_ID=BTC-USD\n")

	os.Setenv("PRODUCT_ID", "ETH-USD")
	defer os.Unsetenv("PRODUCT_ID")

	Load([]string{"PRODUCT_ID"}, filepath.Join(dir, ".env"))

	assert.Equal(t, "ETH-USD", os.Getenv("PRODUCT_ID"))
}

func TestLoadHandlesQuotesAndInlineComments(t *testing.T) {
	dir := t.TempDir()
	writeEnvFile(t, dir, `BRIDGE_URL="http://127.0.0.1:8787" # local sidecar`+"\n")
	os.Unsetenv("BRIDGE_URL")

	Load([]string{"BRIDGE_URL"}, filepath.Join(dir, ".env"))

	assert.Equal(t, "http://127.0.0.1:8787", os.Getenv("BRIDGE_URL"))
}

func TestLoadSkipsMissingFile(t *testing.T) {
	assert.NotPanics(t, func() {
		Load([]string{"PRODUCT_ID"}, filepath.Join(t.TempDir(), "nope.env"))
	})
}
