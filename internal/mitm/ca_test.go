package mitm

import (
	"encoding/pem"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreate_GeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()

	ca1, err := LoadOrCreate(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "vcrproxy-ca-cert.pem"))
	assert.FileExists(t, filepath.Join(dir, "vcrproxy-ca-key.pem"))

	ca2, err := LoadOrCreate(dir)
	require.NoError(t, err)
	assert.Equal(t, ca1.cert.Raw, ca2.cert.Raw, "reloading must reuse the persisted root, not generate a new one")
}

func TestCertPEMAndKeyPEM_ValidForGoproxySetCA(t *testing.T) {
	ca, err := LoadOrCreate(t.TempDir())
	require.NoError(t, err)

	certBlock, _ := pem.Decode(ca.CertPEM())
	require.NotNil(t, certBlock)
	assert.Equal(t, "CERTIFICATE", certBlock.Type)

	keyBlock, _ := pem.Decode(ca.KeyPEM())
	require.NotNil(t, keyBlock)
	assert.Equal(t, "RSA PRIVATE KEY", keyBlock.Type)
}

func TestLoadOrCreate_PersistedPEMSurvivesReload(t *testing.T) {
	dir := t.TempDir()

	ca1, err := LoadOrCreate(dir)
	require.NoError(t, err)
	ca2, err := LoadOrCreate(dir)
	require.NoError(t, err)

	assert.Equal(t, ca1.CertPEM(), ca2.CertPEM())
	assert.Equal(t, ca1.KeyPEM(), ca2.KeyPEM())
}
