package selfsign

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	ident, err := New("edge-camera", "10.0.0.9")
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(ident.DER)
	require.NoError(t, err)

	assert.Equal(t, "edge-camera", cert.Subject.CommonName)
	assert.True(t, cert.IsCA)
	assert.Contains(t, cert.DNSNames, "localhost")

	var ips []string
	for _, ip := range cert.IPAddresses {
		ips = append(ips, ip.String())
	}
	assert.Contains(t, ips, "127.0.0.1")
	assert.Contains(t, ips, "10.0.0.9")

	assert.True(t, cert.NotBefore.Before(time.Now()))
	assert.True(t, cert.NotAfter.After(time.Now().Add(300*24*time.Hour)))

	// The keypair must be usable as a TLS serving certificate.
	require.Len(t, ident.TLSCert.Certificate, 1)
	assert.NotNil(t, ident.TLSCert.PrivateKey)
}

func TestNew_IgnoresUnparseableIPs(t *testing.T) {
	ident, err := New("edge-camera", "not-an-ip")
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(ident.DER)
	require.NoError(t, err)
	// Only the loopback addresses remain.
	assert.Len(t, cert.IPAddresses, 2)
}
