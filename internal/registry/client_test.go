package registry

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	certerrors "certgen/internal/errors"
	"certgen/internal/models"
)

var testQuery = Query{
	GeoCoordinatesResponseFormat: "Google",
	CountryCodes:                 []string{"FRA"},
	ProviderID:                   "DE*ICE",
}

const twoOperators = `{
  "EvseData": {
    "OperatorEvseData": [
      {"OperatorID": "FR*ICE", "EvseDataRecord": [{"EvseID": "FR*ICE*E1", "ChargingStationNames": []}, {"EvseID": "FR*ICE*E2"}]},
      {"OperatorID": "FR*ABC", "EvseDataRecord": [{"EvseID": "FR*ABC*E9"}]}
    ]
  }
}`

func TestFetchKnownChargePoints_Flattens(t *testing.T) {
	var got Query
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, twoOperators)
	}))
	defer srv.Close()

	c := NewWithHTTPClient(srv.URL, srv.Client(), zerolog.Nop())
	entries, err := c.FetchKnownChargePoints(context.Background(), testQuery)

	require.NoError(t, err)
	assert.Equal(t, testQuery, got)
	assert.Equal(t, []models.RegistryEntry{
		{EvseID: "FR*ICE*E1"},
		{EvseID: "FR*ICE*E2"},
		{EvseID: "FR*ABC*E9"},
	}, entries)
}

func TestFetchKnownChargePoints_EmptyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	entries, err := NewWithHTTPClient(srv.URL, srv.Client(), zerolog.Nop()).
		FetchKnownChargePoints(context.Background(), testQuery)

	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchKnownChargePoints_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "certificate not allowed", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewWithHTTPClient(srv.URL, srv.Client(), zerolog.Nop()).
		FetchKnownChargePoints(context.Background(), testQuery)

	require.Error(t, err)
	assert.True(t, certerrors.IsRegistryError(err))
	var regErr *certerrors.RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, http.StatusForbidden, regErr.StatusCode)
	assert.Contains(t, regErr.Body, "certificate not allowed")
}

func TestFetchKnownChargePoints_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"EvseData":`)
	}))
	defer srv.Close()

	_, err := NewWithHTTPClient(srv.URL, srv.Client(), zerolog.Nop()).
		FetchKnownChargePoints(context.Background(), testQuery)

	require.Error(t, err)
	var regErr *certerrors.RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Zero(t, regErr.StatusCode)
}

func TestNew_MissingCertificate(t *testing.T) {
	dir := t.TempDir()
	_, err := New(Options{
		Endpoint: "https://example.invalid",
		CertFile: filepath.Join(dir, "client.crt"),
		KeyFile:  filepath.Join(dir, "client.key"),
	}, zerolog.Nop())

	assert.True(t, certerrors.IsConfigurationError(err))
}

func TestNew_PresentsClientCertificate(t *testing.T) {
	certFile, keyFile := writeKeyPair(t)

	var peerCerts int
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peerCerts = len(r.TLS.PeerCertificates)
		_, _ = io.WriteString(w, twoOperators)
	}))
	srv.TLS = &tls.Config{ClientAuth: tls.RequireAnyClientCert}
	srv.StartTLS()
	defer srv.Close()

	c, err := New(Options{
		Endpoint:           srv.URL,
		CertFile:           certFile,
		KeyFile:            keyFile,
		InsecureSkipVerify: true,
		Timeout:            10 * time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)

	entries, err := c.FetchKnownChargePoints(context.Background(), testQuery)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, 1, peerCerts)
}

func writeKeyPair(t *testing.T) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "DE*ICE"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "client.crt")
	keyFile := filepath.Join(dir, "client.key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}
