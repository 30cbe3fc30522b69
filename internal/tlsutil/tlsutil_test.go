package tlsutil

import (
	"crypto/tls"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/docintake/config"
)

func TestParseMinVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    uint16
		wantErr bool
	}{
		{"", tls.VersionTLS12, false},
		{"1.2", tls.VersionTLS12, false},
		{"1.3", tls.VersionTLS13, false},
		{"1.0", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMinVersion(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientConfig_FromConfig(t *testing.T) {
	tc, err := ClientConfig(config.TLSConfig{MinVersion: "1.3", ServerName: "llm.internal"})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), tc.MinVersion)
	assert.Equal(t, "llm.internal", tc.ServerName)
	assert.Nil(t, tc.RootCAs)
	assert.False(t, tc.InsecureSkipVerify)
	assert.NotEmpty(t, tc.CipherSuites)
}

func TestClientConfig_Errors(t *testing.T) {
	_, err := ClientConfig(config.TLSConfig{MinVersion: "1.1"})
	assert.Error(t, err)

	_, err = ClientConfig(config.TLSConfig{CAFile: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)

	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a cert"), 0o600))
	_, err = ClientConfig(config.TLSConfig{CAFile: garbage})
	assert.Error(t, err)
}

// writeServerCA 把 httptest 服务端的自签证书写成 PEM 文件
func writeServerCA(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ca.pem")
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(path, block, 0o600))
	return path
}

func TestHTTPClient_TrustsConfiguredCA(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	// 系统根证书不信任自签证书
	_, err := DefaultHTTPClient(5 * time.Second).Get(srv.URL)
	require.Error(t, err)

	hc, err := HTTPClient(config.TLSConfig{CAFile: writeServerCA(t, srv)}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, hc.Timeout)

	resp, err := hc.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestHTTPClient_RejectsBelowMinVersion(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.TLS = &tls.Config{MaxVersion: tls.VersionTLS12}
	srv.StartTLS()
	defer srv.Close()

	hc, err := HTTPClient(config.TLSConfig{MinVersion: "1.3", CAFile: writeServerCA(t, srv)}, 5*time.Second)
	require.NoError(t, err)

	_, err = hc.Get(srv.URL)
	assert.Error(t, err)
}
