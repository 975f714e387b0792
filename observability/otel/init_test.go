package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,broken, =skip,tenant=dao ")
	require.Equal(t, map[string]string{"api-key": "abc", "tenant": "dao"}, headers)
	require.Empty(t, ParseHeaders(""))
	require.Equal(t, "Bearer a b", ParseHeaders("Authorization=Bearer%20a%20b")["Authorization"])
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestInitWithoutExporters(t *testing.T) {
	cfg := Config{ServiceName: "treasuryd", Environment: "test", Endpoint: "ftp://ignored"}
	require.False(t, cfg.Enabled())
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitRejectsBadEndpoint(t *testing.T) {
	_, err := Init(context.Background(), Config{ServiceName: "treasuryd", Traces: true, Endpoint: "ftp://collector"})
	require.ErrorContains(t, err, "unsupported scheme")
}

func TestCollector(t *testing.T) {
	cases := []struct {
		cfg      Config
		host     string
		path     string
		insecure bool
	}{
		{Config{}, "localhost:4318", "", false},
		{Config{Endpoint: "otel:4318", Insecure: true}, "otel:4318", "", true},
		{Config{Endpoint: "http://otel:4318/"}, "otel:4318", "", true},
		{Config{Endpoint: "https://collector.example/otlp"}, "collector.example", "/otlp", false},
	}
	for _, tc := range cases {
		host, path, insecure, err := tc.cfg.collector()
		require.NoError(t, err)
		require.Equal(t, tc.host, host)
		require.Equal(t, tc.path, path)
		require.Equal(t, tc.insecure, insecure)
	}
	_, _, _, err := Config{Endpoint: "https://"}.collector()
	require.Error(t, err)
}

func TestResourceCarriesTreasuryIdentity(t *testing.T) {
	res, err := Config{ServiceName: "treasuryd", Network: "testnet", Admin: "dao1admin"}.resource()
	require.NoError(t, err)
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	require.Equal(t, "treasuryd", got["service.name"])
	require.Equal(t, "testnet", got[string(NetworkKey)])
	require.Equal(t, "dao1admin", got[string(AdminKey)])
}

func TestSampler(t *testing.T) {
	require.Contains(t, Config{}.sampler().Description(), "AlwaysOnSampler")
	require.Contains(t, Config{SampleRatio: 0.25}.sampler().Description(), "TraceIDRatioBased")
}
