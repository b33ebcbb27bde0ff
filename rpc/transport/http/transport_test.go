package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ValentinKolb/dGrid/rpc/common"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := &httpServerTransport{config: common.ServerConfig{LogLevel: "debug"}}
	st.RegisterHandler(func(shardId uint64, req []byte) []byte {
		return append([]byte{byte(shardId)}, req...)
	})
	srv := httptest.NewServer(st.mux())
	t.Cleanup(srv.Close)
	return srv
}

// TestSendRoundTrip tests that requests reach the handler of the addressed shard
func TestSendRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	ct := NewHttpClientTransport()
	if err := ct.Connect(common.ClientConfig{Endpoints: []string{srv.URL, srv.URL}, TimeoutSecond: 5, RetryCount: 2}); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer ct.Close()

	for _, shard := range []uint64{1, 42} {
		resp, err := ct.Send(shard, []byte("ping"))
		if err != nil {
			t.Fatalf("Send() error: %v", err)
		}
		if resp[0] != byte(shard) || string(resp[1:]) != "ping" {
			t.Errorf("Send(%d) = %q", shard, resp)
		}
	}
}

// TestSendErrors tests invalid shard ids and unconnected transports
func TestSendErrors(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/not-a-number", "application/octet-stream", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Post() error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	if _, err := NewHttpClientTransport().Send(1, nil); err == nil {
		t.Errorf("Send() on an unconnected transport should fail")
	}
	if err := NewHttpClientTransport().Connect(common.ClientConfig{}); err == nil {
		t.Errorf("Connect() without endpoints should fail")
	}
}

// TestMetricsEndpoint tests that the request counter is exported
func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	ct := NewHttpClientTransport()
	if err := ct.Connect(common.ClientConfig{Endpoints: []string{srv.URL}, TimeoutSecond: 5, RetryCount: 1}); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer ct.Close()
	if _, err := ct.Send(9, []byte("x")); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `dgrid_rpc_requests_total{shard="9"}`) {
		t.Errorf("metrics output is missing the request counter:\n%s", body)
	}
}
