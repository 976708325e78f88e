package gatewayproto

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestSubmitGatewayConfigSendsExpectedPayload(t *testing.T) {
	var received GatewayConfig
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/config" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(srv.Client(), srv.URL)
	domain := "example.com"
	err := client.SubmitGatewayConfig(context.Background(), GatewayConfig{WildcardDomain: &domain, PublicIP: true})
	if err != nil {
		t.Fatalf("SubmitGatewayConfig failed: %v", err)
	}
	if received.WildcardDomain == nil || *received.WildcardDomain != domain {
		t.Fatalf("expected wildcard domain %q, got %v", domain, received.WildcardDomain)
	}
	if !received.PublicIP {
		t.Fatalf("expected public_ip to be true")
	}
}

func TestPostReturnsRequestErrorOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("gateway busy"))
	}))
	defer srv.Close()

	client := New(srv.Client(), srv.URL)
	err := client.UnregisterService(context.Background(), "proj-1", "run-1")
	if err == nil {
		t.Fatalf("expected an error for a 503 response")
	}
	if _, ok := err.(*RequestError); !ok {
		t.Fatalf("expected *RequestError, got %T: %v", err, err)
	}
}

func TestRegisterServiceRoundTrip(t *testing.T) {
	var received ServiceRegistration
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(srv.Client(), srv.URL)
	reg := ServiceRegistration{
		Project:       "proj-1",
		RunID:         "run-1",
		Domain:        "my-run.example.com",
		ServiceHTTPS:  true,
		GatewayHTTPS:  true,
		Auth:          false,
		SSHPrivateKey: "stub-key",
	}
	if err := client.RegisterService(context.Background(), reg); err != nil {
		t.Fatalf("RegisterService failed: %v", err)
	}
	if !reflect.DeepEqual(received, reg) {
		t.Fatalf("expected request body %+v, got %+v", reg, received)
	}
}
