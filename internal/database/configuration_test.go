package database

import "testing"

func TestGatewayConfigurationRoundTrip(t *testing.T) {
	domain := "example.com"
	cfg := GatewayConfiguration{
		Name:     "prod",
		Default:  true,
		Backend:  BackendAWS,
		Region:   "us-east-1",
		Domain:   &domain,
		PublicIP: true,
	}

	raw, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	got, err := UnmarshalGatewayConfiguration(raw)
	if err != nil {
		t.Fatalf("UnmarshalGatewayConfiguration failed: %v", err)
	}
	if got.Name != cfg.Name || got.Backend != cfg.Backend || got.Region != cfg.Region || got.PublicIP != cfg.PublicIP {
		t.Fatalf("round-tripped configuration mismatch: got %+v, want %+v", got, cfg)
	}
	if got.Domain == nil || *got.Domain != domain {
		t.Fatalf("expected domain %q, got %v", domain, got.Domain)
	}
}

func TestUnmarshalGatewayConfigurationEmptyStringIsZeroValue(t *testing.T) {
	got, err := UnmarshalGatewayConfiguration("")
	if err != nil {
		t.Fatalf("UnmarshalGatewayConfiguration failed: %v", err)
	}
	if got.Name != "" || got.PublicIP {
		t.Fatalf("expected a zero-value configuration, got %+v", got)
	}
}

func TestServiceSpecRoundTrip(t *testing.T) {
	spec := ServiceSpec{
		URL: "https://my-run.example.com",
		Model: &ServiceModelSpec{
			Name:    "llama-3",
			BaseURL: "https://my-run.example.com/v1",
			Type:    "chat",
		},
		Options: map[string]any{"max_tokens": float64(4096)},
	}

	raw, err := spec.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	got, err := UnmarshalServiceSpec(raw)
	if err != nil {
		t.Fatalf("UnmarshalServiceSpec failed: %v", err)
	}
	if got.URL != spec.URL || got.Model == nil || got.Model.Name != spec.Model.Name {
		t.Fatalf("round-tripped service spec mismatch: got %+v", got)
	}
}

func TestSupportsPrivateGateway(t *testing.T) {
	cases := map[BackendType]bool{
		BackendKubernetes: true,
		BackendVastAI:     true,
		BackendDataCrunch: true,
		BackendAWS:        false,
		BackendDstack:     false,
	}
	for backend, want := range cases {
		if got := SupportsPrivateGateway(backend); got != want {
			t.Errorf("SupportsPrivateGateway(%s) = %v, want %v", backend, got, want)
		}
	}
}
