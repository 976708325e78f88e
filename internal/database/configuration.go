package database

import "encoding/json"

// GatewayConfiguration is the value object serialized into Gateway.Configuration
// (spec.md §3). public_ip=false is only legal for backends in
// BackendsWithPrivateGatewaySupport; that invariant is enforced by the
// lifecycle manager, not here.
type GatewayConfiguration struct {
	Name      string      `json:"name"`
	Default   bool        `json:"default"`
	Backend   BackendType `json:"backend_type"`
	Region    string      `json:"region"`
	Domain    *string     `json:"domain,omitempty"`
	PublicIP  bool        `json:"public_ip"`
}

func (c GatewayConfiguration) Marshal() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func UnmarshalGatewayConfiguration(raw string) (GatewayConfiguration, error) {
	var c GatewayConfiguration
	if raw == "" {
		return c, nil
	}
	err := json.Unmarshal([]byte(raw), &c)
	return c, err
}

// ServiceModelSpec describes the model exposed by a service, if any.
type ServiceModelSpec struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	Type    string `json:"type"`
}

// ServiceSpec is the value object persisted into Run.ServiceSpec
// (spec.md §3).
type ServiceSpec struct {
	URL     string            `json:"url"`
	Model   *ServiceModelSpec `json:"model,omitempty"`
	Options map[string]any    `json:"options,omitempty"`
}

func (s ServiceSpec) Marshal() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func UnmarshalServiceSpec(raw string) (ServiceSpec, error) {
	var s ServiceSpec
	if raw == "" {
		return s, nil
	}
	err := json.Unmarshal([]byte(raw), &s)
	return s, err
}

// RunConfiguration is the subset of a run's persisted spec the gateway
// core needs: whether the service requests HTTPS, and its optional model.
type RunConfiguration struct {
	HTTPS bool              `json:"https"`
	Model *RunModelSpec     `json:"model,omitempty"`
	Auth  bool              `json:"auth"`
	Options map[string]any  `json:"options,omitempty"`
}

type RunModelSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// RunSpec wraps the configuration the Service Registrar parses out of
// Run.RunSpec.
type RunSpec struct {
	Configuration RunConfiguration `json:"configuration"`
}

func UnmarshalRunSpec(raw string) (RunSpec, error) {
	var s RunSpec
	if raw == "" {
		return s, nil
	}
	err := json.Unmarshal([]byte(raw), &s)
	return s, err
}
