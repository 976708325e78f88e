package gateways

import "context"

// ComputeInstance is the subset of a provisioned VM's identity the
// lifecycle manager persists onto GatewayCompute.
type ComputeInstance struct {
	InstanceID string
	IPAddress  string
	Region     string
}

// ComputeBackend provisions and tears down the VM a gateway runs on. Each
// cloud backend in spec.md §3 (aws, gcp, azure, kubernetes, ...) implements
// this against its own SDK; callers select an implementation by
// database.BackendType.
type ComputeBackend interface {
	// CreateInstance provisions a VM in region, authorized with the given
	// SSH public key, and returns once it is reachable.
	CreateInstance(ctx context.Context, region string, sshPublicKey string) (ComputeInstance, error)

	// TerminateInstance tears down a previously created instance. It must
	// be idempotent: terminating an already-gone instance is not an error.
	TerminateInstance(ctx context.Context, instanceID string) error
}

// StubBackend is a deterministic in-memory ComputeBackend used by tests
// and by the DSTACK managed-default backend's local-dev mode, where no
// real cloud account is configured.
type StubBackend struct {
	NextInstanceID func() string
	NextIPAddress  func() string
}

func (b *StubBackend) CreateInstance(ctx context.Context, region, sshPublicKey string) (ComputeInstance, error) {
	id := "stub-instance"
	if b.NextInstanceID != nil {
		id = b.NextInstanceID()
	}
	ip := "127.0.0.1"
	if b.NextIPAddress != nil {
		ip = b.NextIPAddress()
	}
	return ComputeInstance{InstanceID: id, IPAddress: ip, Region: region}, nil
}

func (b *StubBackend) TerminateInstance(ctx context.Context, instanceID string) error {
	return nil
}
