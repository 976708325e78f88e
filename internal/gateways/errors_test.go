package gateways

import (
	"errors"
	"fmt"
	"testing"
)

func TestGatewayErrorUnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewGatewayError("failed to reach gateway", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}

	var ge *GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected errors.As to match *GatewayError")
	}
}

func TestSSHErrorUnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("handshake failed")
	err := &SSHError{Host: "10.0.0.1", Cause: cause}

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
}

func TestServerClientErrorFormatsMessage(t *testing.T) {
	err := NewServerClientError("gateway %s not found", "prod")
	if err.Error() != "gateway prod not found" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestNoCapacityErrorFormatsMessage(t *testing.T) {
	err := &NoCapacityError{Backend: "aws"}
	if err.Error() == "" {
		t.Fatalf("expected a non-empty message")
	}
}
