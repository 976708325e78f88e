package gateways

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// rsaKeyBits is fixed at 2048 per spec.md §4.F; the teacher's own key-gen
// helper (vps_bastion_keys.go) uses Ed25519, but the spec calls for RSA
// explicitly so this swaps the algorithm while keeping the same
// PEM/authorized-keys encoding shape.
const rsaKeyBits = 2048

// GeneratedKeyPair is an RSA key pair encoded for both local storage
// (PEM) and gateway authorization (OpenSSH authorized_keys line).
type GeneratedKeyPair struct {
	PrivateKeyPEM string
	PublicKeyAuth string
	Fingerprint   string
}

// generateGatewayKeyPair creates a fresh RSA key pair for a GatewayCompute,
// mirroring GenerateVPSBastionKeyPair's encoding steps.
func generateGatewayKeyPair() (GeneratedKeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return GeneratedKeyPair{}, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return GeneratedKeyPair{}, fmt.Errorf("failed to marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	sshPub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return GeneratedKeyPair{}, fmt.Errorf("failed to derive SSH public key: %w", err)
	}

	return GeneratedKeyPair{
		PrivateKeyPEM: string(privPEM),
		PublicKeyAuth: string(ssh.MarshalAuthorizedKey(sshPub)),
		Fingerprint:   ssh.FingerprintSHA256(sshPub),
	}, nil
}
