package gateways

import (
	"context"
	"fmt"
	"math/rand/v2"
)

// No library in the retrieved example pack provides a memorable-name
// generator (confirmed by grep across _examples), so this is a small
// self-authored adjective+noun generator, the same shape as generate_gateway_name.
var nameAdjectives = []string{
	"amber", "brisk", "calm", "dim", "eager", "fleet", "gentle", "hollow",
	"icy", "jolly", "keen", "lively", "mellow", "nimble", "opal", "proud",
	"quiet", "rapid", "sturdy", "tidy", "upbeat", "vivid", "warm", "young",
}

var nameNouns = []string{
	"otter", "falcon", "ridge", "harbor", "comet", "willow", "badger",
	"delta", "ember", "fjord", "grove", "heron", "inlet", "juniper",
	"kestrel", "lagoon", "meadow", "nebula", "orbit", "plateau",
}

func randomGatewayName() string {
	adj := nameAdjectives[rand.IntN(len(nameAdjectives))]
	noun := nameNouns[rand.IntN(len(nameNouns))]
	suffix := rand.IntN(10000)
	return fmt.Sprintf("%s-%s-%04d", adj, noun, suffix)
}

// nameExists reports whether a name is already taken within projectID.
type nameExists func(ctx context.Context, projectID, name string) (bool, error)

// generateGatewayName produces a name unused within projectID, retrying on
// collision the way the original's generate_gateway_name does.
func generateGatewayName(ctx context.Context, projectID string, exists nameExists) (string, error) {
	const maxAttempts = 10
	for i := 0; i < maxAttempts; i++ {
		candidate := randomGatewayName()
		taken, err := exists(ctx, projectID, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("failed to generate a unique gateway name after %d attempts", maxAttempts)
}
