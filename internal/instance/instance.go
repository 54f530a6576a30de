// Package instance resolves the identity of this substrate node. The id is
// stamped onto tasks and receipts so multi-instance deployments can attribute
// rows to the node that wrote them.
package instance

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
)

// defaultPrefix marks a generated fallback id. Generated ids are fine for
// development but rejected elsewhere, since a restart would silently change
// the node's identity.
const defaultPrefix = "asyncgate-local-"

// Detect resolves the instance id. Order of preference: explicit
// configuration, ASYNCGATE_INSTANCE_ID, then the platform identity variables
// (FLY_ALLOC_ID, HOSTNAME as set by Kubernetes and ECS, K_REVISION on Cloud
// Run), then the OS hostname, then a generated fallback.
func Detect(configured string) string {
	if id := strings.TrimSpace(configured); id != "" {
		return id
	}
	for _, env := range []string{"ASYNCGATE_INSTANCE_ID", "FLY_ALLOC_ID", "HOSTNAME", "K_REVISION"} {
		if id := strings.TrimSpace(os.Getenv(env)); id != "" {
			return id
		}
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return fmt.Sprintf("%s%06d", defaultPrefix, rand.Intn(1_000_000))
}

// Validate rejects generated fallback ids outside development. Every other
// environment must carry a stable identity.
func Validate(id, environment string) error {
	if environment == "development" {
		return nil
	}
	if strings.HasPrefix(id, defaultPrefix) {
		return fmt.Errorf("instance id %q is a generated fallback; set instance_id or ASYNCGATE_INSTANCE_ID in %s", id, environment)
	}
	return nil
}
