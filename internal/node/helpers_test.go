// ABOUTME: Test helpers shared by node tests
// ABOUTME: Mints relay tokens for authenticated relay scenarios

package node

import (
	"time"

	"github.com/2389/redub/internal/transport/relay"
)

func relayToken(secret string) (string, error) {
	return relay.NewJWTVerifier([]byte(secret)).Generate("node-test", time.Hour)
}
