// Package ids generates the default client identifiers used by subscribers
// and trimmers when the caller does not supply its own.
package ids

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Subscriber returns the default client ID for a subscriber instance:
// rivulex:<group>:sub:<unix-ms>-<uuid8>.
func Subscriber(group string) string {
	return build("sub", group)
}

// Trimmer returns the default client ID for a trimmer instance:
// rivulex:<group>:trimmer:<unix-ms>-<uuid8>.
func Trimmer(group string) string {
	return build("trimmer", group)
}

func build(role, group string) string {
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("rivulex:%s:%s:%d-%s", group, role, time.Now().UnixMilli(), suffix)
}
