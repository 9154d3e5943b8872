// Package ids generates request correlation identifiers.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewRequestID returns a correlation id of the form "<epoch_ms>_<8 hex>".
// The millisecond prefix keeps ids roughly sortable; the random suffix keeps
// them unique across rapid successive requests.
func NewRequestID() string {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// timestamp-only suffix rather than panicking in a hot path.
		return fmt.Sprintf("%d_%08x", time.Now().UnixMilli(), time.Now().UnixNano()&0xffffffff)
	}
	return fmt.Sprintf("%d_%s", time.Now().UnixMilli(), hex.EncodeToString(suffix))
}
