package xid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns a prefixed identifier such as "txn-0190f3c2-...". The UUID is
// version 7, so ids from one process sort by creation time.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return prefix + "-" + id.String()
}
