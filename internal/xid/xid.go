package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a prefixed, time-ordered identifier such as "sale-0190c1...".
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}
