package requestid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a request id suitable for the X-Request-Id header.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
