// Package idgen generates the prefixed IDs used by every repository.
package idgen

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prefix identifies the kind of entity an ID belongs to.
type Prefix string

const (
	Project    Prefix = "proj"
	Task       Prefix = "task"
	Session    Prefix = "sess"
	TeamMember Prefix = "tm"
	Message    Prefix = "msg"
	QueueItem  Prefix = "qi"
	Event      Prefix = "evt"
)

// New returns an ID of the form {prefix}_{unix-millis}_{random-lowercase-alnum}.
func New(prefix Prefix) string {
	millis := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return string(prefix) + "_" + millis + "_" + randomSuffix()
}

// randomSuffix derives a lowercase alphanumeric tail from a UUID instead of
// reaching for math/rand: google/uuid is already wired for its CSPRNG source.
func randomSuffix() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return strings.ToLower(raw[:12])
}
