package interfaces

import (
	"context"

	"github.com/ternarybob/steamanim/internal/models"
)

// AccountClient is the session protocol the login controller consumes.
// LogOn and WebLogOn return once the request is under way; progress is
// reported through Events.
type AccountClient interface {
	LogOn(ctx context.Context, details models.LogOnDetails) error
	WebLogOn(ctx context.Context) error
	Events() <-chan models.AccountEvent
}
