package interfaces

import (
	"context"

	"github.com/ternarybob/steamanim/internal/models"
)

// DocumentFetcher retrieves a page with the session's cookies.
type DocumentFetcher interface {
	Fetch(ctx context.Context, session *models.SessionHandle, path string) ([]byte, error)
}

// FormSubmitter submits the edited profile form.
type FormSubmitter interface {
	SubmitForm(ctx context.Context, session *models.SessionHandle, fields models.FieldSnapshot) error
}

// PageRenderer loads a page in a browser and returns the DOM after scripts
// have run.
type PageRenderer interface {
	Render(ctx context.Context, session *models.SessionHandle, path string) ([]byte, error)
}

// Prompter reads a single line from a human.
type Prompter interface {
	Prompt(ctx context.Context, message string) (string, error)
}

// QRPresenter shows a login QR code to a human. Prompters that can draw one
// implement it; otherwise the URL is only logged.
type QRPresenter interface {
	ShowQR(ctx context.Context, url string) error
}
