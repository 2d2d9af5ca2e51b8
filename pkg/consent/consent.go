// Package consent defines the interactive user-consent collaborator and two
// simple implementations of it.
package consent

import (
	"context"
	"errors"

	"drivegate/pkg/types"
)

// ErrDismissed is returned when the user closes a prompt without answering.
var ErrDismissed = errors.New("consent: prompt dismissed")

// PromptRequest asks the user whether Origin may perform Action on a drive.
type PromptRequest struct {
	Origin      string
	Action      types.ActionKind
	Drive       types.DriveKey
	URL         string
	Title       string
	Description string
}

type ModalKind string

const (
	ModalCreateDrive ModalKind = "create-drive"
	ModalForkDrive   ModalKind = "fork-drive"
)

// ModalRequest opens a creation flow on behalf of Origin.
type ModalRequest struct {
	Origin string
	Kind   ModalKind
	Fields map[string]string
}

// ModalResult carries the URL of the drive the user created.
type ModalResult struct {
	URL string
}

// Consent is the UI the gateway asks when it needs a human decision.
// Implementations may block for as long as the user takes.
type Consent interface {
	RequestPermission(ctx context.Context, req PromptRequest) (bool, error)
	CreateModal(ctx context.Context, req ModalRequest) (ModalResult, error)
}

// CreateFunc performs the creation a modal asks the user to confirm.
type CreateFunc func(ctx context.Context, req ModalRequest) (ModalResult, error)
