package consent

import (
	"context"
	"sync"
)

// Static answers every prompt the same way and records what it was asked.
type Static struct {
	allow   bool
	dismiss bool
	create  CreateFunc

	mu      sync.Mutex
	prompts []PromptRequest
	modals  []ModalRequest
}

// NewStatic creates a consent that always allows or always rejects.
// create performs approved modal flows; nil dismisses every modal.
func NewStatic(allow bool, create CreateFunc) *Static {
	return &Static{allow: allow, create: create}
}

// NewDismissing creates a consent whose prompts are always dismissed.
func NewDismissing() *Static {
	return &Static{dismiss: true}
}

func (s *Static) RequestPermission(_ context.Context, req PromptRequest) (bool, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, req)
	s.mu.Unlock()

	if s.dismiss {
		return false, ErrDismissed
	}
	return s.allow, nil
}

func (s *Static) CreateModal(ctx context.Context, req ModalRequest) (ModalResult, error) {
	s.mu.Lock()
	s.modals = append(s.modals, req)
	s.mu.Unlock()

	if s.dismiss || !s.allow || s.create == nil {
		return ModalResult{}, ErrDismissed
	}
	return s.create(ctx, req)
}

// Prompts returns the permission requests seen so far.
func (s *Static) Prompts() []PromptRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PromptRequest(nil), s.prompts...)
}

// Modals returns the modal requests seen so far.
func (s *Static) Modals() []ModalRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ModalRequest(nil), s.modals...)
}
