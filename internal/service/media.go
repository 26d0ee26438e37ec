package service

import (
	"bytes"
	"context"

	"socialsync/internal/models"
	"socialsync/internal/storage"
)

// Attachment is a local binary to upload before a post or message is written.
type Attachment struct {
	Name    string
	Content []byte
}

// upload stores every attachment and returns their references. Nothing is
// left behind when one of them fails.
func (s *Session) upload(ctx context.Context, attachments []Attachment) ([]string, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	if s.deps.Store == nil {
		return nil, models.NewValidationError("attachments are not supported")
	}
	refs := make([]string, 0, len(attachments))
	for _, a := range attachments {
		if len(a.Content) == 0 {
			s.discard(ctx, refs)
			return nil, models.NewValidationError("attachment is empty")
		}
		ref, err := s.deps.Store.Put(ctx, storage.ObjectPath(s.me, a.Name, a.Content), bytes.NewReader(a.Content))
		if err != nil {
			s.discard(ctx, refs)
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// discard removes uploads whose owning write failed.
func (s *Session) discard(ctx context.Context, refs []string) {
	if s.deps.Store == nil {
		return
	}
	for _, ref := range refs {
		if err := s.deps.Store.Delete(ctx, ref); err != nil {
			s.logger.LogWarn(ctx, "failed to discard upload", err, map[string]interface{}{"ref": ref})
		}
	}
}
