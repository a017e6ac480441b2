package attribution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"recruitd.org/internal/audit"
	"recruitd.org/internal/domain"
	"recruitd.org/internal/ids"
	"recruitd.org/internal/store"
)

const maxNoteLen = 5000

// canAccess: admins see everything; otherwise the viewer must own the
// submission or command the owner's station.
func canAccess(ctx context.Context, tx store.Tx, viewer domain.User, sub domain.Submission) error {
	if viewer.IsAdmin() {
		return nil
	}
	if sub.OwnerID == "" {
		return domain.ErrUnauthorized
	}
	if sub.OwnerID == viewer.ID {
		return nil
	}
	owner, err := tx.User(ctx, sub.OwnerID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if !viewer.Supervises(owner) {
		return domain.ErrUnauthorized
	}
	return nil
}

func (r *Resolver) load(ctx context.Context, tx store.Tx, viewer domain.User, id string) (domain.Submission, error) {
	sub, err := tx.Submission(ctx, id)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := canAccess(ctx, tx, viewer, sub); err != nil {
		return domain.Submission{}, err
	}
	return sub, nil
}

func (r *Resolver) Get(ctx context.Context, viewer domain.User, id string) (domain.Submission, error) {
	var sub domain.Submission
	err := r.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		sub, err = r.load(ctx, tx, viewer, id)
		return err
	})
	return sub, err
}

// List returns the submissions visible to viewer, newest first.
func (r *Resolver) List(ctx context.Context, viewer domain.User, limit int) ([]domain.Submission, error) {
	var out []domain.Submission
	err := r.store.Atomically(ctx, func(tx store.Tx) error {
		scope, err := store.ResolveScope(ctx, tx, viewer)
		if err != nil {
			return err
		}
		out, err = tx.ListSubmissions(ctx, scope, limit)
		return err
	})
	return out, err
}

// UpdateStatus moves a submission along the lead pipeline.
func (r *Resolver) UpdateStatus(ctx context.Context, viewer domain.User, id string, to domain.Status) (domain.Submission, error) {
	var (
		sub  domain.Submission
		from domain.Status
	)
	err := r.store.Atomically(ctx, func(tx store.Tx) error {
		var err error
		if sub, err = r.load(ctx, tx, viewer, id); err != nil {
			return err
		}
		if err := domain.ValidateTransition(sub.Status, to); err != nil {
			return err
		}
		if sub.Status == to {
			return nil
		}
		if err := tx.SetSubmissionStatus(ctx, id, to); err != nil {
			return err
		}
		from, sub.Status = sub.Status, to
		return nil
	})
	if err != nil {
		return domain.Submission{}, err
	}
	if from != "" {
		_ = audit.LogEvent(ctx, "submission.status", map[string]any{
			"submission_id": id,
			"from":          string(from),
			"to":            string(to),
		})
	}
	return sub, nil
}

// AppendNote adds a note to the submission's log. Notes are never edited.
func (r *Resolver) AppendNote(ctx context.Context, viewer domain.User, id, text string) (domain.Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Note{}, fmt.Errorf("%w: note is empty", domain.ErrInvalidInput)
	}
	if len(text) > maxNoteLen {
		return domain.Note{}, fmt.Errorf("%w: note too long", domain.ErrInvalidInput)
	}
	var note domain.Note
	err := r.store.Atomically(ctx, func(tx store.Tx) error {
		if _, err := r.load(ctx, tx, viewer, id); err != nil {
			return err
		}
		note = domain.Note{
			ID:           ids.New(),
			SubmissionID: id,
			AuthorID:     viewer.ID,
			AuthorName:   viewer.FullName,
			Text:         text,
			CreatedAt:    r.now().UTC(),
		}
		return tx.AppendNote(ctx, note)
	})
	return note, err
}

// Notes returns the note log newest first, including notes recovered from
// the legacy text column.
func (r *Resolver) Notes(ctx context.Context, viewer domain.User, id string) ([]domain.Note, error) {
	var out []domain.Note
	err := r.store.Atomically(ctx, func(tx store.Tx) error {
		sub, err := r.load(ctx, tx, viewer, id)
		if err != nil {
			return err
		}
		notes, err := tx.ListNotes(ctx, id)
		if err != nil {
			return err
		}
		out = append(notes, DecodeLegacyNotes(sub.LegacyNotes, sub.ID, sub.OwnerID, sub.CreatedAt)...)
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

// PutSORB replaces the screening profile of a submission.
func (r *Resolver) PutSORB(ctx context.Context, viewer domain.User, id string, p domain.SORBProfile) (domain.SORBProfile, error) {
	for _, v := range []*int{p.GT, p.Pushups, p.Situps, p.PTScore, p.ReadinessScore} {
		if v != nil && *v < 0 {
			return domain.SORBProfile{}, fmt.Errorf("%w: scores must not be negative", domain.ErrInvalidInput)
		}
	}
	err := r.store.Atomically(ctx, func(tx store.Tx) error {
		if _, err := r.load(ctx, tx, viewer, id); err != nil {
			return err
		}
		p.SubmissionID = id
		p.UpdatedAt = r.now().UTC()
		return tx.PutSORB(ctx, p)
	})
	if err != nil {
		return domain.SORBProfile{}, err
	}
	return p, nil
}

// SORB returns the stored profile, falling back to fields parsed from the
// legacy notes blob.
func (r *Resolver) SORB(ctx context.Context, viewer domain.User, id string) (domain.SORBProfile, error) {
	var p domain.SORBProfile
	err := r.store.Atomically(ctx, func(tx store.Tx) error {
		sub, err := r.load(ctx, tx, viewer, id)
		if err != nil {
			return err
		}
		p, err = tx.SORB(ctx, id)
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		legacy, ok := ParseLegacySORB(sub.LegacyNotes)
		if !ok {
			return domain.ErrNotFound
		}
		legacy.SubmissionID = id
		legacy.UpdatedAt = sub.CreatedAt
		p = legacy
		return nil
	})
	return p, err
}
