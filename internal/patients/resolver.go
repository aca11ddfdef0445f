package patients

import (
	"context"
	"errors"
	"fmt"

	"github.com/guzmanclinic/anabot/internal/events"
	"github.com/guzmanclinic/anabot/pkg/logging"
)

// Resolver maps a (channel, user key) pair onto a patient record, creating a
// provisional shell on first contact. It never fails a turn for an unknown
// user. Callers invoke it inside the per-key critical section, so Resolve and
// Claim for the same user key cannot interleave.
type Resolver struct {
	repo   *Repository
	logger *logging.Logger
}

func NewResolver(repo *Repository, logger *logging.Logger) *Resolver {
	if repo == nil {
		panic("patients: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{repo: repo, logger: logger}
}

// Resolve returns the patient for the channel user, creating a shell when the
// user is unknown.
func (r *Resolver) Resolve(ctx context.Context, ch events.Channel, userKey string) (*Patient, error) {
	p, err := r.repo.GetByChannelKey(ctx, ch, userKey)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("patients: resolve %s/%s: %w", ch, userKey, err)
	}

	p, err = r.repo.CreateShell(ctx, ch, userKey)
	if err != nil {
		return nil, fmt.Errorf("patients: create shell %s/%s: %w", ch, userKey, err)
	}
	r.logger.Info("provisional patient created", "channel", ch, "user_key", userKey, "patient_id", p.ID)
	return p, nil
}

// LookupDNI finds the patient holding a dni. Returns nil without error when
// nobody does.
func (r *Resolver) LookupDNI(ctx context.Context, dni string) (*Patient, error) {
	p, err := r.repo.GetByDNI(ctx, dni)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("patients: lookup dni: %w", err)
	}
	return p, nil
}

// Claim attaches a dni and profile to the channel user, merging the
// provisional shell into a canonical patient when one already holds that dni.
func (r *Resolver) Claim(ctx context.Context, ch events.Channel, userKey, dni string, profile Profile) (*Patient, error) {
	p, err := r.repo.Claim(ctx, ch, userKey, dni, profile)
	if err != nil {
		return nil, fmt.Errorf("patients: claim dni for %s/%s: %w", ch, userKey, err)
	}
	r.logger.Info("patient identified", "channel", ch, "user_key", userKey, "dni", dni, "patient_id", p.ID)
	return p, nil
}
