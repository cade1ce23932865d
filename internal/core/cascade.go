package core

import (
	"context"

	"archivecore/internal/changeset"
	"archivecore/pkg/domain"

	"github.com/sethvargo/go-retry"
)

// Mutation stages changes for a re-read record and reports whether anything
// needs saving.
type Mutation func(cs *changeset.ChangeSet, current domain.Record) bool

// update re-reads id, applies mutate and saves the result through the
// persister so the record's own pipeline runs. Lock conflicts re-read and
// retry; a record that no longer resolves is skipped.
func (p *Persister) update(ctx context.Context, id domain.ID, mutate Mutation) (domain.Record, bool, error) {
	var (
		saved   domain.Record
		touched bool
	)
	b := retry.WithMaxRetries(p.opts.cascadeRetries, retry.NewFibonacci(p.opts.cascadeBackoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		touched = false
		current, err := p.adapter.FindByID(ctx, id)
		if err != nil {
			if domain.IsNotFound(err) {
				return nil
			}
			return err
		}
		cs := changeset.New(current, changeset.WithTypes(p.opts.types))
		if !mutate(cs, current) {
			saved = current
			return nil
		}
		rec, err := p.Save(ctx, cs)
		if err != nil {
			if domain.IsConflict(err) {
				p.opts.logger.Debug("cascade conflict, retrying", "record_id", id)
				return retry.RetryableError(err)
			}
			return err
		}
		saved, touched = rec, true
		return nil
	})
	return saved, touched, err
}

// Update applies mutate to the current version of id, retrying lock
// conflicts. When mutate stages nothing the current record is returned as is.
func (p *Persister) Update(ctx context.Context, id domain.ID, mutate Mutation) (domain.Record, error) {
	if _, err := p.adapter.FindByID(ctx, id); err != nil {
		return domain.Record{}, err
	}
	rec, _, err := p.update(ctx, id, mutate)
	return rec, err
}

// deleteRecord re-reads id and deletes it through the persister, retrying
// lock conflicts.
func (p *Persister) deleteRecord(ctx context.Context, id domain.ID) error {
	b := retry.WithMaxRetries(p.opts.cascadeRetries, retry.NewFibonacci(p.opts.cascadeBackoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		current, err := p.adapter.FindByID(ctx, id)
		if err != nil {
			if domain.IsNotFound(err) {
				return nil
			}
			return err
		}
		err = p.Delete(ctx, changeset.New(current, changeset.WithTypes(p.opts.types)))
		switch {
		case err == nil, domain.IsNotFound(err):
			return nil
		case domain.IsConflict(err):
			return retry.RetryableError(err)
		}
		return err
	})
}

// ignoreMissing treats a dangling referent as success.
func ignoreMissing(err error) error {
	if domain.IsNotFound(err) {
		return nil
	}
	return err
}

func without(ids []domain.ID, drop domain.ID) []domain.ID {
	out := make([]domain.ID, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
