package pipeline

import (
	"errors"

	"github.com/sells-group/truth-cli/internal/model"
	"github.com/sells-group/truth-cli/internal/upsert"
)

const noEmailReason = "no valid email address; record not stored"

// Reasons reported for records a stopped batch never attempted.
const (
	reasonDeadline = "batch deadline exceeded"
	reasonCanceled = "batch canceled"
)

// aggregate folds per-item outcomes into the batch result in input order.
// Enrichment and schema problems are reported as failures but the record is
// still counted by its write outcome. stop, when set, is the reason applied
// to items that were never attempted. Only the deadline marks the batch
// TimedOut; a canceled caller does not.
func aggregate(b *batch, items []item, outcomes []outcome, stop string) {
	res := b.res
	res.Processed = len(items)
	res.TimedOut = stop == reasonDeadline

	for i, it := range items {
		key := it.rec.Key()
		for _, e := range it.errs {
			res.AddFailure(key, e.Kind, e.Error())
		}

		o := outcomes[i]
		switch {
		case it.rec.Email == "":
			it.rec.SkippedNoEmail = true
			res.SkippedNoEmail++
			res.AddFailure(key, model.ErrValidation, noEmailReason)
			if b.scrape {
				res.Skipped = append(res.Skipped, model.SummaryOf(it.rec))
			}
			continue

		case !o.attempted:
			reason := stop
			if reason == "" {
				reason = "upsert not attempted"
			}
			res.Failed++
			res.AddFailure(key, model.ErrStorage, reason)
			continue
		}

		for _, w := range o.warnings {
			res.AddFailure(key, model.ErrSchema, w.String())
		}

		if o.err != nil {
			res.Failed++
			kind := model.ErrStorage
			if errors.Is(o.err, upsert.ErrNoEmail) {
				kind = model.ErrValidation
			}
			res.AddFailure(key, kind, o.err.Error())
			continue
		}

		if o.outcome == upsert.Inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
		if b.scrape {
			res.Saved = append(res.Saved, model.SummaryOf(it.rec))
		}
	}
}
