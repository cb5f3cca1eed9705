package relaysync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
	"github.com/sandeepkv93/clinic-survey-relay/internal/relay"
	"github.com/sandeepkv93/clinic-survey-relay/internal/repository"
	"github.com/sandeepkv93/clinic-survey-relay/internal/service"
)

type Outcome string

const (
	OutcomeIngested  Outcome = "ingested"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

const (
	TriggerDrain   = "drain"
	TriggerPush    = "push"
	TriggerResweep = "resweep"
)

// Ingestor moves relay records into the local store. It is safe to call with
// the same record any number of times.
type Ingestor struct {
	ownerID   string
	responses repository.ResponseRepository
	relay     relay.Store
	notifier  *service.ChangeNotifier
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewIngestor(ownerID string, responses repository.ResponseRepository, relayStore relay.Store, notifier *service.ChangeNotifier, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		ownerID:   ownerID,
		responses: responses,
		relay:     relayStore,
		notifier:  notifier,
		logger:    logger.With("component", "relay_ingest", "owner_id", ownerID),
		tracer:    observability.Tracer("relaysync"),
		now:       time.Now,
	}
}

// Ingest applies one relay record. A storage failure leaves the record in
// the relay for the next pass; a failed relay delete after a successful
// commit is only logged, since the next pass discards it as a duplicate.
func (i *Ingestor) Ingest(ctx context.Context, rec domain.RelayRecord, trigger string) (Outcome, error) {
	started := i.now()
	ctx, span := i.tracer.Start(ctx, "relaysync.ingest", trace.WithAttributes(
		attribute.String("relay.record_id", rec.ID),
		attribute.String("relay.trigger", trigger),
	))
	defer span.End()

	outcome, err := i.ingest(ctx, rec)
	span.SetAttributes(attribute.String("relay.outcome", string(outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest failed")
	}
	observability.RecordIngestion(ctx, trigger, string(outcome), i.now().Sub(started))
	return outcome, err
}

func (i *Ingestor) ingest(ctx context.Context, rec domain.RelayRecord) (Outcome, error) {
	if rec.OwnerID != i.ownerID {
		i.logger.WarnContext(ctx, "ignoring relay record for another owner", "record_id", rec.ID, "record_owner_id", rec.OwnerID)
		return OutcomeSkipped, nil
	}
	if err := rec.Validate(); err != nil {
		i.logger.ErrorContext(ctx, "relay record is malformed, leaving it for inspection", "record_id", rec.ID, "error", err)
		return OutcomeSkipped, nil
	}

	recorded, err := i.alreadyRecorded(ctx, rec)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%w: check existing response: %v", service.ErrStorageWriteFailed, err)
	}
	if recorded {
		i.consume(ctx, rec.ID)
		return OutcomeDuplicate, nil
	}

	resp, err := rec.ToResponse()
	if err != nil {
		i.logger.ErrorContext(ctx, "relay record answers could not be encoded", "record_id", rec.ID, "error", err)
		return OutcomeSkipped, nil
	}
	stored, err := i.responses.CreateWithCompletion(ctx, &resp, repository.CompleteIfPending)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateResponse) {
			i.consume(ctx, rec.ID)
			return OutcomeDuplicate, nil
		}
		i.logger.ErrorContext(ctx, "ingest failed, relay record kept for retry", "record_id", rec.ID, "error", err)
		return OutcomeFailed, fmt.Errorf("%w: %v", service.ErrStorageWriteFailed, err)
	}
	if rec.SessionID != nil && !stored.SessionCompleted {
		i.logger.WarnContext(ctx, "response kept for a session that was no longer pending",
			"record_id", rec.ID, "session_id", *rec.SessionID)
	}

	i.consume(ctx, rec.ID)
	i.notifier.Notify(service.ChangeResponses, resp.ID)
	if stored.SessionCompleted {
		i.notifier.Notify(service.ChangeSessions, *rec.SessionID)
	}
	i.logger.InfoContext(ctx, "relay record ingested", "record_id", rec.ID, "template_id", rec.TemplateID)
	return OutcomeIngested, nil
}

func (i *Ingestor) alreadyRecorded(ctx context.Context, rec domain.RelayRecord) (bool, error) {
	if rec.SessionID != nil {
		_, err := i.responses.FindBySessionID(ctx, *rec.SessionID)
		switch {
		case err == nil:
			return true, nil
		case !errors.Is(err, repository.ErrResponseNotFound):
			return false, err
		}
	}
	_, err := i.responses.FindByID(ctx, rec.ID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrResponseNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (i *Ingestor) consume(ctx context.Context, recordID string) {
	if err := i.relay.Delete(ctx, recordID); err != nil {
		i.logger.WarnContext(ctx, "relay delete failed after local commit", "record_id", recordID, "error", err)
	}
}

// DrainReport counts what one pass over the backlog did.
type DrainReport struct {
	Seen       int `json:"seen"`
	Ingested   int `json:"ingested"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Drain ingests every unconsumed record for the owner, oldest first. Per
// record failures are counted and the pass continues; only a failure to list
// the backlog is returned. Cancelling ctx stops the pass between records and
// never inside one.
func (i *Ingestor) Drain(ctx context.Context, trigger string) (DrainReport, error) {
	var report DrainReport
	records, err := i.relay.ListUnconsumed(ctx, i.ownerID)
	if err != nil {
		return report, fmt.Errorf("%w: list unconsumed: %v", service.ErrRelayUnreachable, err)
	}
	report.Seen = len(records)
	ingestCtx := context.WithoutCancel(ctx)
	for _, rec := range records {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		outcome, _ := i.Ingest(ingestCtx, rec, trigger)
		switch outcome {
		case OutcomeIngested:
			report.Ingested++
		case OutcomeDuplicate:
			report.Duplicates++
		case OutcomeFailed:
			report.Failed++
		default:
			report.Skipped++
		}
	}
	return report, nil
}
