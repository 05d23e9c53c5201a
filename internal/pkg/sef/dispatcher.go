package sef

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/e-fakture/sefsync/app/models"
	"github.com/e-fakture/sefsync/internal/pkg/invoicestatus"
)

// DispatchResult tells the HTTP layer how a verified notification was
// handled. Everything except Failed answers 200; the sender never learns
// business detail.
type DispatchResult struct {
	WebhookLogID uint
	// Duplicate is set when the same event was delivered before and is
	// acknowledged without reprocessing.
	Duplicate bool
	// Ignored is set for unknown event types and events without a matching
	// local invoice: acknowledged, logged, no state change.
	Ignored bool
	// Failed is set when processing hit an unexpected internal error after
	// the log row was durably written.
	Failed  bool
	Outcome invoicestatus.Outcome
}

// Dispatcher turns verified notifications into state machine transitions.
// The WebhookLog row is written before any interpretation so a crash
// mid-processing leaves a recoverable record instead of a lost event.
type Dispatcher struct {
	repo   Repository
	status *invoicestatus.Service
}

// NewDispatcher wires the inbound pipeline.
func NewDispatcher(repo Repository, status *invoicestatus.Service) *Dispatcher {
	return &Dispatcher{repo: repo, status: status}
}

// NewDispatcherFromDB wires the inbound pipeline from a GORM handle.
func NewDispatcherFromDB(db *gorm.DB) *Dispatcher {
	return NewDispatcher(NewRepository(db), invoicestatus.NewServiceFromDB(db))
}

// Dispatch handles one verified raw notification body.
//
// An error return means nothing durable was written and the sender should
// see a 500. Every other failure mode is absorbed: logged on the WebhookLog
// row and acknowledged, so one bad event never blocks the stream and known
// bad payloads do not trigger the sender's retry storm.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte, signature string) (*DispatchResult, error) {
	env, envErr := ParseEnvelope(raw)
	if envErr != nil {
		// Without sefId and eventType there is nothing to deduplicate
		// against; log under the empty id so the payload is still kept.
		env = &Envelope{}
	}

	row := &models.WebhookLog{
		SEFID:       env.SEFID,
		EventType:   string(env.EventType),
		EventID:     env.DedupID(raw),
		PayloadJSON: string(raw),
		Signature:   signature,
	}
	created, stored, err := d.repo.CreateWebhookLogIfNew(row)
	if err != nil {
		return nil, fmt.Errorf("persist webhook log: %w", err)
	}

	res := &DispatchResult{WebhookLogID: stored.ID}
	if !created {
		log.Infof("[Webhook] duplicate delivery for sefId=%s event=%s, acknowledged", env.SEFID, env.EventType)
		res.Duplicate = true
		return res, nil
	}

	if envErr != nil {
		d.markProcessed(stored.ID, envErr)
		res.Ignored = true
		return res, nil
	}
	return d.process(ctx, stored, env, res)
}

// Retry reprocesses a logged event that previously failed. The signature was
// verified at receipt; only the business processing runs again.
func (d *Dispatcher) Retry(ctx context.Context, webhookLogID uint) (*DispatchResult, error) {
	stored, err := d.repo.GetWebhookLog(webhookLogID)
	if err != nil {
		return nil, err
	}
	if stored.ProcessedAt != nil && stored.ProcessingError == "" {
		return &DispatchResult{WebhookLogID: stored.ID, Duplicate: true}, nil
	}

	env, envErr := ParseEnvelope([]byte(stored.PayloadJSON))
	if envErr != nil {
		d.markProcessed(stored.ID, envErr)
		return &DispatchResult{WebhookLogID: stored.ID, Ignored: true}, nil
	}
	return d.process(ctx, stored, env, &DispatchResult{WebhookLogID: stored.ID})
}

// process interprets an event whose log row already exists.
func (d *Dispatcher) process(ctx context.Context, stored *models.WebhookLog, env *Envelope, res *DispatchResult) (*DispatchResult, error) {
	event, err := ParseEvent(env)
	if err != nil {
		if errors.Is(err, ErrUnknownEventType) {
			// Forward-compatible no-op: acknowledged without state change.
			log.Infof("[Webhook] ignoring unknown event type %q for sefId=%s", env.EventType, env.SEFID)
			d.markProcessed(stored.ID, nil)
		} else {
			log.Warnf("[Webhook] invalid %s payload for sefId=%s: %v", env.EventType, env.SEFID, err)
			d.markProcessed(stored.ID, err)
		}
		res.Ignored = true
		return res, nil
	}

	inv, err := d.status.InvoiceBySEFID(event.SEFID())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Webhook] no local invoice for sefId=%s, event %s acknowledged", event.SEFID(), event.Type())
			d.markProcessed(stored.ID, fmt.Errorf("no local invoice for sefId %s", event.SEFID()))
			res.Ignored = true
			return res, nil
		}
		d.markProcessed(stored.ID, err)
		res.Failed = true
		return res, nil
	}

	outcome, err := d.status.Apply(ctx, invoicestatus.Transition{
		Invoice:      inv,
		Target:       event.TargetStatus(),
		EventType:    string(event.Type()),
		EventTime:    event.OccurredAt(),
		WebhookLogID: &stored.ID,
	})
	if err != nil {
		log.Errorf("[Webhook] processing sefId=%s event=%s failed: %v", event.SEFID(), event.Type(), err)
		d.markProcessed(stored.ID, err)
		res.Failed = true
		return res, nil
	}

	d.markProcessed(stored.ID, nil)
	res.Outcome = outcome.Outcome
	return res, nil
}

// markProcessed stamps the log row; failures here are logged and never
// escalate, the row stays eligible for manual retry.
func (d *Dispatcher) markProcessed(id uint, processingErr error) {
	if err := d.repo.MarkWebhookProcessed(id, errorMessage(processingErr)); err != nil {
		log.Errorf("[Webhook] failed to mark log %d processed: %v", id, err)
	}
}
