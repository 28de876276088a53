// Package agent runs the polling loop: fetch unread messages, classify
// them, evaluate the rules, and dispatch the resulting actions.
package agent

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mail-agent/internal/action"
	"github.com/nhle/mail-agent/internal/classify"
	"github.com/nhle/mail-agent/internal/mail"
	"github.com/nhle/mail-agent/internal/model"
	"github.com/nhle/mail-agent/internal/rules"
	"github.com/nhle/mail-agent/internal/store"
)

// State labels the phase the agent loop is in. It exists for logging
// and for tests asserting loop progress.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateClassifying State = "classifying"
	StateEvaluating  State = "evaluating"
	StateDispatching State = "dispatching"
	StateStopped     State = "stopped"
)

// Agent ties the transport, the classifier, the rule engine, and the
// dispatcher into a polling loop.
type Agent struct {
	cfg        model.AgentConfig
	transport  mail.Transport
	classifier classify.Classifier
	engine     *rules.Engine
	dispatcher *action.Dispatcher
	store      store.Store
	log        *zap.Logger

	state State
}

// New creates an agent. All collaborators must be non-nil.
func New(
	cfg model.AgentConfig,
	transport mail.Transport,
	classifier classify.Classifier,
	engine *rules.Engine,
	dispatcher *action.Dispatcher,
	st store.Store,
	log *zap.Logger,
) *Agent {
	return &Agent{
		cfg:        cfg,
		transport:  transport,
		classifier: classifier,
		engine:     engine,
		dispatcher: dispatcher,
		store:      st,
		log:        log,
		state:      StateIdle,
	}
}

// State returns the loop phase the agent was last in.
func (a *Agent) State() State { return a.state }

// Run polls until the context is canceled. Transport failures back off
// exponentially between cycles; a successful cycle resets the backoff.
func (a *Agent) Run(ctx context.Context) error {
	interval := time.Duration(a.cfg.PollIntervalSec) * time.Second

	a.log.Info("agent started",
		zap.Duration("poll_interval", interval),
		zap.Int("batch_size", a.cfg.BatchSize),
		zap.Int("concurrency", a.cfg.Concurrency),
	)

	failures := 0
	delay := interval
	for {
		if err := a.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				a.state = StateStopped
				a.log.Info("agent stopped")
				return nil
			}
			if mail.IsAuthError(err) {
				a.state = StateStopped
				a.log.Error("authentication rejected, stopping", zap.Error(err))
				return err
			}
			failures++
			delay = a.backoffDelay(failures)
			a.log.Warn("cycle failed, backing off",
				zap.Int("consecutive_failures", failures),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
		} else {
			failures = 0
			delay = interval
		}

		a.state = StateIdle
		select {
		case <-ctx.Done():
			a.state = StateStopped
			a.log.Info("agent stopped")
			return nil
		case <-time.After(delay):
		}
	}
}

// backoffDelay returns the sleep before the next cycle after the given
// number of consecutive cycle failures: the configured initial backoff
// on the first failure, doubling per failure up to the ceiling.
func (a *Agent) backoffDelay(failures int) time.Duration {
	delay := time.Duration(a.cfg.BackoffSec) * time.Second
	maxDelay := time.Duration(a.cfg.MaxBackoffSec) * time.Second
	for i := 1; i < failures; i++ {
		delay = min(delay*2, maxDelay)
	}
	return min(delay, maxDelay)
}

// RunCycle performs one fetch-classify-evaluate-dispatch pass. The
// error return covers fetch failures only; per-message failures are
// logged and skipped so one bad message never stalls the batch.
func (a *Agent) RunCycle(ctx context.Context) error {
	a.pruneProcessed(ctx)

	a.state = StateFetching
	processed, err := a.store.ProcessedUIDs(ctx)
	if err != nil {
		return err
	}

	msgs, err := a.transport.FetchUnread(ctx, a.cfg.BatchSize, func(uid uint32) bool {
		return processed[uid]
	})
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	a.log.Info("fetched unread messages", zap.Int("count", len(msgs)))

	analyses := a.classifyBatch(ctx, msgs)

	for i, msg := range msgs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if analyses[i] == nil {
			// Classification failed; the message stays unprocessed and
			// is offered again next cycle.
			continue
		}
		a.processMessage(ctx, msg, *analyses[i])
	}

	return nil
}

// classifyBatch runs the classifier over the batch with bounded
// concurrency. A nil entry marks a message whose classification
// failed.
func (a *Agent) classifyBatch(ctx context.Context, msgs []model.Message) []*model.Analysis {
	a.state = StateClassifying
	analyses := make([]*model.Analysis, len(msgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, msg := range msgs {
		g.Go(func() error {
			analysis, err := a.classifier.Analyze(gctx, msg)
			if err != nil {
				a.log.Warn("classification failed",
					zap.Uint32("uid", msg.UID),
					zap.String("subject", msg.Subject),
					zap.Error(err),
				)
				return nil
			}
			analyses[i] = &analysis
			return nil
		})
	}
	// Workers never return errors; Wait only synchronizes.
	_ = g.Wait()

	return analyses
}

// processMessage evaluates the rules for one classified message,
// dispatches the resulting actions, and marks the message processed.
func (a *Agent) processMessage(ctx context.Context, msg model.Message, analysis model.Analysis) {
	a.state = StateEvaluating
	actions := a.engine.Evaluate(msg, analysis)
	if matched := a.engine.MatchingRules(msg, analysis); len(matched) > 0 {
		a.log.Info("rules matched",
			zap.Uint32("uid", msg.UID),
			zap.Strings("rules", matched),
			zap.String("category", string(analysis.Category)),
			zap.String("priority", analysis.Priority.String()),
		)
	}

	a.state = StateDispatching
	replied := false
	for _, act := range actions {
		if err := a.dispatcher.Dispatch(ctx, act, msg, analysis); err != nil {
			a.log.Warn("action failed",
				zap.Uint32("uid", msg.UID),
				zap.String("action", string(act.Type)),
				zap.Error(err),
			)
			continue
		}
		if act.Type == model.ActionAutoReply {
			replied = true
		}
	}

	if a.cfg.AutoReply && analysis.RequiresResponse && !replied {
		a.generatedReply(ctx, msg, analysis)
	}

	if err := a.store.MarkProcessed(ctx, store.ProcessedEntry{
		UID:         msg.UID,
		MessageID:   msg.MessageID,
		Subject:     msg.Subject,
		ProcessedAt: time.Now(),
	}); err != nil {
		a.log.Warn("marking message processed",
			zap.Uint32("uid", msg.UID),
			zap.Error(err),
		)
	}
}

// generatedReply drafts and sends an AI response for a message no rule
// replied to. Failures are logged; the message is still considered
// processed.
func (a *Agent) generatedReply(ctx context.Context, msg model.Message, analysis model.Analysis) {
	body, err := a.classifier.GenerateReply(ctx, msg, analysis)
	if err != nil {
		a.log.Warn("generating reply",
			zap.Uint32("uid", msg.UID),
			zap.Error(err),
		)
		return
	}

	out := mail.OutgoingMessage{
		To:        msg.From,
		Subject:   "Re: " + msg.Subject,
		Body:      body,
		InReplyTo: msg.MessageID,
	}
	if err := a.transport.Send(ctx, out); err != nil {
		a.log.Warn("sending generated reply",
			zap.Uint32("uid", msg.UID),
			zap.Error(err),
		)
		return
	}
	a.log.Info("sent generated reply", zap.Uint32("uid", msg.UID))
}

// pruneProcessed drops processed-set entries older than the retention
// window.
func (a *Agent) pruneProcessed(ctx context.Context) {
	if a.cfg.ProcessedRetentionHours <= 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(a.cfg.ProcessedRetentionHours) * time.Hour)
	n, err := a.store.PruneProcessed(ctx, cutoff)
	if err != nil {
		a.log.Warn("pruning processed set", zap.Error(err))
		return
	}
	if n > 0 {
		a.log.Debug("pruned processed entries", zap.Int64("count", n))
	}
}
