// Package action executes the actions produced by rule evaluation:
// mailbox mutations, forwards, notifications, and templated replies.
// Dispatch is best-effort; one action's failure never prevents the
// rest from running.
package action

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/nhle/mail-agent/internal/mail"
	"github.com/nhle/mail-agent/internal/model"
	"github.com/nhle/mail-agent/internal/store"
)

var (
	// ErrInvalidAddress indicates a forward target that is not a
	// syntactically valid address.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrTemplateNotFound indicates an auto_reply referencing an
	// unregistered template.
	ErrTemplateNotFound = errors.New("template not found")
)

// DispatchError wraps a per-action failure. The agent logs it and
// continues with the remaining actions and messages.
type DispatchError struct {
	Action model.ActionType
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch error (%s): %v", e.Action, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// IsDispatchError reports whether err (or any error in its chain) is a
// DispatchError.
func IsDispatchError(err error) bool {
	var de *DispatchError
	return errors.As(err, &de)
}

// Dispatcher executes actions against the mail transport and the
// notification sinks, recording every outcome in the audit log.
type Dispatcher struct {
	transport mail.Transport
	notifier  *Notifier
	templates *TemplateRegistry
	store     store.Store
	log       *zap.Logger
}

// NewDispatcher creates a dispatcher. The store is used for the audit
// log only; audit failures never fail an action.
func NewDispatcher(
	transport mail.Transport,
	notifier *Notifier,
	templates *TemplateRegistry,
	st store.Store,
	log *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		notifier:  notifier,
		templates: templates,
		store:     st,
		log:       log,
	}
}

// Dispatch executes one action for one message. Mailbox mutations are
// idempotent: repeating archive or mark_read on the same message is a
// no-op, so duplicate actions from overlapping rules are harmless.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	act model.Action,
	msg model.Message,
	analysis model.Analysis,
) error {
	var err error
	switch act.Type {
	case model.ActionArchive:
		err = d.transport.Archive(ctx, msg.UID)
	case model.ActionMarkRead:
		err = d.transport.MarkRead(ctx, msg.UID)
	case model.ActionForward:
		err = d.forward(ctx, act.To, msg)
	case model.ActionNotify:
		err = d.notify(ctx, act, msg, analysis)
	case model.ActionAutoReply:
		err = d.autoReply(ctx, act.Template, msg, analysis)
	default:
		err = fmt.Errorf("unknown action type %q", act.Type)
	}

	d.audit(ctx, act, msg, err)

	if err != nil {
		return &DispatchError{Action: act.Type, Err: err}
	}
	return nil
}

// forward sends the original message content to the target address.
func (d *Dispatcher) forward(ctx context.Context, target string, msg model.Message) error {
	if _, err := netmail.ParseAddress(target); err != nil {
		return fmt.Errorf("forward target %q: %w", target, ErrInvalidAddress)
	}

	var body strings.Builder
	body.WriteString("Forwarded message:\n\n")
	body.WriteString(fmt.Sprintf("From: %s\n", msg.From))
	body.WriteString(fmt.Sprintf("Subject: %s\n\n", msg.Subject))
	body.WriteString(msg.Body)

	return d.transport.Send(ctx, mail.OutgoingMessage{
		To:      target,
		Subject: "FWD: " + msg.Subject,
		Body:    body.String(),
	})
}

// notify delivers a notification, substituting a message summary when
// the rule carries no text.
func (d *Dispatcher) notify(
	ctx context.Context,
	act model.Action,
	msg model.Message,
	analysis model.Analysis,
) error {
	text := act.Text
	if text == "" {
		text = fmt.Sprintf("%s from %s", msg.Subject, msg.From)
	}
	return d.notifier.Notify(ctx, act.Channel, text, msg, analysis)
}

// autoReply renders the named template and sends it as a threaded
// reply to the sender.
func (d *Dispatcher) autoReply(
	ctx context.Context,
	templateName string,
	msg model.Message,
	analysis model.Analysis,
) error {
	body, err := d.templates.Render(templateName, msg, analysis)
	if err != nil {
		return err
	}

	return d.transport.Send(ctx, mail.OutgoingMessage{
		To:        msg.From,
		Subject:   replySubject(msg.Subject),
		Body:      body,
		InReplyTo: msg.MessageID,
	})
}

// audit records the dispatch outcome. Best-effort: a failing audit
// write is logged and swallowed.
func (d *Dispatcher) audit(
	ctx context.Context, act model.Action, msg model.Message, dispatchErr error,
) {
	rec := store.ActionRecord{
		UID:    msg.UID,
		Action: string(act.Type),
		Target: actionTarget(act),
		Status: "ok",
	}
	if dispatchErr != nil {
		rec.Status = "error"
		rec.Error = dispatchErr.Error()
	}

	if err := d.store.RecordAction(ctx, rec); err != nil {
		d.log.Warn("recording action audit entry",
			zap.Uint32("uid", msg.UID),
			zap.String("action", string(act.Type)),
			zap.Error(err),
		)
	}
}

// actionTarget extracts the argument of an action for the audit log.
func actionTarget(act model.Action) string {
	switch act.Type {
	case model.ActionForward:
		return act.To
	case model.ActionNotify:
		return act.Channel
	case model.ActionAutoReply:
		return act.Template
	default:
		return ""
	}
}

// replySubject prefixes "Re: " unless the subject already carries it.
func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}
