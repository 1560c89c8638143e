package runtime

import (
	"context"
	"errors"

	"github.com/aretw0/menuflow/internal/nodes"
	"github.com/aretw0/menuflow/internal/template"
	"github.com/aretw0/menuflow/pkg/domain"
)

// arm schedules the next inactivity deadline of a waiting conversation.
// attempt 0 waits chat_timeout; later attempts wait time_between_attempts.
func (i *Interpreter) arm(key domain.ConversationKey, nodeID string, opts *nodes.InactivityOptions, attempt int) {
	delay := opts.ChatTimeout
	if attempt > 0 {
		delay = opts.TimeBetweenAttempts
	}
	id := key.String()
	i.timers.Schedule(id, nodeID, attempt, delay, func(gen uint64) {
		i.expire(key, nodeID, opts, attempt, gen)
	})
}

// expire runs when an inactivity deadline passes. Warnings are sent until the attempts
// are exhausted, then the conversation is diverted to the "timeout" case.
func (i *Interpreter) expire(key domain.ConversationKey, nodeID string, opts *nodes.InactivityOptions, attempt int, gen uint64) {
	ctx := context.Background()
	logger := i.logger.With("conversation_id", key.String(), "node_id", nodeID)

	err := i.sessions.WithLock(ctx, key, func(ctx context.Context) error {
		if !i.timers.Claim(key.String(), gen) {
			return nil
		}
		conv, err := i.sessions.Store().Load(ctx, key)
		if err != nil {
			return err
		}
		if conv.State != domain.StateInput || conv.NodeID != nodeID {
			return nil
		}

		if attempt < opts.Attempts {
			i.warn(ctx, conv, opts)
			i.arm(key, nodeID, opts, attempt+1)
			return nil
		}

		logger.Info("inactivity timeout", "attempts", attempt)
		return i.divert(ctx, conv)
	})
	if err != nil && !errors.Is(err, domain.ErrStepLimit) {
		logger.Error("inactivity timeout failed", "err", err)
	}
}

func (i *Interpreter) warn(ctx context.Context, conv *domain.Conversation, opts *nodes.InactivityOptions) {
	if opts.WarningMessage == "" || i.env.Transport == nil {
		return
	}
	vars := template.New(i.flow.Variables, conv.Variables)
	body, err := vars.RenderString("warning_message", opts.WarningMessage)
	if err != nil {
		body = opts.WarningMessage
	}
	if err := i.env.Transport.SendMessage(ctx, conv.Key, domain.Content{MsgType: domain.MsgText, Body: body}); err != nil {
		i.logger.Warn("inactivity warning not sent", "conversation_id", conv.Key.String(), "err", err)
	}
}

// divert moves a waiting conversation to its timeout edge and keeps running from there.
// It must be called while holding the conversation lock.
func (i *Interpreter) divert(ctx context.Context, conv *domain.Conversation) error {
	def, ok := i.flow.Node(conv.NodeID)
	if !ok {
		return nil
	}
	target, declared := def.Case(domain.OutcomeTimeout)
	if !declared {
		target = def.Default
	}

	next := conv.Clone()
	_, more := i.moveTo(next, target)
	if err := i.sessions.Save(ctx, next); err != nil {
		return err
	}
	i.notify(conv, next)
	i.publish(ctx, conv.Key, def, domain.OutcomeTimeout, target, template.New(i.flow.Variables, next.Variables).Snapshot())
	if !more {
		return nil
	}

	_, err := i.run(ctx, next, nil)
	return err
}
