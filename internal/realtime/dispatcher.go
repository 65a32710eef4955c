package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	v1 "nightline/contracts/v1"
	"nightline/internal/repo"
)

// DeliveryJob is the unit of work handed to the delivery queue after a
// successful dispatcher handler: forward an already-published event to
// recipients whose connections might live on another instance.
type DeliveryJob struct {
	To           []string        `json:"to"`
	Kind         string          `json:"kind"`
	Conversation string          `json:"conversation"`
	Data         v1.Envelope     `json:"data"`
}

// Producer hands a DeliveryJob to the durable queue. Implemented by
// internal/queue; kept as a narrow interface here so this package never
// imports the broker client.
type Producer interface {
	Enqueue(ctx context.Context, job DeliveryJob) error
}

const idRegenerateRetries = 1

// Dispatcher is the message state machine: it interprets an
// incoming frame's kind, validates, mutates persisted state, publishes
// to the channel hub, and hands cross-instance delivery to the queue.
type Dispatcher struct {
	log      *slog.Logger
	store    repo.Store
	hub      *Hub
	producer Producer
	maxPins  int
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(log *slog.Logger, store repo.Store, hub *Hub, producer Producer, maxPins int) *Dispatcher {
	if maxPins <= 0 {
		maxPins = 5
	}
	return &Dispatcher{log: log, store: store, hub: hub, producer: producer, maxPins: maxPins}
}

// Dispatch routes env to the handler for its kind. Unknown kinds are
// logged and dropped. Any handler failure becomes a single-recipient
// error frame sent only to client — never broadcast.
func (d *Dispatcher) Dispatch(ctx context.Context, client *Client, env v1.Envelope) {
	handler, ok := d.handlers()[env.Kind]
	if !ok {
		d.log.Info("dispatcher.unknown_kind", "kind", env.Kind, "session_id", client.SessionID)
		return
	}

	if err := handler(ctx, client, env); err != nil {
		d.log.Info("dispatcher.handler_failed", "kind", env.Kind, "session_id", client.SessionID, "err", err)
		d.sendError(client, env.Kind, "", err)
	}
}

type handlerFunc func(ctx context.Context, client *Client, env v1.Envelope) error

func (d *Dispatcher) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		v1.KindNew:      d.handleNew,
		v1.KindReply:    d.handleReply,
		v1.KindStatus:   d.handleStatus,
		v1.KindReaction: d.handleReaction,
		v1.KindUpdate:   d.handleUpdate,
		v1.KindRemove:   d.handleRemove,
		v1.KindForward:  d.handleForward,
	}
}

func (d *Dispatcher) sendError(client *Client, kind, id string, err error) {
	view := v1.ErrorView{Kind: kind, ID: id, Error: clientFacingMessage(err)}
	env, marshalErr := v1.NewEnvelope(v1.KindError, view)
	if marshalErr != nil {
		d.log.Error("dispatcher.error_frame_marshal_failed", "err", marshalErr)
		return
	}
	select {
	case client.Send <- env:
	default:
		d.log.Info("dispatcher.error_frame_dropped", "session_id", client.SessionID)
	}
}

// clientFacingMessage strips backend detail: backend failures are
// logged with context but never echoed to clients verbatim.
func clientFacingMessage(err error) string {
	switch {
	case repo.IsForbidden(err):
		return "unauthorized to perform this action"
	case repo.IsNotFound(err):
		return "not found"
	case repo.IsInvariant(err):
		var ie repo.InvariantError
		if errors.As(err, &ie) {
			return ie.Msg
		}
		return "invalid state transition"
	case repo.IsConflict(err):
		return "conflict"
	default:
		var ve ValidationError
		if errors.As(err, &ve) {
			return ve.Error()
		}
		return "internal error"
	}
}

func (d *Dispatcher) authorizeConversation(client *Client, conv repo.Conversation, userHex string) error {
	if client.ConversationHex != "" && client.ConversationHex != conv.Hex {
		return repo.ForbiddenError{Op: "dispatcher", Msg: "frame addressed to a different conversation"}
	}
	if !conv.HasParticipant(userHex) {
		return repo.ForbiddenError{Op: "dispatcher", Msg: "not a participant of this conversation"}
	}
	return nil
}

func (d *Dispatcher) insertWithRetry(ctx context.Context, build func(id string) repo.Message) (repo.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= idRegenerateRetries; attempt++ {
		id := NewRandomHex(10)
		msg, err := d.store.Messages.Insert(ctx, build(id))
		if err == nil {
			return msg, nil
		}
		if !repo.IsConflict(err) {
			return repo.Message{}, err
		}
		lastErr = err
	}
	return repo.Message{}, lastErr
}

func (d *Dispatcher) publishAndEnqueue(ctx context.Context, conv repo.Conversation, kind string, payload any) {
	env, err := v1.NewEnvelope(kind, payload)
	if err != nil {
		d.log.Error("dispatcher.publish_marshal_failed", "kind", kind, "err", err)
		return
	}
	d.hub.Publish(ChatTopic(conv.Hex), env)

	job := DeliveryJob{To: conv.ParticipantHexes(), Kind: "worker", Conversation: conv.Hex, Data: env}
	if err := d.producer.Enqueue(ctx, job); err != nil {
		d.log.Error("dispatcher.enqueue_failed", "conversation", conv.Hex, "kind", kind, "err", err)
	}
}

func (d *Dispatcher) handleNew(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.NewMessagePayload
	if err := json.Unmarshal(env.Message, &p); err != nil {
		return ValidationError{Field: "message", Constraint: "json"}
	}
	if err := ValidateNew(&p); err != nil {
		return err
	}

	conv, err := d.store.Conversations.FindByHex(ctx, p.Conversation)
	if err != nil {
		return err
	}
	if err := d.authorizeConversation(client, conv, client.UserHex); err != nil {
		return err
	}

	now := time.Now().UTC()
	persisted, err := d.insertWithRetry(ctx, func(id string) repo.Message {
		return repo.Message{
			ID:               id,
			Conversation:     p.Conversation,
			Kind:             p.Kind,
			Type:             p.Type,
			User:             client.UserHex,
			RecipientContent: contentFromWire(p.RecipientContent),
			SenderContent:    contentFromWire(p.SenderContent),
			Status:           p.Status,
			Attachments:      attachmentsFromWire(p.Attachments),
			Images:           p.Images,
			Videos:           p.Videos,
			Audio:            p.Audio,
			Reactions:        reactionsFromWire(p.Reactions),
			CreatedAt:        now,
		}
	})
	if err != nil {
		return err
	}

	if err := d.store.Conversations.IncrementUnread(ctx, conv.Hex, client.UserHex, persisted, now); err != nil {
		d.log.Error("dispatcher.increment_unread_failed", "conversation", conv.Hex, "err", err)
	}

	d.publishAndEnqueue(ctx, conv, v1.KindNew, messageToView(persisted))
	return nil
}

func (d *Dispatcher) handleReply(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.ReplyPayload
	if err := json.Unmarshal(env.Message, &p); err != nil {
		return ValidationError{Field: "message", Constraint: "json"}
	}
	if err := ValidateReply(&p); err != nil {
		return err
	}

	conv, err := d.store.Conversations.FindByHex(ctx, p.Conversation)
	if err != nil {
		return err
	}
	if err := d.authorizeConversation(client, conv, client.UserHex); err != nil {
		return err
	}

	parent, err := d.store.Messages.FindByID(ctx, p.Parent)
	if err != nil {
		return repo.NotFoundError{Op: "dispatcher.handleReply", Resource: "parent message"}
	}

	now := time.Now().UTC()
	parentRef := p.Parent
	persisted, err := d.insertWithRetry(ctx, func(id string) repo.Message {
		return repo.Message{
			ID:               id,
			Conversation:     p.Conversation,
			Kind:             p.Kind,
			Type:             p.Type,
			Parent:           &parentRef,
			User:             client.UserHex,
			RecipientContent: contentFromWire(p.RecipientContent),
			SenderContent:    contentFromWire(p.SenderContent),
			Status:           p.Status,
			Attachments:      attachmentsFromWire(p.Attachments),
			Images:           p.Images,
			Videos:           p.Videos,
			Audio:            p.Audio,
			Reactions:        reactionsFromWire(p.Reactions),
			Reply: &repo.ReplyProjection{
				RecipientContent: parent.SenderContent,
				SenderContent:    parent.RecipientContent,
			},
			CreatedAt: now,
		}
	})
	if err != nil {
		return err
	}

	if err := d.store.Conversations.IncrementUnread(ctx, conv.Hex, client.UserHex, persisted, now); err != nil {
		d.log.Error("dispatcher.increment_unread_failed", "conversation", conv.Hex, "err", err)
	}

	d.publishAndEnqueue(ctx, conv, v1.KindNew, messageToView(persisted))
	return nil
}

func (d *Dispatcher) handleStatus(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.StatusPayload
	if err := json.Unmarshal(env.Message, &p); err != nil {
		return ValidationError{Field: "message", Constraint: "json"}
	}
	if err := ValidateStatus(&p); err != nil {
		return err
	}

	msg, err := d.store.Messages.FindByID(ctx, p.ID)
	if err != nil {
		return err
	}
	conv, err := d.store.Conversations.FindByHex(ctx, msg.Conversation)
	if err != nil {
		return err
	}
	if err := d.authorizeConversation(client, conv, client.UserHex); err != nil {
		return err
	}

	updated, err := d.store.Messages.UpdateStatus(ctx, p.ID, p.Status)
	if err != nil {
		return err
	}
	if p.Status == repo.StatusRead {
		if err := d.store.Conversations.ResetUnread(ctx, conv.Hex, client.UserHex); err != nil {
			d.log.Error("dispatcher.reset_unread_failed", "conversation", conv.Hex, "err", err)
		}
	}

	view := v1.StatusView{ID: updated.ID, Conversation: updated.Conversation, Status: updated.Status}
	d.publishAndEnqueue(ctx, conv, v1.KindStatus, view)
	return nil
}

func (d *Dispatcher) handleReaction(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.ReactionPayload
	if err := json.Unmarshal(env.Message, &p); err != nil {
		return ValidationError{Field: "message", Constraint: "json"}
	}
	if err := ValidateReaction(&p); err != nil {
		return err
	}

	msg, err := d.store.Messages.FindByID(ctx, p.ID)
	if err != nil {
		return err
	}
	conv, err := d.store.Conversations.FindByHex(ctx, msg.Conversation)
	if err != nil {
		return err
	}
	if err := d.authorizeConversation(client, conv, client.UserHex); err != nil {
		return err
	}

	slot := "to"
	if client.UserHex == msg.User {
		slot = "from"
	}

	updated, err := d.store.Messages.UpdateReactions(ctx, p.ID, slot, p.Reaction)
	if err != nil {
		return err
	}

	view := v1.ReactionView{ID: updated.ID, Conversation: updated.Conversation, Reactions: reactionsToWire(updated.Reactions)}
	d.publishAndEnqueue(ctx, conv, v1.KindReaction, view)
	return nil
}

func (d *Dispatcher) handleUpdate(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.ContentEditPayload
	if err := json.Unmarshal(env.Message, &p); err != nil {
		return ValidationError{Field: "message", Constraint: "json"}
	}
	if err := ValidateContentEdit(&p); err != nil {
		return err
	}

	msg, err := d.store.Messages.FindByID(ctx, p.ID)
	if err != nil {
		return err
	}
	conv, err := d.store.Conversations.FindByHex(ctx, msg.Conversation)
	if err != nil {
		return err
	}
	if err := d.authorizeConversation(client, conv, client.UserHex); err != nil {
		return err
	}
	if msg.User != client.UserHex {
		return repo.ForbiddenError{Op: "dispatcher.handleUpdate", Msg: "unauthorized to edit message"}
	}

	updated, err := d.store.Messages.UpdateContents(ctx, p.ID, contentFromWire(p.SenderContent), contentFromWire(p.RecipientContent))
	if err != nil {
		return err
	}

	d.publishAndEnqueue(ctx, conv, v1.KindUpdate, messageToView(updated))
	return nil
}

func (d *Dispatcher) handleRemove(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.RemovePayload
	if err := json.Unmarshal(env.Message, &p); err != nil {
		return ValidationError{Field: "message", Constraint: "json"}
	}
	if err := ValidateRemove(&p); err != nil {
		return err
	}

	msg, err := d.store.Messages.FindByID(ctx, p.ID)
	if err != nil {
		return err
	}
	conv, err := d.store.Conversations.FindByHex(ctx, msg.Conversation)
	if err != nil {
		return err
	}
	if err := d.authorizeConversation(client, conv, client.UserHex); err != nil {
		return err
	}

	if err := d.store.Messages.Delete(ctx, p.ID, client.UserHex); err != nil {
		return err
	}

	view := v1.RemoveView{ID: p.ID, Conversation: msg.Conversation}
	d.publishAndEnqueue(ctx, conv, v1.KindRemove, view)
	return nil
}

func (d *Dispatcher) handleForward(_ context.Context, _ *Client, _ v1.Envelope) error {
	return errors.New("forward is not implemented")
}
