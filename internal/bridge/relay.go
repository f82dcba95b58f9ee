package bridge

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// RelayFromSim delivers a group chat message from the simulator into the
// group's Matrix room, speaking as the sender's puppet. Messages attributed
// to the zero UUID are the bridge's own injections echoed back by the region
// module and are dropped.
func (s *Service) RelayFromSim(ctx context.Context, groupID, senderID uuid.UUID, senderName, message string) error {
	if senderID == uuid.Nil {
		s.log.Debug().
			Str("group_id", groupID.String()).
			Msg("Dropping echoed bridge message")
		return nil
	}

	gb, err := s.db.GroupBridge.GetEnabled(ctx, groupID)
	if err != nil {
		return err
	}
	if gb == nil {
		s.log.Debug().
			Str("group_id", groupID.String()).
			Msg("Dropping message for unbridged group")
		return nil
	}

	puppetMXID, err := s.syncPuppet(ctx, gb, senderID, senderName, false)
	if err != nil {
		return err
	}

	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    message,
	}
	err = s.matrix.SendMessageAs(ctx, puppetMXID, gb.RoomID, uuid.NewString(), content)
	if err != nil {
		return err
	}
	s.log.Debug().
		Str("group_id", groupID.String()).
		Str("puppet", puppetMXID.String()).
		Str("room_id", gb.RoomID.String()).
		Msg("Relayed group message to Matrix")
	return nil
}

// Transaction is the event batch pushed by the homeserver to the appservice.
type Transaction struct {
	Events []*TransactionEvent `json:"events"`
}

// TransactionEvent carries the subset of a Matrix event the relay needs.
type TransactionEvent struct {
	ID      string    `json:"event_id"`
	Type    string    `json:"type"`
	RoomID  id.RoomID `json:"room_id"`
	Sender  id.UserID `json:"sender"`
	Content struct {
		MsgType event.MessageType `json:"msgtype"`
		Body    string            `json:"body"`
	} `json:"content"`
	Unsigned struct {
		SenderDisplayName string `json:"sender_display_name"`
	} `json:"unsigned"`
}

// HandleTransaction relays every event in the batch. Per-event failures are
// logged and skipped so one bad event cannot wedge the homeserver's
// transaction queue.
func (s *Service) HandleTransaction(ctx context.Context, txn *Transaction) {
	for _, evt := range txn.Events {
		if err := s.relayToSim(ctx, evt); err != nil {
			s.log.Err(err).
				Str("event_id", evt.ID).
				Str("room_id", evt.RoomID.String()).
				Msg("Failed to relay event to region")
		}
	}
}

// relayToSim forwards a single Matrix room message into the simulator's
// group chat. Non-message events, non-text messages, empty bodies, rooms
// without an enabled bridge, and anything sent by the bridge's own users are
// silently dropped.
func (s *Service) relayToSim(ctx context.Context, evt *TransactionEvent) error {
	if evt.Type != event.EventMessage.Type {
		return nil
	}
	sender := evt.Sender.String()
	if strings.HasPrefix(sender, "@"+PuppetLocalpartPrefix) || strings.HasPrefix(sender, "@"+s.cfg.Matrix.BotLocalpart) {
		return nil
	}
	if evt.Content.MsgType != event.MsgText {
		return nil
	}
	body := strings.TrimSpace(evt.Content.Body)
	if body == "" {
		return nil
	}

	gb, err := s.db.GroupBridge.GetByRoomID(ctx, evt.RoomID)
	if err != nil {
		return err
	}
	if gb == nil {
		return nil
	}

	fromName := evt.Unsigned.SenderDisplayName
	if fromName == "" {
		fromName = sender
	}
	return s.sim.Inject(ctx, gb.GroupID, fromName, body)
}
