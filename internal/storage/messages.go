package storage

import (
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"parley/internal/models"
)

type AppendMessageParams struct {
	ConversationID  string
	SenderID        string
	Type            models.MessageType
	Content         string
	Metadata        map[string]any
	ReplyToID       string
	ForwardedFromID string
}

// AppendMessage is the message store transaction. In one atomic unit it
// inserts the message row, advances the conversation's last-message
// pointer, and creates one undelivered receipt per other active member
// while incrementing that member's unread counter. Either all four
// effects land or none do.
func (s *Store) AppendMessage(p AppendMessageParams) (models.Message, error) {
	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		convB := tx.Bucket(bucketConversations)
		convData := convB.Get([]byte(p.ConversationID))
		if convData == nil {
			return fmt.Errorf("conversation %s: %w", p.ConversationID, models.ErrNotFound)
		}

		if _, err := activeMember(tx, p.ConversationID, p.SenderID); err != nil {
			return err
		}

		// Reply and forward references must point at existing messages;
		// replies additionally stay within the conversation. Acyclicity
		// needs no check: a reference can only name a message that already
		// exists, so a chain can never loop back.
		if p.ReplyToID != "" {
			ref, err := messageRef(tx, p.ReplyToID)
			if err != nil {
				return fmt.Errorf("replyToId: %w", err)
			}
			if ref.ConversationID != p.ConversationID {
				return models.Invalidf("replyToId refers to a different conversation")
			}
		}
		if p.ForwardedFromID != "" {
			if _, err := messageRef(tx, p.ForwardedFromID); err != nil {
				return fmt.Errorf("forwardedFromId: %w", err)
			}
		}

		msgB, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(p.ConversationID))
		if err != nil {
			return fmt.Errorf("failed to create conversation message bucket: %w", err)
		}
		seq, err := msgB.NextSequence()
		if err != nil {
			return err
		}

		now := s.now()
		dbMsg := DBMessage{
			ID:              uuid.NewString(),
			Seq:             seq,
			ConversationID:  p.ConversationID,
			SenderID:        p.SenderID,
			Type:            string(p.Type),
			Content:         p.Content,
			Metadata:        p.Metadata,
			ReplyToID:       p.ReplyToID,
			ForwardedFromID: p.ForwardedFromID,
			CreatedAt:       now,
		}
		if err := put(msgB, &dbMsg); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		ref := DBMessageRef{ConversationID: p.ConversationID, Seq: seq}
		refData, err := ref.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketMessageIndex).Put([]byte(dbMsg.ID), refData); err != nil {
			return err
		}

		var dbConv DBConversation
		if err := dbConv.UnmarshalBinary(convData); err != nil {
			return fmt.Errorf("failed to unmarshal conversation: %w", err)
		}
		dbConv.LastMessageID = dbMsg.ID
		dbConv.LastMessageAt = now
		dbConv.UpdatedAt = now
		if err := put(convB, &dbConv); err != nil {
			return err
		}

		// Receipts for every other active member. Collect first: bbolt
		// forbids mutating a bucket while iterating it.
		memB := tx.Bucket(bucketMembers).Bucket([]byte(p.ConversationID))
		var recipients []DBMember
		err = memB.ForEach(func(k, v []byte) error {
			var m DBMember
			if err := m.UnmarshalBinary(v); err != nil {
				return err
			}
			if m.LeftAt == 0 && m.UserID != p.SenderID {
				recipients = append(recipients, m)
			}
			return nil
		})
		if err != nil {
			return err
		}

		rcptB, err := tx.Bucket(bucketReceipts).CreateBucketIfNotExists([]byte(dbMsg.ID))
		if err != nil {
			return err
		}
		for i := range recipients {
			m := &recipients[i]
			if err := put(rcptB, &DBReceipt{MessageID: dbMsg.ID, UserID: m.UserID}); err != nil {
				return err
			}
			m.UnreadCount++
			if err := put(memB, m); err != nil {
				return err
			}
		}

		msg = dbMsg.toModel()
		return nil
	})
	return msg, err
}

func messageRef(tx *bbolt.Tx, messageID string) (DBMessageRef, error) {
	var ref DBMessageRef
	data := tx.Bucket(bucketMessageIndex).Get([]byte(messageID))
	if data == nil {
		return ref, fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	if err := ref.UnmarshalBinary(data); err != nil {
		return ref, err
	}
	return ref, nil
}

func getMessage(tx *bbolt.Tx, messageID string) (*DBMessage, error) {
	ref, err := messageRef(tx, messageID)
	if err != nil {
		return nil, err
	}
	msgB := tx.Bucket(bucketMessages).Bucket([]byte(ref.ConversationID))
	if msgB == nil {
		return nil, fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	data := msgB.Get(seqKey(ref.Seq))
	if data == nil {
		return nil, fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	var dbMsg DBMessage
	if err := dbMsg.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &dbMsg, nil
}

func (s *Store) GetMessage(messageID string) (models.Message, error) {
	var msg models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbMsg, err := getMessage(tx, messageID)
		if err != nil {
			return err
		}
		msg = dbMsg.toModel()
		return nil
	})
	return msg, err
}

// EditMessage replaces the content. Only the original sender may edit, and
// tombstones cannot be edited.
func (s *Store) EditMessage(messageID, editorID, content string) (models.Message, error) {
	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbMsg, err := getMessage(tx, messageID)
		if err != nil {
			return err
		}
		if dbMsg.SenderID != editorID {
			return fmt.Errorf("only the sender can edit a message: %w", models.ErrForbidden)
		}
		if dbMsg.IsDeleted {
			return models.Invalidf("cannot edit a deleted message")
		}
		dbMsg.Content = content
		dbMsg.IsEdited = true
		dbMsg.EditedAt = s.now()
		msgB := tx.Bucket(bucketMessages).Bucket([]byte(dbMsg.ConversationID))
		if err := put(msgB, dbMsg); err != nil {
			return err
		}
		msg = dbMsg.toModel()
		return nil
	})
	return msg, err
}

// DeleteMessage tombstones the row: content is nulled, receipts and
// reactions remain for audit. Allowed for the sender or a conversation
// owner/admin.
func (s *Store) DeleteMessage(messageID, actorID string) (models.Message, error) {
	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbMsg, err := getMessage(tx, messageID)
		if err != nil {
			return err
		}
		if dbMsg.SenderID != actorID {
			actor, err := activeMember(tx, dbMsg.ConversationID, actorID)
			if err != nil {
				return fmt.Errorf("no permission to delete this message: %w", models.ErrForbidden)
			}
			if !models.MemberRole(actor.Role).CanModerate() {
				return fmt.Errorf("no permission to delete this message: %w", models.ErrForbidden)
			}
		}
		dbMsg.IsDeleted = true
		dbMsg.DeletedAt = s.now()
		dbMsg.Content = ""
		msgB := tx.Bucket(bucketMessages).Bucket([]byte(dbMsg.ConversationID))
		if err := put(msgB, dbMsg); err != nil {
			return err
		}
		msg = dbMsg.toModel()
		return nil
	})
	return msg, err
}

// AddReaction inserts the (message, user, emoji) triple. A duplicate is a
// conflict, not an upsert.
func (s *Store) AddReaction(messageID, userID, emoji string) (models.Reaction, error) {
	var reaction models.Reaction
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbMsg, err := getMessage(tx, messageID)
		if err != nil {
			return err
		}
		if _, err := activeMember(tx, dbMsg.ConversationID, userID); err != nil {
			return err
		}
		b, err := tx.Bucket(bucketReactions).CreateBucketIfNotExists([]byte(messageID))
		if err != nil {
			return err
		}
		dbReaction := DBReaction{
			MessageID: messageID,
			UserID:    userID,
			Emoji:     emoji,
			CreatedAt: s.now(),
		}
		if b.Get(dbReaction.Key()) != nil {
			return fmt.Errorf("reaction already exists: %w", models.ErrConflict)
		}
		if err := put(b, &dbReaction); err != nil {
			return err
		}
		reaction = dbReaction.toModel()
		return nil
	})
	return reaction, err
}

func (s *Store) RemoveReaction(messageID, userID, emoji string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketReactions).Bucket([]byte(messageID))
		key := (&DBReaction{UserID: userID, Emoji: emoji}).Key()
		if b == nil || b.Get(key) == nil {
			return fmt.Errorf("reaction: %w", models.ErrNotFound)
		}
		return b.Delete(key)
	})
}

func (s *Store) ListReactions(messageID string) ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketReactions).Bucket([]byte(messageID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var dbReaction DBReaction
			if err := dbReaction.UnmarshalBinary(v); err != nil {
				return err
			}
			reactions = append(reactions, dbReaction.toModel())
			return nil
		})
	})
	return reactions, err
}

func (s *Store) GetReceipt(messageID, userID string) (models.Receipt, error) {
	var receipt models.Receipt
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketReceipts).Bucket([]byte(messageID))
		if b == nil {
			return fmt.Errorf("receipt: %w", models.ErrNotFound)
		}
		data := b.Get([]byte(userID))
		if data == nil {
			return fmt.Errorf("receipt: %w", models.ErrNotFound)
		}
		var dbReceipt DBReceipt
		if err := dbReceipt.UnmarshalBinary(data); err != nil {
			return err
		}
		receipt = dbReceipt.toModel()
		return nil
	})
	return receipt, err
}

func (s *Store) ListReceipts(messageID string) ([]models.Receipt, error) {
	var receipts []models.Receipt
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketReceipts).Bucket([]byte(messageID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var dbReceipt DBReceipt
			if err := dbReceipt.UnmarshalBinary(v); err != nil {
				return err
			}
			receipts = append(receipts, dbReceipt.toModel())
			return nil
		})
	})
	return receipts, err
}

// MarkDelivered flips the delivered flag for one (message, recipient)
// receipt. The transition is monotonic and idempotent: a second call is a
// safe no-op and changed reports false.
func (s *Store) MarkDelivered(messageID, userID string) (models.Receipt, bool, error) {
	return s.updateReceipt(messageID, userID, func(r *DBReceipt, now int64) bool {
		if r.IsDelivered {
			return false
		}
		r.IsDelivered = true
		r.DeliveredAt = now
		return true
	}, false)
}

// MarkRead flips the read flag and decrements the member's unread counter
// on the false→true transition only. Read implies seen, so delivery is
// backfilled when the client skipped the delivered acknowledgment.
func (s *Store) MarkRead(messageID, userID string) (models.Receipt, bool, error) {
	return s.updateReceipt(messageID, userID, func(r *DBReceipt, now int64) bool {
		if r.IsRead {
			return false
		}
		r.IsRead = true
		r.ReadAt = now
		if !r.IsDelivered {
			r.IsDelivered = true
			r.DeliveredAt = now
		}
		return true
	}, true)
}

func (s *Store) updateReceipt(messageID, userID string, apply func(*DBReceipt, int64) bool, adjustUnread bool) (models.Receipt, bool, error) {
	var receipt models.Receipt
	var changed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketReceipts).Bucket([]byte(messageID))
		if b == nil {
			return fmt.Errorf("receipt: %w", models.ErrNotFound)
		}
		data := b.Get([]byte(userID))
		if data == nil {
			return fmt.Errorf("receipt: %w", models.ErrNotFound)
		}
		var dbReceipt DBReceipt
		if err := dbReceipt.UnmarshalBinary(data); err != nil {
			return err
		}

		changed = apply(&dbReceipt, s.now())
		if !changed {
			receipt = dbReceipt.toModel()
			return nil
		}
		if err := put(b, &dbReceipt); err != nil {
			return err
		}

		if adjustUnread {
			ref, err := messageRef(tx, messageID)
			if err != nil {
				return err
			}
			memB := tx.Bucket(bucketMembers).Bucket([]byte(ref.ConversationID))
			if memB != nil {
				if memData := memB.Get([]byte(userID)); memData != nil {
					var m DBMember
					if err := m.UnmarshalBinary(memData); err != nil {
						return err
					}
					if m.UnreadCount > 0 {
						m.UnreadCount--
					}
					if err := put(memB, &m); err != nil {
						return err
					}
				}
			}
		}

		receipt = dbReceipt.toModel()
		return nil
	})
	return receipt, changed, err
}

// MarkAllRead marks every unread receipt of userID across the conversation
// as read and resets the member's unread counter to zero, atomically.
// It returns the messages whose receipts changed so the tracker can echo
// read updates to their senders.
func (s *Store) MarkAllRead(conversationID, userID string) ([]models.Message, error) {
	var changed []models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		member, err := activeMember(tx, conversationID, userID)
		if err != nil {
			return err
		}

		now := s.now()
		msgB := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if msgB != nil {
			rcptParent := tx.Bucket(bucketReceipts)
			type pending struct {
				bucket  *bbolt.Bucket
				receipt DBReceipt
				msg     DBMessage
			}
			var updates []pending

			err := msgB.ForEach(func(k, v []byte) error {
				var dbMsg DBMessage
				if err := dbMsg.UnmarshalBinary(v); err != nil {
					return err
				}
				rcptB := rcptParent.Bucket([]byte(dbMsg.ID))
				if rcptB == nil {
					return nil
				}
				data := rcptB.Get([]byte(userID))
				if data == nil {
					return nil
				}
				var dbReceipt DBReceipt
				if err := dbReceipt.UnmarshalBinary(data); err != nil {
					return err
				}
				if dbReceipt.IsRead {
					return nil
				}
				dbReceipt.IsRead = true
				dbReceipt.ReadAt = now
				if !dbReceipt.IsDelivered {
					dbReceipt.IsDelivered = true
					dbReceipt.DeliveredAt = now
				}
				updates = append(updates, pending{bucket: rcptB, receipt: dbReceipt, msg: dbMsg})
				return nil
			})
			if err != nil {
				return err
			}

			for i := range updates {
				if err := put(updates[i].bucket, &updates[i].receipt); err != nil {
					return err
				}
				changed = append(changed, updates[i].msg.toModel())
			}
		}

		member.UnreadCount = 0
		member.LastReadAt = now
		memB := tx.Bucket(bucketMembers).Bucket([]byte(conversationID))
		return put(memB, member)
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// MessageFilter narrows a conversation history read. Before/After compare
// against creation timestamps; Limit/Offset page through the newest-first
// sequence before the result is flipped to ascending order.
type MessageFilter struct {
	Limit  int
	Offset int
	Before int64
	After  int64
}

// predicate compiles the filter into a pure match function.
func (f MessageFilter) predicate() func(*DBMessage) bool {
	return func(m *DBMessage) bool {
		if m.IsDeleted {
			return false
		}
		if f.Before != 0 && m.CreatedAt >= f.Before {
			return false
		}
		if f.After != 0 && m.CreatedAt <= f.After {
			return false
		}
		return true
	}
}

// ListMessages returns non-deleted messages of the conversation in
// ascending sequence order. Paging is newest-first (limit/offset walk from
// the tail), matching how clients backfill history.
func (s *Store) ListMessages(conversationID string, f MessageFilter) ([]models.Message, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	match := f.predicate()

	var newest []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketConversations).Get([]byte(conversationID)) == nil {
			return fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
		}
		msgB := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if msgB == nil {
			return nil
		}

		skipped := 0
		c := msgB.Cursor()
		for k, v := c.Last(); k != nil && len(newest) < f.Limit; k, v = c.Prev() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if !match(&dbMsg) {
				continue
			}
			if skipped < f.Offset {
				skipped++
				continue
			}
			newest = append(newest, dbMsg.toModel())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reverse newest-first into ascending order for client display.
	for i, j := 0, len(newest)-1; i < j; i, j = i+1, j-1 {
		newest[i], newest[j] = newest[j], newest[i]
	}
	return newest, nil
}
