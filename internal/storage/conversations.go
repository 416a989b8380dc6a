package storage

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"parley/internal/models"
)

type CreateConversationParams struct {
	Type        models.ConversationType
	Name        string
	Description string
	AvatarURL   string
	CreatedByID string
	// MemberIDs are the other members; the creator is added as owner.
	MemberIDs []string
}

type ConversationUpdate struct {
	Name        *string
	Description *string
	AvatarURL   *string
	IsArchived  *bool
	IsPinned    *bool
}

// ConversationListing pairs a conversation with the caller's member row,
// so listings can show the per-member unread count.
type ConversationListing struct {
	Conversation models.Conversation       `json:"conversation"`
	Member       models.ConversationMember `json:"member"`
}

func (s *Store) CreateConversation(p CreateConversationParams) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Update(func(tx *bbolt.Tx) error {
		now := s.now()
		dbConv := &DBConversation{
			ID:          uuid.NewString(),
			Type:        string(p.Type),
			Name:        p.Name,
			Description: p.Description,
			AvatarURL:   p.AvatarURL,
			CreatedByID: p.CreatedByID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := put(tx.Bucket(bucketConversations), dbConv); err != nil {
			return err
		}

		memB, err := tx.Bucket(bucketMembers).CreateBucketIfNotExists([]byte(dbConv.ID))
		if err != nil {
			return err
		}

		seen := map[string]bool{p.CreatedByID: true}
		addMember := func(userID string, role models.MemberRole) error {
			if err := put(memB, &DBMember{
				ConversationID: dbConv.ID,
				UserID:         userID,
				Role:           string(role),
				JoinedAt:       now,
			}); err != nil {
				return err
			}
			idxB, err := tx.Bucket(bucketUserConvs).CreateBucketIfNotExists([]byte(userID))
			if err != nil {
				return err
			}
			return idxB.Put([]byte(dbConv.ID), []byte{1})
		}

		if err := addMember(p.CreatedByID, models.RoleOwner); err != nil {
			return err
		}
		for _, id := range p.MemberIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			if err := addMember(id, models.RoleMember); err != nil {
				return err
			}
		}

		conv = dbConv.toModel()
		return nil
	})
	return conv, err
}

func (s *Store) GetConversation(id string) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketConversations).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
		}
		var dbConv DBConversation
		if err := dbConv.UnmarshalBinary(data); err != nil {
			return err
		}
		conv = dbConv.toModel()
		return nil
	})
	return conv, err
}

// UpdateConversation edits conversation metadata. Only owners and admins
// may do this; the role check runs inside the transaction.
func (s *Store) UpdateConversation(id, actorID string, upd ConversationUpdate) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Update(func(tx *bbolt.Tx) error {
		convB := tx.Bucket(bucketConversations)
		data := convB.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
		}

		actor, err := activeMember(tx, id, actorID)
		if err != nil {
			return err
		}
		if !models.MemberRole(actor.Role).CanModerate() {
			return fmt.Errorf("only owners and admins can update conversation details: %w", models.ErrForbidden)
		}

		var dbConv DBConversation
		if err := dbConv.UnmarshalBinary(data); err != nil {
			return err
		}
		if upd.Name != nil {
			dbConv.Name = *upd.Name
		}
		if upd.Description != nil {
			dbConv.Description = *upd.Description
		}
		if upd.AvatarURL != nil {
			dbConv.AvatarURL = *upd.AvatarURL
		}
		if upd.IsArchived != nil {
			dbConv.IsArchived = *upd.IsArchived
		}
		if upd.IsPinned != nil {
			dbConv.IsPinned = *upd.IsPinned
		}
		dbConv.UpdatedAt = s.now()
		if err := put(convB, &dbConv); err != nil {
			return err
		}
		conv = dbConv.toModel()
		return nil
	})
	return conv, err
}

// activeMember fetches the member row and fails with ErrNotMember when the
// row is missing or soft-left.
func activeMember(tx *bbolt.Tx, conversationID, userID string) (*DBMember, error) {
	memB := tx.Bucket(bucketMembers).Bucket([]byte(conversationID))
	if memB == nil {
		return nil, models.ErrNotMember
	}
	data := memB.Get([]byte(userID))
	if data == nil {
		return nil, models.ErrNotMember
	}
	var m DBMember
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	if m.LeftAt != 0 {
		return nil, models.ErrNotMember
	}
	return &m, nil
}

// GetMember returns the active member row for (conversation, user).
func (s *Store) GetMember(conversationID, userID string) (models.ConversationMember, error) {
	var member models.ConversationMember
	err := s.db.View(func(tx *bbolt.Tx) error {
		m, err := activeMember(tx, conversationID, userID)
		if err != nil {
			return err
		}
		member = m.toModel()
		return nil
	})
	return member, err
}

// ActiveMembers returns all members with LeftAt unset. This is the fan-out
// audience for the conversation.
func (s *Store) ActiveMembers(conversationID string) ([]models.ConversationMember, error) {
	var members []models.ConversationMember
	err := s.db.View(func(tx *bbolt.Tx) error {
		memB := tx.Bucket(bucketMembers).Bucket([]byte(conversationID))
		if memB == nil {
			return fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
		}
		return memB.ForEach(func(k, v []byte) error {
			var m DBMember
			if err := m.UnmarshalBinary(v); err != nil {
				return err
			}
			if m.LeftAt == 0 {
				members = append(members, m.toModel())
			}
			return nil
		})
	})
	return members, err
}

// AddMember adds userID to the conversation. The actor must be an owner or
// admin. A previously-left member is reactivated in place, which preserves
// the at-most-one-row-per-pair invariant.
func (s *Store) AddMember(conversationID, actorID, userID string, role models.MemberRole) (models.ConversationMember, error) {
	var member models.ConversationMember
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketConversations).Get([]byte(conversationID)) == nil {
			return fmt.Errorf("conversation %s: %w", conversationID, models.ErrNotFound)
		}
		actor, err := activeMember(tx, conversationID, actorID)
		if err != nil {
			return err
		}
		if !models.MemberRole(actor.Role).CanModerate() {
			return fmt.Errorf("only owners and admins can add members: %w", models.ErrForbidden)
		}

		memB := tx.Bucket(bucketMembers).Bucket([]byte(conversationID))
		dbMember := DBMember{
			ConversationID: conversationID,
			UserID:         userID,
			Role:           string(role),
			JoinedAt:       s.now(),
		}
		if data := memB.Get([]byte(userID)); data != nil {
			var prev DBMember
			if err := prev.UnmarshalBinary(data); err != nil {
				return err
			}
			if prev.LeftAt == 0 {
				return fmt.Errorf("user %s is already a member: %w", userID, models.ErrConflict)
			}
			// Rejoin: keep the original join time, clear the leave marker.
			dbMember.JoinedAt = prev.JoinedAt
		}
		if err := put(memB, &dbMember); err != nil {
			return err
		}

		idxB, err := tx.Bucket(bucketUserConvs).CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return err
		}
		if err := idxB.Put([]byte(conversationID), []byte{1}); err != nil {
			return err
		}

		member = dbMember.toModel()
		return nil
	})
	return member, err
}

// RemoveMember soft-leaves userID from the conversation. Members may remove
// themselves; removing someone else requires owner/admin, and the owner can
// only ever remove themself.
func (s *Store) RemoveMember(conversationID, actorID, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		actor, err := activeMember(tx, conversationID, actorID)
		if err != nil {
			return err
		}

		isLeaving := actorID == userID
		if !isLeaving && !models.MemberRole(actor.Role).CanModerate() {
			return fmt.Errorf("no permission to remove members: %w", models.ErrForbidden)
		}

		memB := tx.Bucket(bucketMembers).Bucket([]byte(conversationID))
		data := memB.Get([]byte(userID))
		if data == nil {
			return fmt.Errorf("member %s: %w", userID, models.ErrNotFound)
		}
		var target DBMember
		if err := target.UnmarshalBinary(data); err != nil {
			return err
		}
		if target.LeftAt != 0 {
			return fmt.Errorf("member %s: %w", userID, models.ErrNotFound)
		}
		if models.MemberRole(target.Role) == models.RoleOwner && !isLeaving {
			return fmt.Errorf("cannot remove the conversation owner: %w", models.ErrForbidden)
		}

		target.LeftAt = s.now()
		return put(memB, &target)
	})
}

// ListConversations returns the caller's active conversations, most
// recently active first.
func (s *Store) ListConversations(userID string) ([]ConversationListing, error) {
	var listings []ConversationListing
	err := s.db.View(func(tx *bbolt.Tx) error {
		idxB := tx.Bucket(bucketUserConvs).Bucket([]byte(userID))
		if idxB == nil {
			return nil
		}
		convB := tx.Bucket(bucketConversations)
		return idxB.ForEach(func(k, v []byte) error {
			m, err := activeMember(tx, string(k), userID)
			if err != nil {
				// Left conversations stay in the index but drop out of
				// listings.
				if err == models.ErrNotMember {
					return nil
				}
				return err
			}
			data := convB.Get(k)
			if data == nil {
				return nil
			}
			var dbConv DBConversation
			if err := dbConv.UnmarshalBinary(data); err != nil {
				return err
			}
			listings = append(listings, ConversationListing{
				Conversation: dbConv.toModel(),
				Member:       m.toModel(),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(listings, func(i, j int) bool {
		a, b := listings[i].Conversation, listings[j].Conversation
		at, bt := a.LastMessageAt, b.LastMessageAt
		if at == 0 {
			at = a.CreatedAt
		}
		if bt == 0 {
			bt = b.CreatedAt
		}
		if at != bt {
			return at > bt
		}
		return a.ID < b.ID
	})
	return listings, nil
}
