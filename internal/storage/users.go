package storage

import (
	"fmt"

	"go.etcd.io/bbolt"

	"parley/internal/models"
)

// UpsertUser stores the messaging core's view of a user. Profile fields
// come from the external account service; we are the source of truth for
// status and lastSeenAt only.
func (s *Store) UpsertUser(u models.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbUser := &DBUser{
			ID:            u.ID,
			Username:      u.Username,
			DisplayName:   u.DisplayName,
			AvatarURL:     u.AvatarURL,
			Status:        string(u.Status),
			StatusMessage: u.StatusMessage,
			LastSeenAt:    u.LastSeenAt,
		}
		if dbUser.Status == "" {
			dbUser.Status = string(models.UserStatusOffline)
		}
		return put(tx.Bucket(bucketUsers), dbUser)
	})
}

// EnsureUser refreshes profile fields from verified token claims without
// touching the status fields we own. Missing users are created offline.
func (s *Store) EnsureUser(id, username, displayName string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		usersB := tx.Bucket(bucketUsers)
		dbUser := DBUser{ID: id, Status: string(models.UserStatusOffline)}
		if data := usersB.Get([]byte(id)); data != nil {
			if err := dbUser.UnmarshalBinary(data); err != nil {
				return err
			}
			if dbUser.Username == username && dbUser.DisplayName == displayName {
				return nil
			}
		}
		dbUser.Username = username
		dbUser.DisplayName = displayName
		return put(usersB, &dbUser)
	})
}

func (s *Store) GetUser(id string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("user %s: %w", id, models.ErrNotFound)
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		user = dbUser.toModel()
		return nil
	})
	return user, err
}

func (s *Store) ListUsers() ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, dbUser.toModel())
			return nil
		})
	})
	return users, err
}

// SetUserStatus writes the profile status and the presence row in one
// transaction. Keeping both behind a single write path is what stops the
// durable status and the realtime presence cache from diverging.
func (s *Store) SetUserStatus(userID string, status models.UserStatus, statusMessage string) (models.UserPresence, error) {
	var presence models.UserPresence
	err := s.db.Update(func(tx *bbolt.Tx) error {
		now := s.now()

		usersB := tx.Bucket(bucketUsers)
		data := usersB.Get([]byte(userID))
		if data == nil {
			return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		dbUser.Status = string(status)
		if statusMessage != "" {
			dbUser.StatusMessage = statusMessage
		}
		dbUser.LastSeenAt = now
		if err := put(usersB, &dbUser); err != nil {
			return err
		}

		presB := tx.Bucket(bucketPresence)
		dbPres := DBPresence{UserID: userID}
		if prev := presB.Get([]byte(userID)); prev != nil {
			if err := dbPres.UnmarshalBinary(prev); err != nil {
				return err
			}
		}
		dbPres.Status = string(status)
		dbPres.LastActiveAt = now
		if status == models.UserStatusOffline {
			dbPres.IsTyping = false
			dbPres.TypingInConversationID = ""
		}
		if err := put(presB, &dbPres); err != nil {
			return err
		}

		presence = dbPres.toModel()
		return nil
	})
	return presence, err
}

// SetTyping persists the single-focus typing flag. Starting to type in a
// new conversation implicitly clears the previous one because there is
// only one field to hold it.
func (s *Store) SetTyping(userID, conversationID string, typing bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		presB := tx.Bucket(bucketPresence)
		dbPres := DBPresence{UserID: userID, Status: string(models.UserStatusOffline)}
		if prev := presB.Get([]byte(userID)); prev != nil {
			if err := dbPres.UnmarshalBinary(prev); err != nil {
				return err
			}
		}
		dbPres.IsTyping = typing
		if typing {
			dbPres.TypingInConversationID = conversationID
		} else {
			dbPres.TypingInConversationID = ""
		}
		dbPres.LastActiveAt = s.now()
		return put(presB, &dbPres)
	})
}

func (s *Store) GetPresence(userID string) (models.UserPresence, error) {
	var presence models.UserPresence
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPresence).Get([]byte(userID))
		if data == nil {
			// A user that never connected is simply offline.
			presence = models.UserPresence{UserID: userID, Status: models.UserStatusOffline}
			return nil
		}
		var dbPres DBPresence
		if err := dbPres.UnmarshalBinary(data); err != nil {
			return err
		}
		presence = dbPres.toModel()
		return nil
	})
	return presence, err
}

func (s *Store) AddContact(userID, contactID, nickname string) (models.Contact, error) {
	var contact models.Contact
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketUsers).Get([]byte(contactID)) == nil {
			return fmt.Errorf("user %s: %w", contactID, models.ErrNotFound)
		}
		b, err := tx.Bucket(bucketContacts).CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return err
		}
		if b.Get([]byte(contactID)) != nil {
			return fmt.Errorf("contact %s: %w", contactID, models.ErrConflict)
		}
		dbContact := &DBContact{
			ContactID: contactID,
			Nickname:  nickname,
			AddedAt:   s.now(),
		}
		if err := put(b, dbContact); err != nil {
			return err
		}
		contact = models.Contact{
			UserID:    userID,
			ContactID: contactID,
			Nickname:  nickname,
			AddedAt:   dbContact.AddedAt,
		}
		return nil
	})
	return contact, err
}

func (s *Store) SetContactBlocked(userID, contactID string, blocked bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketContacts).Bucket([]byte(userID))
		if b == nil {
			return fmt.Errorf("contact %s: %w", contactID, models.ErrNotFound)
		}
		data := b.Get([]byte(contactID))
		if data == nil {
			return fmt.Errorf("contact %s: %w", contactID, models.ErrNotFound)
		}
		var dbContact DBContact
		if err := dbContact.UnmarshalBinary(data); err != nil {
			return err
		}
		dbContact.IsBlocked = blocked
		return put(b, &dbContact)
	})
}

// ListContacts returns the user's non-blocked contacts joined with their
// user rows.
func (s *Store) ListContacts(userID string) ([]models.User, error) {
	var contacts []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketContacts).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		usersB := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbContact DBContact
			if err := dbContact.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbContact.IsBlocked {
				return nil
			}
			userData := usersB.Get([]byte(dbContact.ContactID))
			if userData == nil {
				return nil
			}
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(userData); err != nil {
				return err
			}
			contacts = append(contacts, dbUser.toModel())
			return nil
		})
	})
	return contacts, err
}

// ContactIDs returns IDs of the user's non-blocked contacts. This is the
// fan-out target for status broadcasts.
func (s *Store) ContactIDs(userID string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketContacts).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var dbContact DBContact
			if err := dbContact.UnmarshalBinary(v); err != nil {
				return err
			}
			if !dbContact.IsBlocked {
				ids = append(ids, dbContact.ContactID)
			}
			return nil
		})
	})
	return ids, err
}

func (s *Store) SavePushSubscription(sub models.PushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketPushSubs).CreateBucketIfNotExists([]byte(sub.UserID))
		if err != nil {
			return err
		}
		return put(b, &DBPushSubscription{
			Endpoint:  sub.Endpoint,
			P256dh:    sub.P256dh,
			Auth:      sub.Auth,
			CreatedAt: s.now(),
		})
	})
}

func (s *Store) ListPushSubscriptions(userID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPushSubs).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, models.PushSubscription{
				UserID:    userID,
				Endpoint:  dbSub.Endpoint,
				P256dh:    dbSub.P256dh,
				Auth:      dbSub.Auth,
				CreatedAt: dbSub.CreatedAt,
			})
			return nil
		})
	})
	return subs, err
}

func (s *Store) DeletePushSubscription(userID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPushSubs).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(endpoint))
	})
}
