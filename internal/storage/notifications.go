package storage

import (
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"parley/internal/models"
)

type CreateNotificationParams struct {
	UserID string
	Type   models.NotificationType
	Title  string
	Body   string
	Data   map[string]any
}

// CreateNotification appends to the user's notification mailbox.
func (s *Store) CreateNotification(p CreateNotificationParams) (models.Notification, error) {
	var notification models.Notification
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketUsers).Get([]byte(p.UserID)) == nil {
			return fmt.Errorf("user %s: %w", p.UserID, models.ErrNotFound)
		}
		b, err := tx.Bucket(bucketNotifications).CreateBucketIfNotExists([]byte(p.UserID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		dbNotification := DBNotification{
			ID:        uuid.NewString(),
			Seq:       seq,
			UserID:    p.UserID,
			Type:      string(p.Type),
			Title:     p.Title,
			Body:      p.Body,
			Data:      p.Data,
			CreatedAt: s.now(),
		}
		if err := put(b, &dbNotification); err != nil {
			return err
		}
		notification = dbNotification.toModel()
		return nil
	})
	return notification, err
}

// ListNotifications returns the user's mailbox newest first.
func (s *Store) ListNotifications(userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var notifications []models.Notification
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		skipped := 0
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(notifications) < limit; k, v = c.Prev() {
			var dbNotification DBNotification
			if err := dbNotification.UnmarshalBinary(v); err != nil {
				return err
			}
			if unreadOnly && dbNotification.IsRead {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			notifications = append(notifications, dbNotification.toModel())
		}
		return nil
	})
	return notifications, err
}

// MarkNotificationRead is idempotent: marking an already read notification
// reports changed=false.
func (s *Store) MarkNotificationRead(userID, notificationID string) (models.Notification, bool, error) {
	var notification models.Notification
	var changed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if b == nil {
			return fmt.Errorf("notification %s: %w", notificationID, models.ErrNotFound)
		}
		dbNotification, err := findNotification(b, notificationID)
		if err != nil {
			return err
		}
		if !dbNotification.IsRead {
			dbNotification.IsRead = true
			dbNotification.ReadAt = s.now()
			if err := put(b, dbNotification); err != nil {
				return err
			}
			changed = true
		}
		notification = dbNotification.toModel()
		return nil
	})
	return notification, changed, err
}

func findNotification(b *bbolt.Bucket, notificationID string) (*DBNotification, error) {
	var found *DBNotification
	err := b.ForEach(func(k, v []byte) error {
		var dbNotification DBNotification
		if err := dbNotification.UnmarshalBinary(v); err != nil {
			return err
		}
		if dbNotification.ID == notificationID {
			found = &dbNotification
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("notification %s: %w", notificationID, models.ErrNotFound)
	}
	return found, nil
}

func (s *Store) MarkAllNotificationsRead(userID string) (int, error) {
	var marked int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		now := s.now()
		var updates []DBNotification
		err := b.ForEach(func(k, v []byte) error {
			var dbNotification DBNotification
			if err := dbNotification.UnmarshalBinary(v); err != nil {
				return err
			}
			if !dbNotification.IsRead {
				dbNotification.IsRead = true
				dbNotification.ReadAt = now
				updates = append(updates, dbNotification)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for i := range updates {
			if err := put(b, &updates[i]); err != nil {
				return err
			}
		}
		marked = len(updates)
		return nil
	})
	return marked, err
}

func (s *Store) UnreadNotificationCount(userID string) (int, error) {
	var count int
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var dbNotification DBNotification
			if err := dbNotification.UnmarshalBinary(v); err != nil {
				return err
			}
			if !dbNotification.IsRead {
				count++
			}
			return nil
		})
	})
	return count, err
}

func (s *Store) SaveAttachment(a models.Attachment) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if a.UploadedAt == 0 {
			a.UploadedAt = s.now()
		}
		dbAttachment := DBAttachment{
			ID:         a.ID,
			FileName:   a.FileName,
			FileSize:   a.FileSize,
			MimeType:   a.MimeType,
			UploadedBy: a.UploadedBy,
			UploadedAt: a.UploadedAt,
		}
		return put(tx.Bucket(bucketAttachments), &dbAttachment)
	})
}

func (s *Store) GetAttachment(id string) (models.Attachment, error) {
	var attachment models.Attachment
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAttachments).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("attachment %s: %w", id, models.ErrNotFound)
		}
		var dbAttachment DBAttachment
		if err := dbAttachment.UnmarshalBinary(data); err != nil {
			return err
		}
		attachment = models.Attachment{
			ID:         dbAttachment.ID,
			FileName:   dbAttachment.FileName,
			FileSize:   dbAttachment.FileSize,
			MimeType:   dbAttachment.MimeType,
			UploadedBy: dbAttachment.UploadedBy,
			UploadedAt: dbAttachment.UploadedAt,
		}
		return nil
	})
	return attachment, err
}
