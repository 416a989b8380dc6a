package storage

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers         = []byte("users")
	bucketPresence      = []byte("presence")
	bucketContacts      = []byte("contacts")
	bucketConversations = []byte("conversations")
	bucketMembers       = []byte("members")
	bucketUserConvs     = []byte("user_conversations")
	bucketMessages      = []byte("messages")
	bucketMessageIndex  = []byte("message_index")
	bucketReceipts      = []byte("receipts")
	bucketReactions     = []byte("reactions")
	bucketNotifications = []byte("notifications")
	bucketPushSubs      = []byte("push_subscriptions")
	bucketAttachments   = []byte("attachments")
)

// Store is the transactional persistence layer. Every multi-step unit
// (message append with receipts, mark-all-read with counter reset) runs
// inside a single bbolt Update transaction: all effects land or none do.
type Store struct {
	db *bbolt.DB

	// now is swappable in tests.
	now func() int64
}

func NewStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers,
			bucketPresence,
			bucketContacts,
			bucketConversations,
			bucketMembers,
			bucketUserConvs,
			bucketMessages,
			bucketMessageIndex,
			bucketReceipts,
			bucketReactions,
			bucketNotifications,
			bucketPushSubs,
			bucketAttachments,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Store{
		db:  db,
		now: func() int64 { return time.Now().Unix() },
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func put(b *bbolt.Bucket, rec Storeable) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return b.Put(rec.Key(), data)
}
