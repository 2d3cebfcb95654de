package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/interfaces"
	"github.com/ternarybob/reportree/internal/models"
)

// storedMessage represents the internal structure stored in Badger
type storedMessage struct {
	ID           string              `json:"id"`
	Body         models.QueueMessage `json:"body"`
	EnqueuedAt   time.Time           `json:"enqueued_at"`
	VisibleAt    time.Time           `json:"visible_at"`
	ReceiveCount int                 `json:"receive_count"`
}

// BadgerManager implements a persistent visibility-timeout queue using BadgerDB.
//
// Keys:
//
//	queue:{name}:msg:{id}                 -> JSON storedMessage
//	queue:{name}:index:{visibleAt}:{id}   -> empty, ordered by visibility time
type BadgerManager struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger
	onDrop            func(models.QueueMessage)
}

var _ interfaces.QueueManager = (*BadgerManager)(nil)

// NewBadgerManager creates a new Badger-backed queue manager
func NewBadgerManager(db *badger.DB, logger arbor.ILogger, queueName string, visibilityTimeout time.Duration, maxReceive int) (*BadgerManager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &BadgerManager{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
	}, nil
}

// OnDrop sets a callback for messages discarded after exceeding max receive
func (m *BadgerManager) OnDrop(fn func(models.QueueMessage)) {
	m.onDrop = fn
}

// Enqueue adds a message to the queue.
// The message is stored under its JobID when present so Extend can address it by handle.
func (m *BadgerManager) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	id := msg.JobID
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now()
	qMsg := storedMessage{
		ID:         id,
		Body:       msg,
		EnqueuedAt: now,
		VisibleAt:  now,
	}

	data, err := json.Marshal(qMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	return m.db.Update(func(txn *badger.Txn) error {
		msgKey := m.msgKey(id)
		if _, err := txn.Get(msgKey); err == nil {
			return fmt.Errorf("message %s already enqueued", id)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(msgKey, data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(qMsg.VisibleAt, id), []byte{})
	})
}

// Receive pulls the next visible message from the queue.
// The returned func deletes the message once the caller is done with it.
func (m *BadgerManager) Receive(ctx context.Context) (*models.QueueMessage, func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var qMsg storedMessage
	var dropped []models.QueueMessage
	found := false

	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := m.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		var claimedIndexKey []byte

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := m.parseIndexKey(key)
			if err != nil {
				continue
			}

			// Keys are sorted by visibility time, nothing later is ready either
			if ts.After(now) {
				break
			}

			msgKey := m.msgKey(id)
			item, err := txn.Get(msgKey)
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					// Orphaned index entry
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			var candidate storedMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &candidate)
			}); err != nil {
				return err
			}

			// Poison pill: drop instead of redelivering forever
			if candidate.ReceiveCount >= m.maxReceive {
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(msgKey); err != nil {
					return err
				}
				dropped = append(dropped, candidate.Body)
				continue
			}

			qMsg = candidate
			claimedIndexKey = key
			break
		}

		// Commit with nil so dropped poison pills are removed even when nothing is claimed
		if claimedIndexKey == nil {
			return nil
		}
		found = true

		qMsg.ReceiveCount++
		qMsg.VisibleAt = time.Now().Add(m.visibilityTimeout)

		newData, err := json.Marshal(qMsg)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(qMsg.ID), newData); err != nil {
			return err
		}
		if err := txn.Delete(claimedIndexKey); err != nil {
			return err
		}
		return txn.Set(m.indexKey(qMsg.VisibleAt, qMsg.ID), []byte{})
	})

	if err != nil {
		return nil, nil, err
	}

	m.notifyDropped(dropped)

	if !found {
		return nil, nil, models.ErrNoMessage
	}

	msgID := qMsg.ID
	deleteFn := func() error {
		return m.db.Update(func(txn *badger.Txn) error {
			msgKey := m.msgKey(msgID)
			current, err := m.load(txn, msgID)
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return nil // Already deleted
				}
				return err
			}

			if err := txn.Delete(m.indexKey(current.VisibleAt, msgID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return txn.Delete(msgKey)
		})
	}

	body := qMsg.Body
	return &body, deleteFn, nil
}

// Extend pushes the visibility timeout of an in-flight message out by duration
func (m *BadgerManager) Extend(ctx context.Context, messageID string, duration time.Duration) error {
	return m.db.Update(func(txn *badger.Txn) error {
		qMsg, err := m.load(txn, messageID)
		if err != nil {
			return err
		}

		oldVisibleAt := qMsg.VisibleAt
		qMsg.VisibleAt = time.Now().Add(duration)

		newData, err := json.Marshal(qMsg)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(messageID), newData); err != nil {
			return err
		}

		if err := txn.Delete(m.indexKey(oldVisibleAt, messageID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(m.indexKey(qMsg.VisibleAt, messageID), []byte{})
	})
}

// Len returns the number of messages stored, visible or in flight
func (m *BadgerManager) Len() (int, error) {
	count := 0
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := m.indexPrefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close closes the queue manager (no-op, the DB is owned by the storage manager)
func (m *BadgerManager) Close() error {
	return nil
}

func (m *BadgerManager) load(txn *badger.Txn, id string) (storedMessage, error) {
	var qMsg storedMessage
	item, err := txn.Get(m.msgKey(id))
	if err != nil {
		return qMsg, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &qMsg)
	})
	return qMsg, err
}

func (m *BadgerManager) notifyDropped(dropped []models.QueueMessage) {
	for _, msg := range dropped {
		if m.logger != nil {
			m.logger.Warn().
				Str("job_id", msg.JobID).
				Str("job_type", msg.Type).
				Int("max_receive", m.maxReceive).
				Msg("Dropping message after max receive count")
		}
		if m.onDrop != nil {
			m.onDrop(msg)
		}
	}
}

// Helpers

func (m *BadgerManager) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, id))
}

func (m *BadgerManager) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
}

func (m *BadgerManager) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so string order matches numeric order
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", m.queueName, visibleAt.UnixNano(), id))
}

func (m *BadgerManager) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := m.indexPrefix()
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	// Suffix is "{20-digit-ts}:{id}"
	suffix := string(key[len(prefix):])
	if len(suffix) < 22 {
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), suffix[21:], nil
}
