package campserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tidemail/tidemail/internal/model"
)

var (
	bucketCampaigns  = []byte("campaigns")
	bucketRecipients = []byte("recipients")
	bucketActive     = []byte("active")
)

// ErrActiveCampaignExists is returned when an account already has a
// running or paused campaign. At most one active campaign per account.
var ErrActiveCampaignExists = errors.New("account already has an active campaign")

// Storage persists campaigns and recipient records in BoltDB.
type Storage struct {
	db *bolt.DB
}

// NewStorage opens (and creates if needed) the campaign database.
func NewStorage(path string) (*Storage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCampaigns, bucketRecipients, bucketActive} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{db: db}, nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// recipientKey orders recipient records by their assigned sequence.
func recipientKey(campaignID string, position int) []byte {
	return []byte(fmt.Sprintf("%s/%08d", campaignID, position))
}

// CreateCampaign stores a campaign and its recipient records, enforcing
// the one-active-campaign-per-account invariant.
func (s *Storage) CreateCampaign(c *Campaign, recs []RecipientRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		active := tx.Bucket(bucketActive)
		if existing := active.Get([]byte(c.AccountID)); existing != nil {
			// The index may point at a deleted campaign; only a live
			// active record blocks creation.
			if data := tx.Bucket(bucketCampaigns).Get(existing); data != nil {
				var prev Campaign
				if err := json.Unmarshal(data, &prev); err == nil && prev.Status.Active() {
					return ErrActiveCampaignExists
				}
			}
		}

		c.CreatedAt = time.Now()
		c.UpdatedAt = c.CreatedAt

		if err := putCampaign(tx, c); err != nil {
			return err
		}

		recBucket := tx.Bucket(bucketRecipients)
		for i := range recs {
			data, err := json.Marshal(&recs[i])
			if err != nil {
				return fmt.Errorf("failed to marshal recipient: %w", err)
			}
			if err := recBucket.Put(recipientKey(c.ID, recs[i].Position), data); err != nil {
				return fmt.Errorf("failed to store recipient: %w", err)
			}
		}

		return active.Put([]byte(c.AccountID), []byte(c.ID))
	})
}

// GetCampaign returns a campaign by id, or nil when it does not exist.
func (s *Storage) GetCampaign(id string) (*Campaign, error) {
	var c *Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCampaigns).Get([]byte(id))
		if data == nil {
			return nil
		}
		var cc Campaign
		if err := json.Unmarshal(data, &cc); err != nil {
			return fmt.Errorf("failed to unmarshal campaign: %w", err)
		}
		c = &cc
		return nil
	})
	return c, err
}

// SaveCampaign updates a campaign record and maintains the active
// index: terminal campaigns release their account slot.
func (s *Storage) SaveCampaign(c *Campaign) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		c.UpdatedAt = time.Now()
		if err := putCampaign(tx, c); err != nil {
			return err
		}

		active := tx.Bucket(bucketActive)
		key := []byte(c.AccountID)
		if c.Status.Active() {
			return active.Put(key, []byte(c.ID))
		}
		if current := active.Get(key); current != nil && string(current) == c.ID {
			return active.Delete(key)
		}
		return nil
	})
}

func putCampaign(tx *bolt.Tx, c *Campaign) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign: %w", err)
	}
	if err := tx.Bucket(bucketCampaigns).Put([]byte(c.ID), data); err != nil {
		return fmt.Errorf("failed to store campaign: %w", err)
	}
	return nil
}

// ActiveForAccount returns the account's running or paused campaign, or
// nil when there is none.
func (s *Storage) ActiveForAccount(accountID string) (*Campaign, error) {
	var c *Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketActive).Get([]byte(accountID))
		if id == nil {
			return nil
		}
		data := tx.Bucket(bucketCampaigns).Get(id)
		if data == nil {
			return nil
		}
		var cc Campaign
		if err := json.Unmarshal(data, &cc); err != nil {
			return fmt.Errorf("failed to unmarshal campaign: %w", err)
		}
		if cc.Status.Active() {
			c = &cc
		}
		return nil
	})
	return c, err
}

// RunningCampaigns returns all campaigns currently in running status.
func (s *Storage) RunningCampaigns() ([]*Campaign, error) {
	var out []*Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCampaigns).ForEach(func(k, v []byte) error {
			var c Campaign
			if err := json.Unmarshal(v, &c); err != nil {
				return nil // skip corrupt records
			}
			if c.Status == model.StatusRunning {
				out = append(out, &c)
			}
			return nil
		})
	})
	return out, err
}

// NextPending returns the lowest-position pending recipient of a
// campaign, or nil when the queue is drained. FIFO by sequence.
func (s *Storage) NextPending(campaignID string) (*RecipientRecord, error) {
	var rec *RecipientRecord
	prefix := []byte(campaignID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecipients).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var r RecipientRecord
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			if r.Status == RecipientPending {
				rec = &r
				return nil
			}
		}
		return nil
	})
	return rec, err
}

// SaveRecipient persists a recipient outcome. The worker calls this
// before advancing its cursor.
func (s *Storage) SaveRecipient(r *RecipientRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal recipient: %w", err)
		}
		return tx.Bucket(bucketRecipients).Put(recipientKey(r.CampaignID, r.Position), data)
	})
}

// DeleteCampaign removes a campaign, its recipient records, and its
// active-index entry.
func (s *Storage) DeleteCampaign(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		campBucket := tx.Bucket(bucketCampaigns)
		data := campBucket.Get([]byte(id))
		if data == nil {
			return nil
		}
		var c Campaign
		if err := json.Unmarshal(data, &c); err == nil {
			active := tx.Bucket(bucketActive)
			if current := active.Get([]byte(c.AccountID)); current != nil && string(current) == id {
				if err := active.Delete([]byte(c.AccountID)); err != nil {
					return err
				}
			}
		}

		prefix := []byte(id + "/")
		recCursor := tx.Bucket(bucketRecipients).Cursor()
		for k, _ := recCursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = recCursor.Next() {
			if err := recCursor.Delete(); err != nil {
				return err
			}
		}

		return campBucket.Delete([]byte(id))
	})
}
