package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/urbix/internal/interfaces"
)

// LeaseStorage implements interfaces.LeaseStorage with Badger TTL entries
type LeaseStorage struct {
	db *BadgerDB
}

// NewLeaseStorage creates a lease store sharing the record database
func NewLeaseStorage(db *BadgerDB) interfaces.LeaseStorage {
	return &LeaseStorage{db: db}
}

func leaseKey(deviceID string) []byte {
	return []byte("lease:" + deviceID)
}

// Acquire takes the device lease for holder. A write conflict with a
// concurrent acquirer counts as the lease being held.
func (s *LeaseStorage) Acquire(ctx context.Context, deviceID, holder string, ttl time.Duration) error {
	err := s.db.Badger().Update(func(txn *badger.Txn) error {
		current, err := readLease(txn, deviceID)
		if err != nil {
			return err
		}
		if current != "" && current != holder {
			return interfaces.ErrLeaseHeld
		}
		entry := badger.NewEntry(leaseKey(deviceID), []byte(holder)).WithTTL(ttl)
		return txn.SetEntry(entry)
	})

	if errors.Is(err, badger.ErrConflict) {
		return interfaces.ErrLeaseHeld
	}
	if err != nil && !errors.Is(err, interfaces.ErrLeaseHeld) {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	return err
}

// Release drops the lease if holder still owns it
func (s *LeaseStorage) Release(ctx context.Context, deviceID, holder string) error {
	err := s.db.Badger().Update(func(txn *badger.Txn) error {
		current, err := readLease(txn, deviceID)
		if err != nil {
			return err
		}
		if current != holder {
			return nil
		}
		return txn.Delete(leaseKey(deviceID))
	})
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

func readLease(txn *badger.Txn, deviceID string) (string, error) {
	item, err := txn.Get(leaseKey(deviceID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(value), nil
}
