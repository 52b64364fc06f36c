package invoice

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	invoiceBucketName = "invoices"
	itemBucketName    = "items"
)

// DB defines the interface for record store operations.
type DB interface {
	// CreateInvoice persists an invoice and its line items atomically,
	// assigning the invoice an ID. Any items previously stored for that ID
	// are replaced. A failure rolls back the whole write.
	CreateInvoice(inv *Invoice, items []*Item) error

	// GetInvoice retrieves an invoice by ID.
	GetInvoice(id uint64) (*Invoice, error)

	// FindByNumCode returns the invoice matching both number and code
	// exactly, or nil when none is stored.
	FindByNumCode(num, code string) (*Invoice, error)

	// ListInvoices returns all invoices in insertion order.
	ListInvoices() ([]*Invoice, error)

	// ListItems returns an invoice's line items in row order.
	ListItems(invoiceID uint64) ([]*Item, error)

	// DeleteInvoice removes an invoice and cascades to its items.
	DeleteInvoice(id uint64) error

	// Clear removes all invoices and items.
	Clear() error

	// Close closes the database connection.
	Close() error
}

// BoltDB implements the DB interface using BoltDB.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(invoiceBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(itemBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// invoiceKey is the big-endian ID, so cursor order matches insertion order.
func invoiceKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

// itemKey prefixes the row with the owning invoice's key for prefix scans.
func itemKey(invoiceID uint64, row int) []byte {
	k := make([]byte, 12)
	binary.BigEndian.PutUint64(k, invoiceID)
	binary.BigEndian.PutUint32(k[8:], uint32(row))
	return k
}

// CreateInvoice persists an invoice and its items in one transaction.
func (b *BoltDB) CreateInvoice(inv *Invoice, items []*Item) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		invoices := tx.Bucket([]byte(invoiceBucketName))
		if inv.ID == 0 {
			id, err := invoices.NextSequence()
			if err != nil {
				return fmt.Errorf("assigning invoice id: %w", err)
			}
			inv.ID = id
		}

		data, err := json.Marshal(inv)
		if err != nil {
			return fmt.Errorf("marshaling invoice: %w", err)
		}
		if err := invoices.Put(invoiceKey(inv.ID), data); err != nil {
			return err
		}

		if err := deleteItemsTx(tx, inv.ID); err != nil {
			return err
		}
		itemBucket := tx.Bucket([]byte(itemBucketName))
		for _, it := range items {
			it.InvoiceID = inv.ID
			data, err := json.Marshal(it)
			if err != nil {
				return fmt.Errorf("marshaling item: %w", err)
			}
			if err := itemBucket.Put(itemKey(inv.ID, it.Row), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// deleteItemsTx removes every item owned by an invoice within a transaction.
func deleteItemsTx(tx *bbolt.Tx, invoiceID uint64) error {
	bucket := tx.Bucket([]byte(itemBucketName))
	c := bucket.Cursor()
	prefix := invoiceKey(invoiceID)
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if err := c.Delete(); err != nil {
			return err
		}
	}
	return nil
}

// GetInvoice retrieves an invoice by ID.
func (b *BoltDB) GetInvoice(id uint64) (*Invoice, error) {
	var inv *Invoice
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(invoiceBucketName)).Get(invoiceKey(id))
		if data == nil {
			return fmt.Errorf("invoice %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// FindByNumCode returns the stored invoice sharing both number and code, or
// nil when there is none. This is the dedup key lookup.
func (b *BoltDB) FindByNumCode(num, code string) (*Invoice, error) {
	var found *Invoice
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(invoiceBucketName)).ForEach(func(k, v []byte) error {
			var inv Invoice
			if err := json.Unmarshal(v, &inv); err != nil {
				return fmt.Errorf("unmarshaling invoice: %w", err)
			}
			if inv.InvNum == num && inv.InvCode == code {
				found = &inv
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ListInvoices returns all invoices in insertion order.
func (b *BoltDB) ListInvoices() ([]*Invoice, error) {
	invoices := make([]*Invoice, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(invoiceBucketName)).ForEach(func(k, v []byte) error {
			var inv Invoice
			if err := json.Unmarshal(v, &inv); err != nil {
				return fmt.Errorf("unmarshaling invoice: %w", err)
			}
			invoices = append(invoices, &inv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// ListItems returns an invoice's line items in row order.
func (b *BoltDB) ListItems(invoiceID uint64) ([]*Item, error) {
	items := make([]*Item, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(itemBucketName)).Cursor()
		prefix := invoiceKey(invoiceID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var it Item
			if err := json.Unmarshal(v, &it); err != nil {
				return fmt.Errorf("unmarshaling item: %w", err)
			}
			items = append(items, &it)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// DeleteInvoice removes an invoice and all of its items.
func (b *BoltDB) DeleteInvoice(id uint64) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		invoices := tx.Bucket([]byte(invoiceBucketName))
		if invoices.Get(invoiceKey(id)) == nil {
			return fmt.Errorf("invoice %d: %w", id, ErrNotFound)
		}
		if err := invoices.Delete(invoiceKey(id)); err != nil {
			return err
		}
		return deleteItemsTx(tx, id)
	})
}

// Clear removes all invoices and items, resetting the ID sequence.
func (b *BoltDB) Clear() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{invoiceBucketName, itemBucketName} {
			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return err
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database connection.
func (b *BoltDB) Close() error {
	return b.db.Close()
}
