package table

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	conversionBucketName = "conversions"
	credentialBucketName = "credential"
	credentialKey        = "api_key"
)

// DB defines the interface for conversion-history operations
type DB interface {
	// SaveConversion saves a conversion to the database
	SaveConversion(conversion *Conversion) error

	// GetConversion retrieves a conversion by ID
	GetConversion(id string) (*Conversion, error)

	// ListConversions returns all conversions
	ListConversions() ([]*Conversion, error)

	// DeleteConversion removes a conversion from the database
	DeleteConversion(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB and CredentialStore interfaces using BoltDB. The
// credential shares the database file with the history so the application
// has a single durable store.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(conversionBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(credentialBucketName)); err != nil {
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

// SaveConversion saves a conversion to the database
func (b *BoltDB) SaveConversion(conversion *Conversion) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(conversionBucketName))
		data, err := json.Marshal(conversion)
		if err != nil {
			return fmt.Errorf("marshaling conversion: %w", err)
		}
		return bucket.Put([]byte(conversion.ID), data)
	})
}

// GetConversion retrieves a conversion by ID
func (b *BoltDB) GetConversion(id string) (*Conversion, error) {
	var conversion *Conversion
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(conversionBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("conversion not found: %s", id)
		}
		return json.Unmarshal(data, &conversion)
	})
	if err != nil {
		return nil, err
	}
	return conversion, nil
}

// ListConversions returns all conversions
func (b *BoltDB) ListConversions() ([]*Conversion, error) {
	conversions := make([]*Conversion, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(conversionBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var conversion Conversion
			if err := json.Unmarshal(v, &conversion); err != nil {
				return fmt.Errorf("unmarshaling conversion: %w", err)
			}
			conversions = append(conversions, &conversion)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return conversions, nil
}

// DeleteConversion removes a conversion from the database
func (b *BoltDB) DeleteConversion(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(conversionBucketName))
		return bucket.Delete([]byte(id))
	})
}

// Load retrieves the stored API key
func (b *BoltDB) Load() (string, error) {
	var key string
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(credentialBucketName))
		data := bucket.Get([]byte(credentialKey))
		if data == nil {
			return ErrNoCredential
		}
		key = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Save persists the API key, replacing any previous value
func (b *BoltDB) Save(key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(credentialBucketName))
		return bucket.Put([]byte(credentialKey), []byte(key))
	})
}

// Clear removes the stored API key
func (b *BoltDB) Clear() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(credentialBucketName))
		return bucket.Delete([]byte(credentialKey))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
