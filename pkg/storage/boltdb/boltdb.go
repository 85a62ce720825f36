// Package boltdb provides the persistent "secure" storage.Store tier, keeping its data
// in a single file database.
package boltdb

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"code.aegisid.org/golang/pkg/storage"
)

const (
	connectTimeout = 5 * time.Second
	kvBucket       = "kvTbl"

	kindString = 1
	kindInt    = 2
)

// record is the cbor encoding of a stored value.
type record struct {
	Kind int    `cbor:"1,keyasint"`
	Str  string `cbor:"2,keyasint,omitempty"`
	Int  int    `cbor:"3,keyasint,omitempty"`
}

type boltStore struct {
	dbpath string
}

// New returns a storage.Store implementation that persists values in a single file
// boltdb database. It errors if the database schema can not be created.
func New(dbpath string) (storage.Store, error) {
	kvStore := boltStore{dbpath: dbpath}

	db, err := bolt.Open(dbpath, 0600, &bolt.Options{Timeout: connectTimeout})
	if nil != err {
		return nil, wrapError(err, "failed connecting to database")
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(kvBucket))
		return wrapError(err, "failed %s bucket creation", kvBucket)
	})
	if nil != err {
		return nil, wrapError(err, "failed db initialization")
	}

	return kvStore, nil
}

// SetString persists value under key.
func (self boltStore) SetString(key string, value string) bool {
	return self.put(key, record{Kind: kindString, Str: value})
}

// SetInt persists value under key.
func (self boltStore) SetInt(key string, value int) bool {
	return self.put(key, record{Kind: kindInt, Int: value})
}

// GetString returns the string stored under key.
func (self boltStore) GetString(key string) (string, bool) {
	rec, found := self.get(key)
	if !found || kindString != rec.Kind {
		return "", false
	}

	return rec.Str, true
}

// GetInt returns the integer stored under key.
func (self boltStore) GetInt(key string) (int, bool) {
	rec, found := self.get(key)
	if !found || kindInt != rec.Kind {
		return 0, false
	}

	return rec.Int, true
}

// Remove deletes key.
func (self boltStore) Remove(key string) bool {
	db, err := bolt.Open(self.dbpath, 0600, &bolt.Options{Timeout: connectTimeout})
	if nil != err {
		return false
	}
	defer db.Close()

	var removed bool
	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kvBucket))
		if nil == bucket {
			return newError("missing %s bucket", kvBucket)
		}
		if nil == bucket.Get([]byte(key)) {
			return nil
		}
		err := bucket.Delete([]byte(key))
		if nil == err {
			removed = true
		}

		return err
	})

	return (nil == err) && removed
}

func (self boltStore) put(key string, rec record) bool {
	srzrec, err := cbor.Marshal(rec)
	if nil != err {
		return false
	}

	db, err := bolt.Open(self.dbpath, 0600, &bolt.Options{Timeout: connectTimeout})
	if nil != err {
		return false
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kvBucket))
		if nil == bucket {
			return newError("missing %s bucket", kvBucket)
		}

		return bucket.Put([]byte(key), srzrec)
	})

	return nil == err
}

func (self boltStore) get(key string) (record, bool) {
	var rec record

	db, err := bolt.Open(self.dbpath, 0600, &bolt.Options{Timeout: connectTimeout})
	if nil != err {
		return rec, false
	}
	defer db.Close()

	var found bool
	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kvBucket))
		if nil == bucket {
			return newError("missing %s bucket", kvBucket)
		}
		srzrec := bucket.Get([]byte(key))
		if nil == srzrec {
			return nil
		}
		err := cbor.Unmarshal(srzrec, &rec)
		if nil == err {
			found = true
		}

		return err
	})

	return rec, (nil == err) && found
}

var _ storage.Store = boltStore{}
