package kv

import (
	"time"

	. "github.com/stevegt/goadapt"
	bolt "go.etcd.io/bbolt"
)

// Db is a generic key-value database with buckets.  Keys and bucket
// names are strings; values are byte slices.  This struct is an
// adapter for bolt.
type Db struct {
	bdb *bolt.DB
}

// Open opens a database, creating it if it doesn't exist.  bolt
// allows one process per file, so Open waits up to timeout for
// another process to let go.
func Open(path string, timeout time.Duration) (db *Db, err error) {
	defer Return(&err)
	db = &Db{}
	opts := &bolt.Options{Timeout: timeout}
	db.bdb, err = bolt.Open(path, 0600, opts)
	Ck(err)
	return
}

// Close closes the db.
func (db *Db) Close() (err error) {
	defer Return(&err)
	err = db.bdb.Close()
	Ck(err)
	return
}

// View runs fn in a read-only transaction.
func (db *Db) View(fn func(tx *Tx) error) error {
	return db.bdb.View(func(btx *bolt.Tx) error {
		return fn(&Tx{btx})
	})
}

// Update runs fn in a read-write transaction, committing if fn
// returns nil.
func (db *Db) Update(fn func(tx *Tx) error) error {
	return db.bdb.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{btx})
	})
}

// Tx is a generic transaction.  This struct is an adapter for bolt.
type Tx struct {
	btx *bolt.Tx
}

// Put adds or replaces a record in the given bucket, creating the
// bucket if needed.
func (tx *Tx) Put(bucket string, key string, value []byte) (err error) {
	defer Return(&err)
	b, err := tx.MakeBucket(bucket)
	Ck(err)
	err = b.Put([]byte(key), value)
	Ck(err)
	return
}

// Get retrieves a record from the given bucket. Returns a nil value
// if the key or bucket does not exist or if the key is a nested
// bucket.  The value is copied, so it stays valid after the
// transaction ends.
func (tx *Tx) Get(bucket string, key string) (value []byte, err error) {
	b := tx.btx.Bucket([]byte(bucket))
	if b == nil {
		return
	}
	v := b.Get([]byte(key))
	if v == nil {
		return
	}
	value = make([]byte, len(v))
	copy(value, v)
	return
}

// Delete removes a record from the given bucket.  Deleting from a
// missing bucket is a no-op.
func (tx *Tx) Delete(bucket string, key string) (err error) {
	defer Return(&err)
	b := tx.btx.Bucket([]byte(bucket))
	if b == nil {
		return
	}
	err = b.Delete([]byte(key))
	Ck(err)
	return
}

// Keys returns all keys in the given bucket in byte order.  A
// missing bucket has no keys.
func (tx *Tx) Keys(bucket string) (keys []string, err error) {
	b := tx.btx.Bucket([]byte(bucket))
	if b == nil {
		return
	}
	err = b.ForEach(func(k, v []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	return
}

// MakeBucket creates a bucket if it does not exist.
func (tx *Tx) MakeBucket(bucket string) (b *bolt.Bucket, err error) {
	defer Return(&err)
	b, err = tx.btx.CreateBucketIfNotExists([]byte(bucket))
	Ck(err)
	return
}
