package kv

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/stevegt/goadapt"
)

var tmpDir string

func TestMain(m *testing.M) {
	// Create temporary directory
	var err error
	tmpDir, err = os.MkdirTemp("", "plex-kv")
	Ck(err)

	// Run tests
	exitCode := m.Run()

	// Remove temporary directory
	err = os.RemoveAll(tmpDir)
	Ck(err)

	// Exit with test status code
	os.Exit(exitCode)
}

func newDb(t *testing.T) (db *Db) {
	fn := filepath.Join(tmpDir, t.Name()+".db")
	db, err := Open(fn, time.Second)
	Tassert(t, err == nil, "open: %v", err)
	Tassert(t, db != nil)
	return
}

// As a caller, I want to put a record and get it back in a later
// transaction.  If the bucket doesn't exist, it should be created.
func TestPut(t *testing.T) {
	db := newDb(t)
	defer db.Close()

	err := db.Update(func(tx *Tx) error {
		return tx.Put("bucket1", "key1", []byte("Hello, world!"))
	})
	Tassert(t, err == nil)

	err = db.View(func(tx *Tx) error {
		data, err := tx.Get("bucket1", "key1")
		Tassert(t, err == nil)
		Tassert(t, string(data) == "Hello, world!")
		return nil
	})
	Tassert(t, err == nil)
}

// As a caller, I want a failed update to leave the db unchanged.
func TestUpdateRollsBack(t *testing.T) {
	db := newDb(t)
	defer db.Close()

	boom := errors.New("boom")
	err := db.Update(func(tx *Tx) error {
		err := tx.Put("bucket1", "key1", []byte("lost"))
		Tassert(t, err == nil)
		return boom
	})
	Tassert(t, err == boom, "got %v", err)

	err = db.View(func(tx *Tx) error {
		data, err := tx.Get("bucket1", "key1")
		Tassert(t, err == nil)
		Tassert(t, data == nil, "got %q", data)
		return nil
	})
	Tassert(t, err == nil)
}

// As a caller I want to be able to get a key from a non-existent
// bucket, and get back a nil value.
func TestGetNonExistentBucket(t *testing.T) {
	db := newDb(t)
	defer db.Close()

	err := db.View(func(tx *Tx) error {
		data, err := tx.Get("bucket99", "key99")
		Tassert(t, err == nil)
		Tassert(t, data == nil)
		return nil
	})
	Tassert(t, err == nil)
}

// As a caller, I want to be able to delete a key.  If the bucket
// or key doesn't exist, it should be a no-op.
func TestDelete(t *testing.T) {
	db := newDb(t)
	defer db.Close()

	err := db.Update(func(tx *Tx) error {
		Ck(tx.Put("bucket1", "key1", []byte("Hello, world!")))
		return tx.Delete("bucket1", "key1")
	})
	Tassert(t, err == nil, "%v", err)

	err = db.Update(func(tx *Tx) error {
		data, err := tx.Get("bucket1", "key1")
		Tassert(t, err == nil)
		Tassert(t, data == nil)
		// delete the data again
		Tassert(t, tx.Delete("bucket1", "key1") == nil)
		// delete data in a non-existent bucket
		return tx.Delete("bucket99", "key99")
	})
	Tassert(t, err == nil, "%v", err)
}

// As a caller, I want to be able to list all keys in a bucket.
func TestKeys(t *testing.T) {
	db := newDb(t)
	defer db.Close()

	err := db.Update(func(tx *Tx) error {
		for i := 1; i <= 4; i++ {
			Ck(tx.Put("bucket1", Spf("key%d", i), []byte("Hello, world!")))
		}
		return nil
	})
	Tassert(t, err == nil, "%v", err)

	err = db.View(func(tx *Tx) error {
		keys, err := tx.Keys("bucket1")
		Tassert(t, err == nil)
		Tassert(t, len(keys) == 4, "got %v", keys)
		for i, key := range keys {
			Tassert(t, key == Spf("key%d", i+1), "got %v", keys)
		}
		keys, err = tx.Keys("bucket99")
		Tassert(t, err == nil)
		Tassert(t, len(keys) == 0, "non-existent bucket has keys: %v", keys)
		return nil
	})
	Tassert(t, err == nil, "%v", err)
}

// Values returned by Get must survive the end of the transaction.
func TestGetCopies(t *testing.T) {
	db := newDb(t)
	defer db.Close()

	err := db.Update(func(tx *Tx) error {
		return tx.Put("b", "k", []byte("stable"))
	})
	Tassert(t, err == nil, "%v", err)
	var data []byte
	err = db.View(func(tx *Tx) (err error) {
		data, err = tx.Get("b", "k")
		return
	})
	Tassert(t, err == nil, "%v", err)
	Tassert(t, string(data) == "stable", "got %q", data)
}
