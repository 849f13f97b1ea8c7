package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/semver"

	"github.com/stevegt/plex/client"
	"github.com/stevegt/plex/kv"
)

const (
	// Bucket holds one record per session.
	Bucket = "transcripts"
	// FormatVersion is the version stamped on every stored record.
	FormatVersion = "1.0.0"
)

// envelope is the stored form of a transcript.
type envelope struct {
	Version  string
	Messages []client.ChatMsg
}

// BoltStore keeps all transcripts in a single bbolt file.
type BoltStore struct {
	db *kv.Db
}

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string) (s *BoltStore, err error) {
	defer Return(&err)
	db, err := kv.Open(path, 5*time.Second)
	Ck(err)
	s = &BoltStore{db: db}
	return
}

// Close releases the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// checkVersion rejects records from a newer major version.
func checkVersion(v string) (err error) {
	defer Return(&err)
	_, err = semver.Parse([]byte(v))
	Ck(err, "record version %q", v)
	if atoi(majorOf(v)) > atoi(majorOf(FormatVersion)) {
		err = fmt.Errorf("%w: record is version %s, this plex reads %s", ErrNewerFormat, v, FormatVersion)
	}
	return
}

func majorOf(v string) string {
	return strings.SplitN(strings.TrimPrefix(v, "v"), ".", 2)[0]
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Load reads the transcript for id.
func (s *BoltStore) Load(ctx context.Context, id string) (msgs []client.ChatMsg, err error) {
	defer Return(&err)
	Ck(ctx.Err())
	msgs = []client.ChatMsg{}
	var buf []byte
	err = s.db.View(func(tx *kv.Tx) (err error) {
		buf, err = tx.Get(Bucket, id)
		return
	})
	Ck(err)
	if buf == nil {
		return
	}
	var env envelope
	err = json.Unmarshal(buf, &env)
	Ck(err, "session %s", id)
	err = checkVersion(env.Version)
	if err != nil {
		return nil, err
	}
	if env.Messages != nil {
		msgs = env.Messages
	}
	return
}

// Save replaces the transcript for id.
func (s *BoltStore) Save(ctx context.Context, id string, msgs []client.ChatMsg) (err error) {
	defer Return(&err)
	Ck(ctx.Err())
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	env := envelope{Version: FormatVersion, Messages: msgs}
	if env.Messages == nil {
		env.Messages = []client.ChatMsg{}
	}
	buf, err := json.Marshal(env)
	Ck(err)
	err = s.db.Update(func(tx *kv.Tx) error {
		return tx.Put(Bucket, id, buf)
	})
	Ck(err)
	return
}

// Delete removes the transcript for id.
func (s *BoltStore) Delete(ctx context.Context, id string) (err error) {
	defer Return(&err)
	Ck(ctx.Err())
	err = s.db.Update(func(tx *kv.Tx) error {
		return tx.Delete(Bucket, id)
	})
	Ck(err)
	return
}

// List returns all stored session ids, sorted.
func (s *BoltStore) List(ctx context.Context) (ids []string, err error) {
	defer Return(&err)
	Ck(ctx.Err())
	err = s.db.View(func(tx *kv.Tx) (err error) {
		ids, err = tx.Keys(Bucket)
		return
	})
	Ck(err)
	sort.Strings(ids)
	return
}
