// Package history persists conversation transcripts keyed by session
// id.
package history

import (
	"context"
	"errors"
	"regexp"

	"github.com/stevegt/plex/client"
)

// Store saves and restores transcripts.  Load of an id that was never
// saved returns an empty transcript and no error.
type Store interface {
	Load(ctx context.Context, id string) ([]client.ChatMsg, error)
	Save(ctx context.Context, id string, msgs []client.ChatMsg) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

var (
	// ErrInvalidID is returned for session ids that are not safe to
	// use as a file name.
	ErrInvalidID = errors.New("invalid session id")
	// ErrNewerFormat is returned when a stored transcript was written
	// by a newer, incompatible version of plex.
	ErrNewerFormat = errors.New("transcript written by newer plex")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]*$`)

// ValidID reports whether id can be used as a session id.
func ValidID(id string) bool {
	return len(id) <= 128 && idPattern.MatchString(id)
}
