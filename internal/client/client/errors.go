package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

var (
	ErrUnavailable     = errors.New("server unavailable")
	ErrVersionConflict = errors.New("version conflict")
	ErrNotFound        = errors.New("note not found on server")
	ErrValidation      = errors.New("request rejected by server")
	ErrServer          = errors.New("server error")
	ErrUnauthorized    = errors.New("unauthorized")
)

// ConflictError reports a rejected update. Current is the server's copy
// when the transport returned one.
type ConflictError struct {
	Current *models.Note
}

func (e *ConflictError) Error() string {
	if e.Current != nil {
		return fmt.Sprintf("%s: server has version %d", ErrVersionConflict, e.Current.Version)
	}
	return ErrVersionConflict.Error()
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// VersionToken renders a note version as an entity tag.
func VersionToken(version int64) string {
	return `"v` + strconv.FormatInt(version, 10) + `"`
}

// ParseVersionToken extracts the version from an entity tag. Weak tags and
// unquoted forms are accepted.
func ParseVersionToken(token string) (int64, bool) {
	t := strings.TrimSpace(token)
	t = strings.TrimPrefix(t, "W/")
	t = strings.Trim(t, `"`)
	rest, ok := strings.CutPrefix(t, "v")
	if !ok || rest == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
