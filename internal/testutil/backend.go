// Package testutil provides an in-memory notes backend and HTTP and gRPC
// front ends for it, so the client can be exercised end to end in tests.
package testutil

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

var (
	ErrNotFound = errors.New("not_found")
	ErrConflict = errors.New("version_conflict")
	ErrInvalid  = errors.New("validation_failed")
	ErrOffline  = errors.New("offline")
)

// Call records one mutating request the backend received.
type Call struct {
	Op       string
	ID       string
	Fields   models.Fields
	Version  int64
	Public   bool
	ClientID string
}

// Backend is a thread-safe fake of the notes service. Ids are decimal
// strings starting at 1, versions start at 1 and grow by one per update.
type Backend struct {
	mu       sync.Mutex
	nextID   int64
	notes    map[string]*models.Note
	calls    []Call
	offline  bool
	failures map[string][]error
	now      func() time.Time
}

func NewBackend() *Backend {
	return &Backend{
		notes:    make(map[string]*models.Note),
		failures: make(map[string][]error),
		now:      time.Now,
	}
}

// SetOffline makes every front end answer as if the server was unreachable.
func (b *Backend) SetOffline(offline bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offline = offline
}

func (b *Backend) Offline() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offline
}

// FailNext queues err as the outcome of the next op call ("create",
// "update", "delete", "publish", "get", "list").
func (b *Backend) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = append(b.failures[op], err)
}

func (b *Backend) injected(op string) error {
	q := b.failures[op]
	if len(q) == 0 {
		return nil
	}
	b.failures[op] = q[1:]
	return q[0]
}

// Seed stores a copy of n as if it had been created earlier. A missing ID
// or Version is filled in.
func (b *Backend) Seed(n *models.Note) *models.Note {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := n.Clone()
	if c.ID == "" {
		b.nextID++
		c.ID = strconv.FormatInt(b.nextID, 10)
	} else if id, err := strconv.ParseInt(c.ID, 10, 64); err == nil && id > b.nextID {
		b.nextID = id
	}
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Slug == "" {
		c.Slug = b.uniqueSlug(c.Title, c.ID)
	}
	if c.UpdatedAt == "" {
		c.UpdatedAt = models.Timestamp(b.now())
	}
	b.notes[c.ID] = c
	return c.Clone()
}

// Calls returns the mutating requests received so far.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

// CallsFor returns the recorded calls of one operation.
func (b *Backend) CallsFor(op string) []Call {
	var out []Call
	for _, c := range b.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Note returns a copy of the stored note.
func (b *Backend) Note(id string) (*models.Note, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.notes[id]
	return n.Clone(), ok
}

func (b *Backend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.notes)
}

func (b *Backend) guard(op string) error {
	if b.offline {
		return ErrOffline
	}
	return b.injected(op)
}

func (b *Backend) List() (*models.NoteList, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.guard("list"); err != nil {
		return nil, err
	}

	notes := make([]*models.Note, 0, len(b.notes))
	tagSet := map[string]struct{}{}
	for _, n := range b.notes {
		notes = append(notes, n)
		for _, t := range n.Tags {
			tagSet[t] = struct{}{}
		}
	}
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].UpdatedAt != notes[j].UpdatedAt {
			return notes[i].UpdatedAt > notes[j].UpdatedAt
		}
		return notes[i].ID > notes[j].ID
	})

	list := &models.NoteList{Notes: make([]models.NoteSummary, 0, len(notes))}
	for _, n := range notes {
		list.Notes = append(list.Notes, n.Summary())
	}
	for t := range tagSet {
		list.Tags = append(list.Tags, t)
	}
	slices.Sort(list.Tags)
	return list, nil
}

func (b *Backend) Get(id, slug string) (*models.Note, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.guard("get"); err != nil {
		return nil, err
	}

	if id != "" {
		n, ok := b.notes[id]
		if !ok {
			return nil, ErrNotFound
		}
		return n.Clone(), nil
	}
	for _, n := range b.notes {
		if n.Slug == slug {
			return n.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (b *Backend) Create(f models.Fields, clientID string) (*models.Note, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.guard("create"); err != nil {
		return nil, err
	}
	b.calls = append(b.calls, Call{Op: "create", Fields: cloneFields(f), ClientID: clientID})

	if strings.TrimSpace(f.Title) == "" || f.Content == "" {
		return nil, fmt.Errorf("%w: title and content are required", ErrInvalid)
	}

	b.nextID++
	id := strconv.FormatInt(b.nextID, 10)
	now := models.Timestamp(b.now())
	n := &models.Note{
		ID:        id,
		Slug:      b.uniqueSlug(firstNonEmpty(f.Slug, f.Title), id),
		Title:     strings.TrimSpace(f.Title),
		Content:   f.Content,
		Tags:      slices.Clone(f.Tags),
		Version:   1,
		UpdatedAt: now,
		CreatedAt: now,
	}
	b.notes[id] = n
	return n.Clone(), nil
}

func (b *Backend) Update(id string, f models.Fields, expected int64, clientID string) (*models.Note, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.guard("update"); err != nil {
		return nil, err
	}
	b.calls = append(b.calls, Call{Op: "update", ID: id, Fields: cloneFields(f), Version: expected, ClientID: clientID})

	if expected <= 0 {
		return nil, fmt.Errorf("%w: missing expected version", ErrInvalid)
	}
	n, ok := b.notes[id]
	if !ok {
		return nil, ErrNotFound
	}
	if n.Version != expected {
		return n.Clone(), ErrConflict
	}

	n.Title = f.Title
	n.Content = f.Content
	n.Tags = slices.Clone(f.Tags)
	if f.Slug != "" && f.Slug != n.Slug {
		n.Slug = b.uniqueSlug(f.Slug, id)
	}
	n.Version++
	n.UpdatedAt = models.Timestamp(b.now())
	return n.Clone(), nil
}

func (b *Backend) Delete(id, clientID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.guard("delete"); err != nil {
		return err
	}
	b.calls = append(b.calls, Call{Op: "delete", ID: id, ClientID: clientID})

	if _, ok := b.notes[id]; !ok {
		return ErrNotFound
	}
	delete(b.notes, id)
	return nil
}

func (b *Backend) SetVisibility(id string, public bool, clientID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.guard("publish"); err != nil {
		return false, err
	}
	b.calls = append(b.calls, Call{Op: "publish", ID: id, Public: public, ClientID: clientID})

	n, ok := b.notes[id]
	if !ok {
		return false, ErrNotFound
	}
	n.IsPublic = public
	return public, nil
}

func (b *Backend) uniqueSlug(source, id string) string {
	base := Slugify(source)
	if base == "" {
		base = "note-" + id
	}
	slug := base
	for i := 2; ; i++ {
		taken := false
		for _, n := range b.notes {
			if n.Slug == slug && n.ID != id {
				taken = true
				break
			}
		}
		if !taken {
			return slug
		}
		slug = base + "-" + strconv.Itoa(i)
	}
}

// Slugify lowercases s and joins its alphanumeric runs with dashes.
func Slugify(s string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			dash = false
			continue
		}
		if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(sb.String(), "-")
}

func cloneFields(f models.Fields) models.Fields {
	f.Tags = slices.Clone(f.Tags)
	return f
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
