package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/notesync/internal/client/client"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/services"
)

var errNoNote = errors.New("no note selected, pass an id or slug")

func (a *App) List(ctx context.Context) error {
	res, err := a.notes.List(ctx)
	if err != nil {
		return a.fail(err)
	}
	if res.FromCache {
		saved := "never"
		if !res.List.SavedAt.IsZero() {
			saved = res.List.SavedAt.Local().Format("2006-01-02 15:04")
		}
		a.printf("(offline, list saved %s)\n", saved)
	}
	if len(res.List.Notes) == 0 {
		a.printf("No notes.\n")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSLUG\tTITLE\tTAGS\tPUBLIC\tVERSION")
	for _, n := range res.List.Notes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			n.ID, n.Slug, n.Title, strings.Join(n.Tags, ","), yesNo(n.IsPublic), n.Version)
	}
	return tw.Flush()
}

func (a *App) Show(ctx context.Context, ref string) error {
	note, err := a.lookup(ctx, ref)
	if err != nil {
		return a.fail(err)
	}
	a.setCurrent(note)
	a.printNote(note)
	return nil
}

func (a *App) New(ctx context.Context) error {
	title, err := GetSimpleText(a.reader, "Title", a.out)
	if err != nil {
		return a.fail(err)
	}
	content, err := GetMultiline(a.reader, "Content", a.out)
	if err != nil {
		return a.fail(err)
	}
	tags, err := GetSimpleText(a.reader, "Tags (comma separated)", a.out)
	if err != nil {
		return a.fail(err)
	}
	public, err := GetYesNo(a.reader, "Publish?", a.out)
	if err != nil {
		return a.fail(err)
	}

	note, err := a.notes.Create(ctx, models.Fields{
		Title:   title,
		Content: content,
		Tags:    models.ParseTags(tags),
	}, public)
	if err != nil {
		return a.fail(err)
	}
	a.setCurrent(note)
	a.report("Created", note)
	return nil
}

func (a *App) Edit(ctx context.Context, ref string) error {
	note, err := a.lookup(ctx, ref)
	if err != nil {
		return a.fail(err)
	}

	fields := models.Fields{Title: note.Title, Content: note.Content, Tags: note.Tags, Slug: note.Slug}
	if v, err := GetSimpleText(a.reader, fmt.Sprintf("Title [%s]", note.Title), a.out); err != nil {
		return a.fail(err)
	} else if v != "" {
		fields.Title = v
	}
	if v, err := GetMultiline(a.reader, "Content (empty keeps the current text)", a.out); err != nil {
		return a.fail(err)
	} else if v != "" {
		fields.Content = v
	}
	if v, err := GetSimpleText(a.reader, fmt.Sprintf("Tags [%s]", strings.Join(note.Tags, ",")), a.out); err != nil {
		return a.fail(err)
	} else if v != "" {
		fields.Tags = models.ParseTags(v)
	}
	if note.IsTemp() {
		fields.Slug = ""
	}

	saved, err := a.notes.Save(ctx, note, fields)
	if errors.Is(err, services.ErrReloadRequired) {
		if saved != nil {
			a.setCurrent(saved)
		}
		a.printf("The note was changed elsewhere; your edit was not saved. Reloaded version %d.\n", versionOf(saved))
		return err
	}
	if err != nil {
		return a.fail(err)
	}
	a.setCurrent(saved)
	a.report("Saved", saved)
	return nil
}

func (a *App) Delete(ctx context.Context, ref string) error {
	note, err := a.lookup(ctx, ref)
	if err != nil {
		return a.fail(err)
	}
	if err := a.notes.Delete(ctx, note); err != nil {
		return a.fail(err)
	}

	a.mu.Lock()
	if a.current != nil && a.current.Key() == note.Key() {
		a.current = nil
	}
	a.mu.Unlock()

	a.printf("Deleted %s\n", note.Key())
	return nil
}

func (a *App) Publish(ctx context.Context, ref string, public bool) error {
	note, err := a.lookup(ctx, ref)
	if err != nil {
		return a.fail(err)
	}
	updated, err := a.notes.SetVisibility(ctx, note, public)
	if err != nil {
		return a.fail(err)
	}
	a.setCurrent(updated)
	if public {
		a.report("Published", updated)
	} else {
		a.report("Unpublished", updated)
	}
	return nil
}

// Sync starts a drain in the background. The result is printed when it
// finishes.
func (a *App) Sync(ctx context.Context) error {
	if a.sync.State() == services.StateDraining {
		a.printf("Sync already running.\n")
		return nil
	}
	a.notes.SetOnline(true)

	a.syncing.Add(1)
	go func() {
		defer a.syncing.Done()
		res, err := a.notes.Sync(ctx)
		a.printDrain(res, err)
	}()
	return nil
}

// Stop asks a running sync to stop after the entry in flight.
func (a *App) Stop(ctx context.Context) error {
	if a.sync.State() != services.StateDraining {
		a.printf("No sync running.\n")
		return nil
	}
	a.sync.RequestStop()
	a.printf("Stopping sync...\n")
	return nil
}

func (a *App) Pending(ctx context.Context) error {
	n, err := a.notes.Pending(ctx)
	if err != nil {
		return a.fail(err)
	}
	a.setPending(n)
	a.printf("%d pending change(s)\n", n)
	return nil
}

func (a *App) Outbox(ctx context.Context) error {
	entries, err := a.sync.Pending(ctx)
	if err != nil {
		return a.fail(err)
	}
	if len(entries) == 0 {
		a.printf("Outbox is empty.\n")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tACTION\tNOTE\tQUEUED")
	for _, e := range entries {
		target, action := "-", string(e.Action)
		if e.Payload != nil {
			target = e.Payload.Target()
		}
		if e.Malformed != nil {
			action = "malformed"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Seq, action, target, e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func (a *App) Stats(ctx context.Context) error {
	samples, err := a.metrics.Snapshot()
	if err != nil {
		return a.fail(err)
	}
	for _, s := range samples {
		a.printf("%-60s %g\n", s.Name, s.Value)
	}
	return nil
}

// lookup resolves ref as an id first and as a slug second. An empty ref
// selects the current note.
func (a *App) lookup(ctx context.Context, ref string) (*models.Note, error) {
	if ref == "" {
		if cur := a.Current(); cur != nil {
			ref = cur.Key()
		} else {
			return nil, errNoNote
		}
	}

	res, err := a.notes.Get(ctx, ref)
	if err == nil {
		return res.Note, nil
	}
	if !errors.Is(err, client.ErrNotFound) && !errors.Is(err, services.ErrNotCached) {
		return nil, err
	}
	if res, err = a.notes.GetBySlug(ctx, ref); err != nil {
		return nil, err
	}
	return res.Note, nil
}

func (a *App) report(verb string, n *models.Note) {
	if n.IsTemp() {
		a.printf("%s %s locally, will sync when online.\n", verb, n.TempID)
		return
	}
	a.printf("%s %s (version %d).\n", verb, n.ID, n.Version)
}

func (a *App) printNote(n *models.Note) {
	a.printf("# %s\n", n.Title)
	a.printf("id: %s  slug: %s  version: %d  public: %s\n", n.Key(), n.Slug, n.Version, yesNo(n.IsPublic))
	if len(n.Tags) > 0 {
		a.printf("tags: %s\n", strings.Join(n.Tags, ", "))
	}
	if n.UpdatedAt != "" {
		a.printf("updated: %s\n", n.UpdatedAt)
	}
	a.printf("\n%s\n", n.Content)
}

func (a *App) printDrain(res *services.DrainResult, err error) {
	switch {
	case res == nil:
		a.printf("Sync failed: %v\n", err)
		return
	case res.Skipped:
		a.printf("Sync already running.\n")
		return
	}

	a.printf("Synced %d change(s), %d pending.\n", res.Processed, res.Remaining)
	for _, c := range res.Conflicts {
		a.printf("Conflict on note %s: your edit was discarded in favour of the server version %d.\n",
			c.NoteID, versionOf(c.Current))
	}
	for _, w := range res.Warnings {
		a.printf("Warning: %s\n", w)
	}
	if res.Halted {
		a.printf("Sync halted (%s): %v\n", haltReason(res), err)
	}
}

func haltReason(res *services.DrainResult) string {
	if errors.Is(res.HaltReason, services.ErrDrainStopped) {
		return "stopped"
	}
	return string(res.Failure)
}

func (a *App) fail(err error) error {
	a.printf("Error: %v\n", err)
	return err
}

func versionOf(n *models.Note) int64 {
	if n == nil {
		return 0
	}
	return n.Version
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
