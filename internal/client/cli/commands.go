package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
	"github.com/dmitrijs2005/pantrysync/internal/client/services"
)

// readFile is a test seam for os.ReadFile.
var readFile = os.ReadFile

var errAmbiguousID = errors.New("ambiguous id")

// resolveID expands a short id prefix against the active list. Input that
// matches nothing is returned unchanged.
func (a *App) resolveID(ctx context.Context, prefix string) (string, error) {
	v, err := a.records.List(ctx, a.engine.Query())
	if err != nil {
		return prefix, nil
	}
	var found []string
	for _, r := range v.Records {
		if r.ID == prefix {
			return prefix, nil
		}
		if strings.HasPrefix(r.ID, prefix) {
			found = append(found, r.ID)
		}
	}
	switch len(found) {
	case 0:
		return prefix, nil
	case 1:
		return found[0], nil
	}
	return "", fmt.Errorf("%w: %q matches %d records", errAmbiguousID, prefix, len(found))
}

func (a *App) List(ctx context.Context, args []string) error {
	q := a.engine.Query()
	for _, arg := range args {
		if st := models.Status(arg); st.Valid() {
			q.Status = st
			continue
		}
		l, err := ParseLocation(arg)
		if err != nil {
			return err
		}
		q.Location = l
	}

	v, err := a.records.List(ctx, q)
	if err != nil {
		return err
	}
	if len(v.Records) == 0 {
		fmt.Fprintln(a.out, "No records.")
		return nil
	}
	now := a.now()
	for _, r := range v.Records {
		fmt.Fprintln(a.out, formatRow(r, now))
	}
	if v.Stale {
		fmt.Fprintln(a.out, "(showing saved data)")
	}
	return nil
}

func (a *App) Show(ctx context.Context, id string) error {
	id, err := a.resolveID(ctx, id)
	if err != nil {
		return err
	}
	r, err := a.records.Get(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, formatDetail(r, a.now()))

	if r.ImageRef == "" {
		return nil
	}
	img, err := a.images.Resolve(ctx, r.ImageRef)
	if err != nil {
		fmt.Fprintln(a.out, "Image:     unavailable")
		return nil
	}
	switch img.Source {
	case services.ImageLocal:
		fmt.Fprintf(a.out, "Image:     %d bytes, waiting for upload\n", len(img.Data))
	case services.ImageRemote:
		fmt.Fprintf(a.out, "Image:     %s\n", img.URL)
	default:
		fmt.Fprintln(a.out, "Image:     not available")
	}
	return nil
}

func (a *App) Add(ctx context.Context) error {
	name, err := GetSimpleText(a.reader, "- Name", a.out)
	if err != nil {
		return err
	}
	expiry, err := a.askDate("- Expiry date (YYYY-MM-DD or +days)")
	if err != nil {
		return err
	}
	qty, err := GetSimpleText(a.reader, "- Quantity and unit (e.g. 2 l, empty for 1)", a.out)
	if err != nil {
		return err
	}
	amount, unit, err := ParseQuantity(qty)
	if err != nil {
		return err
	}
	loc, err := GetSimpleText(a.reader, "- Location (fridge, freezer, pantry, other)", a.out)
	if err != nil {
		return err
	}
	location, err := ParseLocation(loc)
	if err != nil {
		return err
	}
	note, err := GetMultiline(a.reader, "- Note", a.out)
	if err != nil {
		return err
	}

	scope := a.engine.Scope()
	r, err := a.records.Create(ctx, models.NewRecordInput{
		Name:      name,
		ExpiresAt: &expiry,
		Quantity:  amount,
		Unit:      unit,
		Location:  location,
		Note:      note,
		UserID:    scope.UserID,
		GroupID:   scope.GroupID,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Added %s (%s)\n", r.Name, shortID(r.ID))
	return nil
}

func (a *App) askDate(prompt string) (time.Time, error) {
	s, err := GetSimpleText(a.reader, prompt, a.out)
	if err != nil {
		return time.Time{}, err
	}
	return ParseDate(s, a.now())
}

// Edit prompts for each editable field. Empty input keeps the current value;
// "-" clears the expiry date.
func (a *App) Edit(ctx context.Context, id string) error {
	id, err := a.resolveID(ctx, id)
	if err != nil {
		return err
	}
	r, err := a.records.Get(ctx, id)
	if err != nil {
		return err
	}

	var p models.Patch
	ask := func(label, current string) (string, error) {
		return GetSimpleText(a.reader, fmt.Sprintf("- %s [%s]", label, current), a.out)
	}

	if s, err := ask("Name", r.Name); err != nil {
		return err
	} else if s != "" {
		p.Name = &s
	}

	if s, err := ask("Expiry date", formatDate(r.ExpiresAt)); err != nil {
		return err
	} else if s == "-" {
		p.ClearExpiry = true
	} else if s != "" {
		t, err := ParseDate(s, a.now())
		if err != nil {
			return err
		}
		p.ExpiresAt = &t
	}

	if s, err := ask("Quantity and unit", formatQuantity(r)); err != nil {
		return err
	} else if s != "" {
		q, unit, err := ParseQuantity(s)
		if err != nil {
			return err
		}
		p.Quantity = &q
		if unit != "" {
			p.Unit = &unit
		}
	}

	if s, err := ask("Location", string(r.Location)); err != nil {
		return err
	} else if s != "" {
		l, err := ParseLocation(s)
		if err != nil {
			return err
		}
		p.Location = &l
	}

	if s, err := ask("Note", r.Note); err != nil {
		return err
	} else if s != "" {
		p.Note = &s
	}

	if p.IsEmpty() {
		fmt.Fprintln(a.out, "Nothing changed.")
		return nil
	}
	updated, err := a.records.Update(ctx, id, p)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Updated %s\n", updated.Name)
	return nil
}

func (a *App) Consume(ctx context.Context, id string) error {
	return a.SetStatus(ctx, id, string(models.StatusConsumed))
}

func (a *App) SetStatus(ctx context.Context, id, status string) error {
	st, err := ParseStatus(status)
	if err != nil {
		return err
	}
	id, err = a.resolveID(ctx, id)
	if err != nil {
		return err
	}
	r, err := a.records.ChangeStatus(ctx, id, st)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s is now %s\n", r.Name, r.Status)
	return nil
}

func (a *App) Delete(ctx context.Context, id string, hard bool) error {
	id, err := a.resolveID(ctx, id)
	if err != nil {
		return err
	}
	if err := a.records.Delete(ctx, id, hard); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Deleted", shortID(id))
	return nil
}

func (a *App) Image(ctx context.Context, id, path string) error {
	id, err := a.resolveID(ctx, id)
	if err != nil {
		return err
	}
	data, err := readFile(path)
	if err != nil {
		return err
	}
	r, err := a.records.AttachImage(ctx, id, data, http.DetectContentType(data), filepath.Base(path))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Image attached to %s\n", r.Name)
	return nil
}

func (a *App) Pending(ctx context.Context) error {
	pending := a.engine.Pending()
	if len(pending) == 0 {
		fmt.Fprintln(a.out, "No queued changes.")
		return nil
	}
	for _, m := range pending {
		line := fmt.Sprintf("%-7s %s  attempts=%d", m.Kind, shortID(m.TargetID), m.Attempts)
		if m.LastError != "" {
			line += "  last error: " + m.LastError
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

func (a *App) Group(ctx context.Context, id string) error {
	a.engine.SetActiveGroup(ctx, id)
	return nil
}

func (a *App) Sync(ctx context.Context) error {
	mode, err := a.engine.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Mode: %s, %d queued changes\n", mode, len(a.engine.Pending()))
	return nil
}
