package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.Format(time.DateOnly)
}

func formatQuantity(r models.Record) string {
	q := strconv.FormatFloat(r.Quantity, 'f', -1, 64)
	if r.Unit == "" {
		return q
	}
	return q + " " + r.Unit
}

// expiryText describes the expiry date relative to the calendar day of now.
func expiryText(exp *time.Time, now time.Time) string {
	if exp == nil {
		return "no expiry"
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	ey, em, ed := exp.Date()
	day := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	days := int(day.Sub(today).Hours() / 24)

	switch {
	case days < -1:
		return fmt.Sprintf("expired %d days ago", -days)
	case days == -1:
		return "expired yesterday"
	case days == 0:
		return "expires today"
	case days == 1:
		return "expires tomorrow"
	}
	return fmt.Sprintf("expires in %d days", days)
}

func formatRow(r models.Record, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-20s %-8s %-8s %s", shortID(r.ID), r.Name, formatQuantity(r), r.Location, expiryText(r.ExpiresAt, now))
	if r.Status != models.StatusActive && r.Status != "" {
		fmt.Fprintf(&b, "  [%s]", r.Status)
	}
	if r.HasPendingImage() {
		b.WriteString("  (image pending)")
	}
	return b.String()
}

func formatDetail(r models.Record, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID:        %s\n", r.ID)
	fmt.Fprintf(&b, "Name:      %s\n", r.Name)
	fmt.Fprintf(&b, "Quantity:  %s\n", formatQuantity(r))
	fmt.Fprintf(&b, "Location:  %s\n", r.Location)
	fmt.Fprintf(&b, "Expiry:    %s (%s)\n", formatDate(r.ExpiresAt), expiryText(r.ExpiresAt, now))
	fmt.Fprintf(&b, "Status:    %s\n", r.Status)
	if r.ConsumedAt != nil {
		fmt.Fprintf(&b, "Consumed:  %s\n", r.ConsumedAt.Format(time.DateOnly))
	}
	if r.GroupID != "" {
		fmt.Fprintf(&b, "Group:     %s\n", r.GroupID)
	}
	if r.Note != "" {
		fmt.Fprintf(&b, "Note:      %s\n", r.Note)
	}
	return b.String()
}
