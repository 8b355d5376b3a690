package wcn

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// RenderHistory turns structured rectification records into a readable
// report. Storage stays structured; this is presentation only.
func RenderHistory(entries []RectificationEntry) string {
	p := message.NewPrinter(language.English)
	var b strings.Builder
	for _, entry := range entries {
		p.Fprintf(&b, "Rectification #%d on %s by user %d\n",
			entry.Sequence, entry.PerformedAt.Format("2006-01-02 15:04"), entry.PerformedBy)
		if entry.Notes != "" {
			p.Fprintf(&b, "  Note: %s\n", entry.Notes)
		}
		for _, change := range entry.Changes {
			p.Fprintf(&b, "  Item %d (material %d): %s -> %s (%s)\n",
				change.ItemID, change.MaterialID, change.Before.String(), change.After.String(), change.Reason)
		}
	}
	return b.String()
}
