package certificate

import (
	"fmt"
	"time"

	"ipproof-backend/internal/features/ipproof/models"
)

const (
	maxFileNameRunes = 50
	dateLayout       = "January 2, 2006 at 15:04 UTC"
)

var sizeUnits = []string{"KB", "MB", "GB"}

// FormatFileSize renders n with 1024-based units: bytes below 1 KB, two
// decimals above.
func FormatFileSize(n int64) string {
	if n < 0 {
		n = 0
	}
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	value := float64(n) / 1024
	i := 0
	for value >= 1024 && i < len(sizeUnits)-1 {
		value /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", value, sizeUnits[i])
}

// TruncateFileName shortens names longer than 50 runes to 47 runes plus "...".
func TruncateFileName(name string) string {
	r := []rune(name)
	if len(r) <= maxFileNameRunes {
		return name
	}
	return string(r[:maxFileNameRunes-3]) + "..."
}

// FormatDate renders t in UTC, e.g. "April 20, 2024 at 00:09 UTC".
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

type rgb struct{ r, g, b int }

func statusColor(s models.Status) rgb {
	switch s {
	case models.StatusPending:
		return rgb{245, 158, 11}
	case models.StatusAnchoring:
		return rgb{59, 130, 246}
	case models.StatusConfirmed:
		return rgb{16, 185, 129}
	}
	return rgb{107, 114, 128}
}

func statusLabel(s models.Status) string {
	switch s {
	case models.StatusPending:
		return "Pending"
	case models.StatusAnchoring:
		return "Anchoring"
	case models.StatusConfirmed:
		return "Confirmed"
	}
	return "Unknown"
}
