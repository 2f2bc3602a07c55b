// Package render composes the localized subject and body of registrant
// notifications.
package render

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/event-seat-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-seat-registration/internal/notify"
	"golang.org/x/text/message"
)

// Kind identifies one of the lifecycle notifications.
type Kind string

const (
	// KindRequest asks the registrant to confirm a new registration.
	KindRequest Kind = "request"
	// KindReminder repeats the request before the hold-back deadline.
	KindReminder Kind = "reminder"
	// KindConfirmation acknowledges a confirmed registration.
	KindConfirmation Kind = "confirmation"
	// KindExpiry tells the registrant the registration was dropped.
	KindExpiry Kind = "expiry"
)

// Kinds lists every notification kind in lifecycle order.
var Kinds = []Kind{KindRequest, KindReminder, KindConfirmation, KindExpiry}

const dateLayoutKey = "registration.date_layout"

// Localizer is the minimal message-printer contract required by the composer.
type Localizer interface {
	Sprintf(key message.Reference, args ...any) string
}

// Composer renders notifications in one language with links under a base URL.
type Composer struct {
	loc     Localizer
	baseURL string
}

// NewComposer returns a Composer for lang. Unsupported languages fall back
// to English.
func NewComposer(lang, baseURL string) *Composer {
	tag := message.MatchLanguage(lang, "en")
	return &Composer{
		loc:     message.NewPrinter(tag),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// NewComposerWithLocalizer returns a Composer backed by loc.
func NewComposerWithLocalizer(loc Localizer, baseURL string) *Composer {
	return &Composer{loc: loc, baseURL: strings.TrimRight(baseURL, "/")}
}

// ConfirmURL is the link a registrant follows to confirm.
func (c *Composer) ConfirmURL(token string) string {
	return c.baseURL + "/registrations/" + token + "/confirm"
}

// ManageURL is the link a registrant follows to view or change a registration.
func (c *Composer) ManageURL(token string) string {
	return c.baseURL + "/registrations/" + token
}

// Compose builds the message of the given kind for reg at now. reg must
// carry its Event.
func (c *Composer) Compose(kind Kind, reg *model.Registration, now time.Time) (notify.Message, error) {
	if reg == nil || reg.Event == nil {
		return notify.Message{}, errors.New("registration event is not loaded")
	}
	ev := reg.Event
	date := ev.Date.Format(c.dateLayout())

	var args []any
	switch kind {
	case KindRequest:
		args = []any{reg.GivenName, ev.Title, date, reg.Seats, hours(ev.HoldBackDelay), c.ConfirmURL(reg.Token), c.ManageURL(reg.Token)}
	case KindReminder:
		remaining := reg.CreatedAt.Add(ev.HoldBackDelay).Sub(now)
		args = []any{reg.GivenName, ev.Title, date, hours(remaining), c.ConfirmURL(reg.Token)}
	case KindConfirmation:
		args = []any{reg.GivenName, ev.Title, date, reg.Seats, c.ManageURL(reg.Token)}
	case KindExpiry:
		args = []any{reg.GivenName, ev.Title, date, hours(ev.HoldBackDelay)}
	default:
		return notify.Message{}, fmt.Errorf("unknown notification kind %q", kind)
	}

	subject, err := c.localize("registration."+string(kind)+".subject", ev.Title)
	if err != nil {
		return notify.Message{}, err
	}
	body, err := c.localize("registration."+string(kind)+".body", args...)
	if err != nil {
		return notify.Message{}, err
	}
	if kind == KindConfirmation && ev.AssignedSeats && len(reg.SeatNumbers) > 0 {
		seats, err := c.localize("registration.confirmation.seats", joinSeats(reg.SeatNumbers))
		if err != nil {
			return notify.Message{}, err
		}
		body += "\n\n" + seats
	}

	return notify.Message{To: reg.Email, Subject: subject, Body: body}, nil
}

func (c *Composer) localize(key string, args ...any) (string, error) {
	out := c.loc.Sprintf(key, args...)
	if out == "" || strings.HasPrefix(out, key) {
		return "", fmt.Errorf("missing template %q", key)
	}
	return out, nil
}

func (c *Composer) dateLayout() string {
	layout := c.loc.Sprintf(dateLayoutKey)
	if layout == dateLayoutKey || layout == "" {
		return "2006-01-02 15:04"
	}
	return layout
}

// hours rounds d up to whole hours, never below zero.
func hours(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours()))
}

func joinSeats(seats []int) string {
	parts := make([]string, len(seats))
	for i, n := range seats {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
