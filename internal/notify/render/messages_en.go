package render

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.English

	message.SetString(lang, dateLayoutKey, "Jan 2, 2006 at 15:04")

	message.SetString(lang, "registration.request.subject", "Please confirm your registration for %s")
	message.SetString(lang, "registration.request.body", `Hello %s,

we received your registration for "%s" on %s (%d seat(s)).

Please confirm it within %d hours, otherwise it will be cancelled:
%s

You can review or change your registration here:
%s`)

	message.SetString(lang, "registration.reminder.subject", "Reminder: confirm your registration for %s")
	message.SetString(lang, "registration.reminder.body", `Hello %s,

your registration for "%s" on %s is not confirmed yet.

It will be cancelled in about %d hours unless you confirm it:
%s`)

	message.SetString(lang, "registration.confirmation.subject", "Registration confirmed: %s")
	message.SetString(lang, "registration.confirmation.body", `Hello %s,

your registration for "%s" on %s is confirmed (%d seat(s)).

Manage your registration here:
%s`)
	message.SetString(lang, "registration.confirmation.seats", "Your seat numbers: %s")

	message.SetString(lang, "registration.expiry.subject", "Registration cancelled: %s")
	message.SetString(lang, "registration.expiry.body", `Hello %s,

your registration for "%s" on %s was not confirmed within %d hours and has been cancelled.
You are welcome to register again while seats are available.`)
}
