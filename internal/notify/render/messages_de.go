package render

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.German

	message.SetString(lang, dateLayoutKey, "02.01.2006 um 15:04 Uhr")

	message.SetString(lang, "registration.request.subject", "Bitte bestätigen Sie Ihre Anmeldung für %s")
	message.SetString(lang, "registration.request.body", `Hallo %s,

wir haben Ihre Anmeldung für „%s“ am %s erhalten (%d Platz/Plätze).

Bitte bestätigen Sie sie innerhalb von %d Stunden, sonst wird sie storniert:
%s

Ihre Anmeldung können Sie hier einsehen oder ändern:
%s`)

	message.SetString(lang, "registration.reminder.subject", "Erinnerung: Anmeldung für %s bestätigen")
	message.SetString(lang, "registration.reminder.body", `Hallo %s,

Ihre Anmeldung für „%s“ am %s ist noch nicht bestätigt.

Sie wird in etwa %d Stunden storniert, wenn Sie sie nicht bestätigen:
%s`)

	message.SetString(lang, "registration.confirmation.subject", "Anmeldung bestätigt: %s")
	message.SetString(lang, "registration.confirmation.body", `Hallo %s,

Ihre Anmeldung für „%s“ am %s ist bestätigt (%d Platz/Plätze).

Hier können Sie Ihre Anmeldung verwalten:
%s`)
	message.SetString(lang, "registration.confirmation.seats", "Ihre Platznummern: %s")

	message.SetString(lang, "registration.expiry.subject", "Anmeldung storniert: %s")
	message.SetString(lang, "registration.expiry.body", `Hallo %s,

Ihre Anmeldung für „%s“ am %s wurde nicht innerhalb von %d Stunden bestätigt und wurde storniert.
Solange Plätze frei sind, können Sie sich gerne erneut anmelden.`)
}
