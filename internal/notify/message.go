package notify

import (
	"fmt"
	"strings"

	"recruitd.org/internal/domain"
)

// Message is the rendered form of an outbox event.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Render turns an event into a message for its recipient.
func Render(e domain.Event) Message {
	d := e.Data
	m := Message{To: e.Recipient}
	what := "station commander access"
	if domain.RequestKind(d["request_kind"]) == domain.RequestTransfer {
		what = "a station transfer"
	}
	var b strings.Builder
	switch e.Kind {
	case domain.EventRoleRequestCreated:
		m.Subject = fmt.Sprintf("%s requested %s", d["user_name"], what)
		fmt.Fprintf(&b, "%s <%s> requested %s.\n", d["user_name"], d["user_email"], what)
		if d["requested_station_id"] != d["current_station_id"] {
			fmt.Fprintf(&b, "From station %s to station %s.\n", orNone(d["current_station_id"]), d["requested_station_id"])
		} else {
			fmt.Fprintf(&b, "Station: %s\n", d["requested_station_id"])
		}
		if d["reason"] != "" {
			fmt.Fprintf(&b, "Reason: %s\n", d["reason"])
		}
		fmt.Fprintf(&b, "\nApprove: %s\nDeny: %s\n", d["approve_url"], d["deny_url"])
		fmt.Fprintf(&b, "These links expire at %s and work once.\n", d["expires_at"])
	case domain.EventRoleRequestApproved:
		m.Subject = "Your request was approved"
		fmt.Fprintf(&b, "Your request for %s was approved.\n", what)
		if d["notes"] != "" {
			fmt.Fprintf(&b, "Notes: %s\n", d["notes"])
		}
	case domain.EventRoleRequestDenied:
		m.Subject = "Your request was not approved"
		fmt.Fprintf(&b, "Your request for %s was not approved.\n", what)
		if d["notes"] != "" {
			fmt.Fprintf(&b, "Notes: %s\n", d["notes"])
		}
	case domain.EventSubmissionAttributed:
		m.Subject = fmt.Sprintf("New %s from %s", orDefault(d["kind"], "submission"), d["applicant_name"])
		fmt.Fprintf(&b, "%s came in through code %s.\n", d["applicant_name"], d["code"])
	default:
		m.Subject = string(e.Kind)
	}
	m.Body = b.String()
	return m
}

func orNone(s string) string { return orDefault(s, "none") }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
