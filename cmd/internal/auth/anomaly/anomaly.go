// Package anomaly flags logins whose network origin diverges from the
// account's last known origin.
//
// The country for an IP comes from an external Resolver. Lookups are bounded by
// a timeout and never fail a login: any failure degrades to UnknownCountry.
package anomaly

import "errors"

// UnknownCountry is used whenever the country cannot be resolved.
const UnknownCountry = "Unknown"

// ErrLookupUnavailable marks a failed or timed-out origin lookup. It is logged,
// never returned to login callers.
var ErrLookupUnavailable = errors.New("origin lookup unavailable")

// Origin is a network origin.
type Origin struct {
	IP      string
	Country string
}

// Known reports whether the origin has been recorded.
func (o Origin) Known() bool { return o.IP != "" || o.Country != "" }

// Classify reports whether cur is suspicious relative to prev.
//
// Both the IP and the country must differ from a recorded previous value.
// A first login (nothing recorded) is never suspicious. An unresolved current
// country counts as different.
func Classify(prev, cur Origin) bool {
	ipChanged := prev.IP != "" && prev.IP != cur.IP
	countryChanged := prev.Country != "" && prev.Country != cur.Country
	return ipChanged && countryChanged
}
