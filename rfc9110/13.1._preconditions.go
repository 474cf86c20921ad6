package rfc9110

import (
	"net/http"
	"time"

	"github.com/always-cache/record-resolver/pkg/etag"
)

// §  13.1.  Preconditions
// §
// §     Preconditions are usually defined with respect to a state of the
// §     target resource as a whole (its current value set) or the state as
// §     observed in a previously obtained representation (one value in that
// §     set).

// §  13.1.1.  If-Match
// §
// §     When an origin server receives a request that selects a
// §     representation and that request includes an If-Match header field,
// §     the origin server MUST evaluate the If-Match condition per
// §     Section 13.2 prior to performing the method.
// §
// §     To evaluate a received If-Match header field:
// §
// §     1.  If the field value is "*", the condition is true if the origin
// §         server has a current representation for the target resource.
// §
// §     2.  If the field value is a list of entity tags, the condition is
// §         true if any of the listed tags match the entity tag of the
// §         selected representation.
// §
// §     3.  Otherwise, the condition is false.
// §
// §     An origin server MUST use the strong comparison function when
// §     comparing entity tags for If-Match (Section 8.8.3.2), since the
// §     client intends this precondition to prevent the method from being
// §     applied if there have been any changes to the representation data.
func ifMatch(header http.Header, current etag.ETag) bool {
	tags, any, err := etag.ParseList(header.Values("If-Match"))
	if err != nil {
		return false
	}
	if any {
		return true
	}
	if current.IsZero() {
		return false
	}
	for _, tag := range tags {
		if etag.StrongCompare(tag, current) {
			return true
		}
	}
	return false
}

// §  13.1.2.  If-None-Match
// §
// §     To evaluate a received If-None-Match header field:
// §
// §     1.  If the field value is "*", the condition is false if the origin
// §         server has a current representation for the target resource.
// §
// §     2.  If the field value is a list of entity tags, the condition is
// §         false if one of the listed tags matches the entity tag of the
// §         selected representation.
// §
// §     3.  Otherwise, the condition is true.
// §
// §     A recipient MUST use the weak comparison function when comparing
// §     entity tags for If-None-Match (Section 8.8.3.2), since weak entity
// §     tags can be used for cache validation even if there have been changes
// §     to the representation data.
func ifNoneMatch(header http.Header, current etag.ETag) bool {
	tags, any, err := etag.ParseList(header.Values("If-None-Match"))
	if err != nil {
		// an unparsable list cannot match anything
		return true
	}
	if any {
		return false
	}
	if current.IsZero() {
		return true
	}
	for _, tag := range tags {
		if etag.WeakCompare(tag, current) {
			return false
		}
	}
	return true
}

// §  13.1.3.  If-Modified-Since
// §
// §     A recipient MUST ignore If-Modified-Since if the request contains an
// §     If-None-Match header field; the condition in If-None-Match is
// §     considered to be a more accurate replacement for the condition in
// §     If-Modified-Since, and the two are only combined for the sake of
// §     interoperating with older intermediaries that might not implement
// §     If-None-Match.
// §
// §     A recipient MUST ignore the If-Modified-Since header field if the
// §     received field value is not a valid HTTP-date, the field value has
// §     more than one member, or if the request method is neither GET nor
// §     HEAD.
// §
// §     To evaluate a received If-Modified-Since header field:
// §
// §     1.  If the selected representation's last modification date is
// §         earlier or equal to the date provided in the field value, the
// §         condition is false.
// §
// §     2.  Otherwise, the condition is true.
//
// The second return value is false when the field must be ignored.
func ifModifiedSince(header http.Header, lastModified time.Time) (bool, bool) {
	since, ok := singleDate(header, "If-Modified-Since")
	if !ok || lastModified.IsZero() {
		return true, false
	}
	return lastModified.Truncate(time.Second).After(since), true
}

// §  13.1.4.  If-Unmodified-Since
// §
// §     A recipient MUST ignore If-Unmodified-Since if the request contains
// §     an If-Match header field; the condition in If-Match is considered to
// §     be a more accurate replacement for the condition in If-Unmodified-
// §     Since, and the two are only combined for the sake of interoperating
// §     with older intermediaries that might not implement If-Match.
// §
// §     A recipient MUST ignore the If-Unmodified-Since header field if the
// §     received field value is not a valid HTTP-date (including when the
// §     field value appears to be a list of dates).
// §
// §     To evaluate a received If-Unmodified-Since header field:
// §
// §     1.  If the selected representation's last modification date is
// §         earlier than or equal to the date provided in the field value,
// §         the condition is true.
// §
// §     2.  Otherwise, the condition is false.
//
// The second return value is false when the field must be ignored.
func ifUnmodifiedSince(header http.Header, lastModified time.Time) (bool, bool) {
	since, ok := singleDate(header, "If-Unmodified-Since")
	if !ok || lastModified.IsZero() {
		return true, false
	}
	return !lastModified.Truncate(time.Second).After(since), true
}

// singleDate returns the date in a date-valued field,
// or false if the field is absent, repeated or not a valid HTTP-date.
func singleDate(header http.Header, field string) (time.Time, bool) {
	values := header.Values(field)
	if len(values) != 1 {
		return time.Time{}, false
	}
	date, err := HttpDate(values[0])
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}
