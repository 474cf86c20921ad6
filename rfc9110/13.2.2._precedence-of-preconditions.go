package rfc9110

import (
	"net/http"
)

// §  13.2.2.  Precedence of Preconditions
// §
// §     When more than one conditional request header field is present in a
// §     request, the order in which the fields are evaluated becomes
// §     important.  In practice, the fields defined in this document are
// §     consistently implemented in a single, logical order, since "lost
// §     update" preconditions have more strict requirements than cache
// §     validation, a validated cache is more efficient than a partial
// §     response, and entity tags are presumed to be more accurate than date
// §     validators.
// §
// §     A recipient cache or origin server MUST evaluate the request
// §     preconditions defined by this specification in the following order:
func evaluate(r *http.Request, v Validators) Outcome {
	// §     1.  When recipient is the origin server and If-Match is present,
	// §         evaluate the If-Match precondition:
	// §
	// §         *  if true, continue to step 3
	// §
	// §         *  if false, respond 412 (Precondition Failed) unless it can be
	// §            determined that the state-changing request has already
	// §            succeeded (see Section 13.1.1)
	if fieldPresent(r.Header, "If-Match") {
		if !ifMatch(r.Header, v.ETag) {
			return PreconditionFailed
		}
	} else if fieldPresent(r.Header, "If-Unmodified-Since") {
		// §     2.  When recipient is the origin server, If-Match is not present, and
		// §         If-Unmodified-Since is present, evaluate the If-Unmodified-Since
		// §         precondition:
		// §
		// §         *  if true, continue to step 3
		// §
		// §         *  if false, respond 412 (Precondition Failed) unless it can be
		// §            determined that the state-changing request has already
		// §            succeeded (see Section 13.1.4)
		if ok, applied := ifUnmodifiedSince(r.Header, v.LastModified); applied && !ok {
			return PreconditionFailed
		}
	}

	safe := r.Method == http.MethodGet || r.Method == http.MethodHead

	// §     3.  When If-None-Match is present, evaluate the If-None-Match
	// §         precondition:
	// §
	// §         *  if true, continue to step 5
	// §
	// §         *  if false for GET/HEAD, respond 304 (Not Modified)
	// §
	// §         *  if false for other methods, respond 412 (Precondition Failed)
	if fieldPresent(r.Header, "If-None-Match") {
		if !ifNoneMatch(r.Header, v.ETag) {
			if safe {
				return NotModified
			}
			return PreconditionFailed
		}
		return Proceed
	}

	// §     4.  When the method is GET or HEAD, If-None-Match is not present, and
	// §         If-Modified-Since is present, evaluate the If-Modified-Since
	// §         precondition:
	// §
	// §         *  if true, continue to step 5
	// §
	// §         *  if false, respond 304 (Not Modified)
	if safe && fieldPresent(r.Header, "If-Modified-Since") {
		if ok, applied := ifModifiedSince(r.Header, v.LastModified); applied && !ok {
			return NotModified
		}
	}

	// §     5.  When the method is GET and both Range and If-Range are present,
	// §         evaluate the If-Range precondition:
	//
	// Range requests are not served, so If-Range never applies.

	// §     6.  Otherwise,
	// §
	// §         *  perform the requested method and respond according to its
	// §            success or failure.
	return Proceed
}

func fieldPresent(header http.Header, field string) bool {
	return len(header.Values(field)) > 0
}
