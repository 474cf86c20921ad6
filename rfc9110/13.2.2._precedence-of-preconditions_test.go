package rfc9110

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/always-cache/record-resolver/pkg/etag"
	"github.com/stretchr/testify/assert"
)

var (
	modified   = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	validators = Validators{
		ETag:         etag.Strong("v1"),
		LastModified: modified,
	}
)

func request(method string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(method, "/notes/1", nil)
	for name, value := range headers {
		r.Header.Set(name, value)
	}
	return r
}

func TestNoPreconditions(t *testing.T) {
	assert.Equal(t, Proceed, EvaluatePreconditions(request("GET", nil), validators))
}

func TestIfNoneMatch(t *testing.T) {
	cases := []struct {
		method string
		value  string
		want   Outcome
	}{
		{"GET", `"v1"`, NotModified},
		{"HEAD", `W/"v1"`, NotModified},
		{"GET", `"v0", "v1"`, NotModified},
		{"GET", `"v0"`, Proceed},
		{"GET", `*`, NotModified},
		{"PUT", `"v1"`, PreconditionFailed},
		{"PUT", `*`, PreconditionFailed},
		{"GET", `garbage`, Proceed},
	}
	for _, c := range cases {
		r := request(c.method, map[string]string{"If-None-Match": c.value})
		assert.Equal(t, c.want, EvaluatePreconditions(r, validators), "%s %s", c.method, c.value)
	}
}

func TestIfNoneMatchWithoutEtag(t *testing.T) {
	r := request("GET", map[string]string{"If-None-Match": `""`})
	assert.Equal(t, Proceed, EvaluatePreconditions(r, Validators{LastModified: modified}))
}

func TestIfMatch(t *testing.T) {
	cases := []struct {
		value string
		want  Outcome
	}{
		{`"v1"`, Proceed},
		{`*`, Proceed},
		{`W/"v1"`, PreconditionFailed},
		{`"v0"`, PreconditionFailed},
		{`garbage`, PreconditionFailed},
	}
	for _, c := range cases {
		r := request("PUT", map[string]string{"If-Match": c.value})
		assert.Equal(t, c.want, EvaluatePreconditions(r, validators), c.value)
	}
}

func TestIfMatchWeakValidator(t *testing.T) {
	r := request("PUT", map[string]string{"If-Match": `W/"v1"`})
	assert.Equal(t, PreconditionFailed, EvaluatePreconditions(r, Validators{ETag: etag.Weak("v1")}))
}

func TestIfModifiedSince(t *testing.T) {
	cases := []struct {
		method string
		value  string
		want   Outcome
	}{
		{"GET", "Mon, 01 Jan 2024 00:00:00 GMT", NotModified},
		{"GET", "Tue, 02 Jan 2024 00:00:00 GMT", NotModified},
		{"GET", "Sun, 31 Dec 2023 00:00:00 GMT", Proceed},
		{"GET", "not a date", Proceed},
		{"PUT", "Tue, 02 Jan 2024 00:00:00 GMT", Proceed},
	}
	for _, c := range cases {
		r := request(c.method, map[string]string{"If-Modified-Since": c.value})
		assert.Equal(t, c.want, EvaluatePreconditions(r, validators), "%s %s", c.method, c.value)
	}
}

func TestIfModifiedSinceSubsecondPrecision(t *testing.T) {
	v := Validators{LastModified: modified.Add(500 * time.Millisecond)}
	r := request("GET", map[string]string{"If-Modified-Since": "Mon, 01 Jan 2024 00:00:00 GMT"})
	assert.Equal(t, NotModified, EvaluatePreconditions(r, v))
}

func TestIfModifiedSinceWithoutLastModified(t *testing.T) {
	r := request("GET", map[string]string{"If-Modified-Since": "Tue, 02 Jan 2024 00:00:00 GMT"})
	assert.Equal(t, Proceed, EvaluatePreconditions(r, Validators{ETag: etag.Strong("v1")}))
}

func TestIfUnmodifiedSince(t *testing.T) {
	ok := request("PUT", map[string]string{"If-Unmodified-Since": "Mon, 01 Jan 2024 00:00:00 GMT"})
	assert.Equal(t, Proceed, EvaluatePreconditions(ok, validators))

	stale := request("PUT", map[string]string{"If-Unmodified-Since": "Sun, 31 Dec 2023 00:00:00 GMT"})
	assert.Equal(t, PreconditionFailed, EvaluatePreconditions(stale, validators))

	invalid := request("PUT", map[string]string{"If-Unmodified-Since": "soon"})
	assert.Equal(t, Proceed, EvaluatePreconditions(invalid, validators))
}

func TestIfNoneMatchTakesPrecedenceOverIfModifiedSince(t *testing.T) {
	r := request("GET", map[string]string{
		"If-None-Match":     `"v0"`,
		"If-Modified-Since": "Tue, 02 Jan 2024 00:00:00 GMT",
	})
	assert.Equal(t, Proceed, EvaluatePreconditions(r, validators))
}

func TestIfMatchTakesPrecedenceOverIfUnmodifiedSince(t *testing.T) {
	r := request("PUT", map[string]string{
		"If-Match":            `"v1"`,
		"If-Unmodified-Since": "Sun, 31 Dec 2023 00:00:00 GMT",
	})
	assert.Equal(t, Proceed, EvaluatePreconditions(r, validators))
}

func TestOutcomeStatusCode(t *testing.T) {
	assert.Equal(t, 0, Proceed.StatusCode())
	assert.Equal(t, http.StatusNotModified, NotModified.StatusCode())
	assert.Equal(t, http.StatusPreconditionFailed, PreconditionFailed.StatusCode())
}

func TestSetValidatorHeaders(t *testing.T) {
	header := http.Header{}
	SetValidatorHeaders(header, validators)
	assert.Equal(t, `"v1"`, header.Get("ETag"))
	assert.Equal(t, "Mon, 01 Jan 2024 00:00:00 GMT", header.Get("Last-Modified"))

	empty := http.Header{}
	SetValidatorHeaders(empty, Validators{})
	assert.Empty(t, empty)
}
