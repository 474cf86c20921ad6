package cachepolicy

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

type Rules []Rule

// Rule sets response headers for record responses matching the request.
// Without Method, a rule matches GET and HEAD requests.
type Rule struct {
	Prefix   string            `yaml:"prefix"`
	Path     string            `yaml:"path"`
	Method   string            `yaml:"method"`
	Default  string            `yaml:"default"`
	Override string            `yaml:"override"`
	Query    map[string]string `yaml:"query"`
	Headers  map[string]string `yaml:"headers"`
}

// Apply applies the first matching rule to the response header.
// Only successful and not modified responses are touched.
func (r Rules) Apply(req *http.Request, status int, header http.Header) {
	if status != http.StatusOK && status != http.StatusNotModified {
		return
	}
	if rule := r.find(req); rule != nil {
		applyRuleToHeader(*rule, header)
	}
}

func applyRuleToHeader(rule Rule, header http.Header) {
	if rule.Override != "" {
		log.Trace().Msg("Overriding Cache-Control header")
		header.Set("Cache-Control", rule.Override)
	} else if rule.Default != "" && header.Get("Cache-Control") == "" {
		log.Trace().Msg("Applying default Cache-Control header")
		header.Set("Cache-Control", rule.Default)
	}
	for name, value := range rule.Headers {
		log.Trace().Msgf("Setting header %s", name)
		header.Set(name, value)
	}
}

func (r Rules) find(req *http.Request) *Rule {
	log.Trace().Msgf("Finding rule for request %s:%s", req.Method, req.URL.Path)
rulesLoop:
	for i := range r {
		rule := r[i]
		if rule.Method == "" && req.Method != http.MethodGet && req.Method != http.MethodHead {
			continue
		}
		if rule.Method != "" && !strings.EqualFold(rule.Method, req.Method) {
			continue
		}
		if rule.Path != "" && rule.Path != req.URL.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(req.URL.Path, rule.Prefix) {
			continue
		}
		if len(rule.Query) > 0 {
			qry := req.URL.Query()
			for name, value := range rule.Query {
				if value == "" && !qry.Has(name) {
					continue rulesLoop
				} else if value != "" && qry.Get(name) != value {
					continue rulesLoop
				}
			}
		}
		return &rule
	}
	return nil
}
