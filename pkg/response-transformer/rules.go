// Package responsetransformer rewrites origin response headers before
// they reach caching, so that sites without cache-aware origins can
// still publish caching policy. Rules typically come from a YAML
// config file.
package responsetransformer

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Rules is an ordered list of rules. The first matching rule wins.
type Rules []Rule

type Rule struct {
	// Prefix matches all paths starting with it.
	Prefix string `yaml:"prefix"`
	// Path matches one path exactly.
	Path string `yaml:"path"`
	// Method matches one request method. An empty method matches GET.
	Method string `yaml:"method"`
	// Default is the Cache-Control to set if the response has none.
	Default string `yaml:"default"`
	// Override is the Cache-Control to set unconditionally.
	Override string `yaml:"override"`
	// Query entries must all be present in the request query string.
	// An empty value matches any value for that parameter.
	Query map[string]string `yaml:"query"`
	// Headers are set on the response as-is.
	Headers map[string]string `yaml:"headers"`
}

// Apply applies the first matching rule to the response. Rules apply
// to successful (2xx) responses only: error responses keep whatever
// policy the origin gave them.
func (r Rules) Apply(res *http.Response) error {
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil
	}
	if rule := r.find(res); rule != nil {
		applyRuleToResponse(*rule, res)
	}
	return nil
}

func applyRuleToResponse(rule Rule, res *http.Response) {
	if rule.Override != "" {
		log.Trace().Msg("Overriding Cache-Control header")
		res.Header.Set("Cache-Control", rule.Override)
	} else if rule.Default != "" && res.Header.Get("Cache-Control") == "" {
		log.Trace().Msg("Applying default Cache-Control header")
		res.Header.Set("Cache-Control", rule.Default)
	}
	for name, value := range rule.Headers {
		log.Trace().Msgf("Setting header %s", name)
		res.Header.Set(name, value)
	}
}

func (r Rules) find(res *http.Response) *Rule {
	log.Trace().Msgf("Finding rule for request %s:%s", res.Request.Method, res.Request.URL.Path)
rulesLoop:
	for _, rule := range r {
		if rule.Method == "" && res.Request.Method != http.MethodGet {
			continue
		}
		if rule.Method != "" && rule.Method != res.Request.Method {
			continue
		}
		if rule.Path != "" && rule.Path != res.Request.URL.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(res.Request.URL.Path, rule.Prefix) {
			continue
		}
		if len(rule.Query) > 0 {
			qry := res.Request.URL.Query()
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
