package responsetransformer

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Rules rewrite the headers of successful GET responses before they are
// stored in a snapshot. The first rule matching the request is applied.
type Rules []Rule

type Rule struct {
	// Match requests whose path starts with Prefix, if set.
	Prefix string `yaml:"prefix"`
	// Match requests with exactly this path, if set.
	Path string `yaml:"path"`
	// Match requests carrying these query parameters. An empty value only requires presence.
	Query map[string]string `yaml:"query"`

	// Cache-Control to set when the origin sent none.
	Default string `yaml:"default"`
	// Cache-Control to set regardless of the origin.
	Override string `yaml:"override"`
	// Headers to set.
	Headers map[string]string `yaml:"headers"`
	// Headers to drop, e.g. Set-Cookie, which must not be replayed from a snapshot.
	Remove []string `yaml:"remove"`
}

// Apply applies the matching rule, if any, to res.
// res.Request is used for matching; responses without it are left alone.
func (r Rules) Apply(res *http.Response) {
	if res.Request == nil || res.StatusCode < 200 || res.StatusCode > 299 {
		return
	}
	if rule := r.find(res.Request); rule != nil {
		if res.Header == nil {
			res.Header = make(http.Header)
		}
		rule.apply(res.Header)
	}
}

func (r Rules) find(req *http.Request) *Rule {
	if req.Method != http.MethodGet {
		return nil
	}
	for i := range r {
		if r[i].matches(req) {
			log.Trace().Int("rule", i).Msgf("Rule matches %s", req.URL.Path)
			return &r[i]
		}
	}
	return nil
}

func (rule Rule) matches(req *http.Request) bool {
	path := req.URL.Path
	if rule.Path != "" && rule.Path != path {
		return false
	}
	if rule.Prefix != "" && !strings.HasPrefix(path, rule.Prefix) {
		return false
	}
	if len(rule.Query) == 0 {
		return true
	}
	query := req.URL.Query()
	for name, want := range rule.Query {
		if !query.Has(name) || (want != "" && query.Get(name) != want) {
			return false
		}
	}
	return true
}

func (rule Rule) apply(header http.Header) {
	switch {
	case rule.Override != "":
		header.Set("Cache-Control", rule.Override)
	case rule.Default != "" && header.Get("Cache-Control") == "":
		header.Set("Cache-Control", rule.Default)
	}
	for name, value := range rule.Headers {
		header.Set(name, value)
	}
	for _, name := range rule.Remove {
		header.Del(name)
	}
}
