package exporter

import "strings"

// DefaultBucket is the bucket template used when none is configured.
const DefaultBucket = "nsolid.${env}.${app}.${hostname}.${shortId}"

// Vars are the values substituted into bucket and tag templates.
type Vars struct {
	Env      string
	App      string
	Hostname string
	ID       string
	Tags     []string
}

// ShortID is the first seven characters of the agent id.
func (v Vars) ShortID() string {
	if len(v.ID) <= 7 {
		return v.ID
	}
	return v.ID[:7]
}

// Expand replaces ${env}, ${app}, ${hostname}, ${id}, ${shortId} and
// ${tags} in tmpl. Unknown placeholders are left as they are.
func Expand(tmpl string, v Vars) string {
	if !strings.Contains(tmpl, "${") {
		return tmpl
	}
	r := strings.NewReplacer(
		"${env}", v.Env,
		"${app}", v.App,
		"${hostname}", v.Hostname,
		"${id}", v.ID,
		"${shortId}", v.ShortID(),
		"${tags}", strings.Join(v.Tags, ","),
	)
	return r.Replace(tmpl)
}
