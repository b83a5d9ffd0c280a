package analytics

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	// key=value forms used by sqlserver and libpq
	kvPasswordRe = regexp.MustCompile(`(?i)((?:password|pwd)\s*=\s*)[^;\s]*`)
	// user:password@ forms used by mysql DSNs
	userinfoRe = regexp.MustCompile(`^([^:/@]+):[^@]*@`)
)

// RedactConnString removes credentials from a connection string so it can be
// used as a log field or a metric label.
func RedactConnString(s string) string {
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil {
			if _, ok := u.User.Password(); ok {
				u.User = url.UserPassword(u.User.Username(), "xxxxx")
			}
			q := u.Query()
			for _, k := range []string{"password", "pwd"} {
				if q.Has(k) {
					q.Set(k, "xxxxx")
				}
			}
			u.RawQuery = q.Encode()
			return u.String()
		}
	}
	s = kvPasswordRe.ReplaceAllString(s, "${1}xxxxx")
	return userinfoRe.ReplaceAllString(s, "${1}:xxxxx@")
}
