// Package attribution records first-touch and last-touch campaign metadata
// per visitor session and hands the snapshot to enquiry forms.
package attribution

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sells-group/leadsync/internal/model"
)

// TouchParams is one observed page view.
type TouchParams struct {
	Touch            model.Touch
	Page             string
	Referrer         string
	PlatformClientID string
}

// clickIDs in precedence order, with the source/medium each implies.
var clickIDs = []struct {
	param, source string
}{
	{"gclid", "google"},
	{"gbraid", "google"},
	{"wbraid", "google"},
	{"fbclid", "facebook"},
	{"msclkid", "bing"},
}

// referrer hosts, matched by substring against the lower-cased host.
var (
	searchHosts = []struct{ match, source string }{
		{"google.", "google"},
		{"bing.", "bing"},
		{"yahoo.", "yahoo"},
		{"duckduckgo.", "duckduckgo"},
	}
	socialHosts = []struct{ match, source string }{
		{"facebook.", "facebook"},
		{"fb.", "facebook"},
		{"instagram.", "instagram"},
		{"twitter.", "twitter"},
		{"t.co", "twitter"},
		{"linkedin.", "linkedin"},
		{"youtube.", "youtube"},
		{"tiktok.", "tiktok"},
		{"whatsapp.", "whatsapp"},
	}
)

// ParseTouch builds touch params from a page URL and the document referrer.
// selfHosts are the site's own hosts; referrals from them count as direct.
func ParseTouch(page *url.URL, referrer string, selfHosts []string, now time.Time) TouchParams {
	q := page.Query()
	t := model.Touch{
		Source:    q.Get("utm_source"),
		Medium:    q.Get("utm_medium"),
		Campaign:  q.Get("utm_campaign"),
		Term:      q.Get("utm_term"),
		Content:   q.Get("utm_content"),
		Timestamp: now.UTC(),
	}
	hasUTM := t.Source != "" || t.Medium != "" || t.Campaign != "" || t.Term != "" || t.Content != ""

	for _, c := range clickIDs {
		v := q.Get(c.param)
		if v == "" {
			continue
		}
		t.ClickID, t.ClickIDType = v, c.param
		if t.Source == "" {
			t.Source = c.source
		}
		if t.Medium == "" {
			t.Medium = "cpc"
		}
		break
	}

	if !hasUTM && t.ClickID == "" {
		t.Source, t.Medium = SourceFromReferrer(referrer, append([]string{page.Hostname()}, selfHosts...))
	}

	return TouchParams{
		Touch:    t,
		Page:     page.Path,
		Referrer: referrer,
	}
}

// TouchFromRequest reads a touch from a page request: query string, Referer
// header and the analytics cookie.
func TouchFromRequest(r *http.Request, selfHosts []string, now time.Time) TouchParams {
	u := *r.URL
	if u.Host == "" {
		u.Host = r.Host
	}
	p := ParseTouch(&u, r.Referer(), selfHosts, now)
	if c, err := r.Cookie("_ga"); err == nil {
		p.PlatformClientID = ParseGAClientID(c.Value)
	}
	return p
}

// SourceFromReferrer derives source and medium from a referrer URL.
func SourceFromReferrer(referrer string, selfHosts []string) (source, medium string) {
	if referrer == "" {
		return model.DefaultSource, model.DefaultMedium
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Hostname() == "" {
		return model.DefaultSource, model.DefaultMedium
	}
	host := strings.ToLower(u.Hostname())

	for _, h := range searchHosts {
		if strings.Contains(host, h.match) {
			return h.source, "organic"
		}
	}
	for _, h := range socialHosts {
		if strings.Contains(host, h.match) {
			return h.source, "social"
		}
	}
	for _, self := range selfHosts {
		if self != "" && strings.Contains(host, strings.ToLower(self)) {
			return model.DefaultSource, model.DefaultMedium
		}
	}
	return host, "referral"
}

// ParseGAClientID extracts the client id from a _ga cookie value
// ("GA1.1.123456789.1700000000" yields "123456789.1700000000").
func ParseGAClientID(cookie string) string {
	parts := strings.Split(cookie, ".")
	if len(parts) < 4 {
		return ""
	}
	return strings.Join(parts[len(parts)-2:], ".")
}
