package server

import (
	"net/url"
	"strings"

	"go-media-download/internal/models"
)

// platformMap associates bare domains with platform labels. Domains are
// matched after lowercasing and stripping a leading "www.".
var platformMap = map[string]string{
	"youtube.com":     "YouTube",
	"youtu.be":        "YouTube",
	"tiktok.com":      "TikTok",
	"instagram.com":   "Instagram",
	"facebook.com":    "Facebook",
	"fb.watch":        "Facebook",
	"twitter.com":     "Twitter/X",
	"x.com":           "Twitter/X",
	"vimeo.com":       "Vimeo",
	"dailymotion.com": "Dailymotion",
	"reddit.com":      "Reddit",
	"twitch.tv":       "Twitch",
	"linkedin.com":    "LinkedIn",
}

// supportedSites is the informational platform list served to clients.
var supportedSites = []models.SiteDescriptor{
	{Name: "YouTube", Icon: "youtube", Domains: []string{"youtube.com", "youtu.be"}},
	{Name: "TikTok", Icon: "tiktok", Domains: []string{"tiktok.com"}},
	{Name: "Instagram", Icon: "instagram", Domains: []string{"instagram.com"}},
	{Name: "Facebook", Icon: "facebook", Domains: []string{"facebook.com", "fb.watch"}},
	{Name: "Twitter/X", Icon: "twitter", Domains: []string{"twitter.com", "x.com"}},
	{Name: "Vimeo", Icon: "vimeo", Domains: []string{"vimeo.com"}},
	{Name: "Dailymotion", Icon: "dailymotion", Domains: []string{"dailymotion.com"}},
	{Name: "Reddit", Icon: "reddit", Domains: []string{"reddit.com"}},
	{Name: "Twitch", Icon: "twitch", Domains: []string{"twitch.tv"}},
	{Name: "LinkedIn", Icon: "linkedin", Domains: []string{"linkedin.com"}},
}

// DetectPlatform classifies a URL by its host. Unrecognized hosts yield a
// match with Recognized false and PlatformID "Unknown".
func DetectPlatform(rawURL string) models.PlatformMatch {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return models.PlatformMatch{PlatformID: "Unknown"}
	}

	domain := strings.ToLower(parsed.Host)
	domain = strings.TrimPrefix(domain, "www.")
	if i := strings.IndexByte(domain, ':'); i >= 0 {
		domain = domain[:i]
	}

	platform, ok := platformMap[domain]
	if !ok {
		platform = "Unknown"
	}
	return models.PlatformMatch{
		PlatformID: platform,
		Domain:     domain,
		Recognized: ok,
	}
}
