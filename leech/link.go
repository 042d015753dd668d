package leech

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

type Kind string

const (
	KindGDrive  Kind = "gdrive"
	KindTerabox Kind = "terabox"
	KindDirect  Kind = "direct"
)

type InvalidLinkError struct {
	Link string
	Err  error
}

func (e *InvalidLinkError) Error() string {
	return fmt.Sprintf("invalid link %q: %v", e.Link, e.Err)
}

var linkPattern = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+`)

func ExtractLinks(text string) []string {
	return lo.FilterMap(linkPattern.FindAllString(text, -1), func(link string, _ int) (string, bool) {
		link = strings.TrimSpace(link)
		return link, link != ""
	})
}

var gdriveHosts = []string{
	"drive.google.com",
	"docs.google.com",
}

var teraboxHosts = []string{
	"terabox.com",
	"teraboxapp.com",
	"1024terabox.com",
	"1024tera.com",
	"nephobox.com",
	"teraboxurl.com",
	"terasharefile.com",
	"freeterabox.com",
	"4funbox.com",
	"mirrobox.com",
	"momerybox.com",
	"terabox.link",
	"tbx.to",
}

// Hosts that never serve the file bytes over plain HTTP. Downloading from
// these requires a site-specific extractor, so they are rejected upfront
// instead of failing halfway through with an HTML payload.
var extractorOnlyHosts = []string{
	"youtube.com",
	"youtu.be",
	"facebook.com",
	"fb.watch",
	"fb.com",
	"instagram.com",
	"instagr.am",
	"twitter.com",
	"x.com",
	"tiktok.com",
	"reddit.com",
	"pinterest.com",
	"linkedin.com",
	"snapchat.com",
	"threads.net",
	"vimeo.com",
	"dailymotion.com",
	"twitch.tv",
	"bilibili.com",
}

func matchesAnyHost(host string, domains []string) bool {
	return lo.SomeBy(domains, func(domain string) bool {
		return host == domain || strings.HasSuffix(host, "."+domain)
	})
}

// Classify tells which download strategy handles the link. It reports false
// for anything that is not an http(s) URL or that cannot be fetched as a
// plain file.
func Classify(link string) (Kind, bool) {
	u, err := url.Parse(link)
	if nil != err {
		return "", false
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case host == "":
		return "", false
	case matchesAnyHost(host, gdriveHosts):
		return KindGDrive, true
	case matchesAnyHost(host, teraboxHosts):
		return KindTerabox, true
	case matchesAnyHost(host, extractorOnlyHosts):
		return "", false
	default:
		return KindDirect, true
	}
}

var gdriveIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/folders/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`),
}

func GDriveFileID(link string) (string, error) {
	for _, p := range gdriveIDPatterns {
		if m := p.FindStringSubmatch(link); m != nil {
			return m[1], nil
		}
	}
	return "", &InvalidLinkError{Link: link, Err: errors.New("link carries no file id")}
}

// ResolvedLink is the outcome of turning a share link into a URL that serves
// the file bytes directly. Size is zero when the source does not tell.
type ResolvedLink struct {
	URL      string
	FileName string
	Size     int64
}
