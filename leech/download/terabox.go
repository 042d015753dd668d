package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/xeptore/flaw/v8"

	"github.com/iamrita-ai/Terabox-Drive/config"
	"github.com/iamrita-ai/Terabox-Drive/errutil"
	"github.com/iamrita-ai/Terabox-Drive/httputil"
	"github.com/iamrita-ai/Terabox-Drive/leech"
)

// errTeraboxAPIMiss means the share info endpoint answered but without a
// usable download link. Rendered share pages still embed one, so callers
// fall back to scraping.
var errTeraboxAPIMiss = errors.New("share info api gave no download link")

var (
	teraboxDLinkPatterns = []*regexp.Regexp{
		regexp.MustCompile(`"dlink"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`'dlink'\s*:\s*'([^']+)'`),
		regexp.MustCompile(`dlink=([^&"']+)`),
	}
	teraboxFileNamePatterns = []*regexp.Regexp{
		regexp.MustCompile(`"server_filename"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`'server_filename'\s*:\s*'([^']+)'`),
		regexp.MustCompile(`<title>([^<]+)</title>`),
	}
	teraboxSizePattern = regexp.MustCompile(`"size"\s*:\s*(\d+)`)
)

func teraboxShortURL(link string) (string, string, error) {
	u, err := url.Parse(link)
	if nil != err {
		return "", "", &leech.InvalidLinkError{Link: link, Err: err}
	}

	host := u.Hostname()
	if s := u.Query().Get("surl"); s != "" {
		return host, strings.TrimPrefix(s, "1"), nil
	}

	if rest, ok := strings.CutPrefix(u.EscapedPath(), "/s/"); ok && rest != "" {
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		return host, strings.TrimPrefix(rest, "1"), nil
	}

	return "", "", &leech.InvalidLinkError{Link: link, Err: errors.New("link carries no share id")}
}

func (c *Client) resolveTeraboxShortURL(ctx context.Context, host, surl, link string) (leech.ResolvedLink, error) {
	var none leech.ResolvedLink

	res, err := teraboxAPIInfo(ctx, host, surl)
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, errTeraboxAPIMiss):
		c.logger.Debug().Str("surl", surl).Msg("Share info API gave nothing usable, scraping share page")
		return scrapeTeraboxPage(ctx, link)
	default:
		return none, err
	}
}

func teraboxAPIInfo(ctx context.Context, host, surl string) (res leech.ResolvedLink, err error) {
	var none leech.ResolvedLink
	apiURL := fmt.Sprintf("https://%s/api/shorturlinfo?app_id=250528&shorturl=1%s&root=1", host, url.QueryEscape(surl))
	flawP := flaw.P{"url": apiURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return none, flaw.From(fmt.Errorf("failed to create share info request: %v", err)).Append(flawP)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", fmt.Sprintf("https://%s/", host))

	client := http.Client{Timeout: config.TeraboxResolveRequestTimeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return none, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return none, context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return none, flaw.From(fmt.Errorf("failed to send share info request: %v", err)).Append(flawP)
		}
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			switch {
			case errutil.IsContext(ctx):
				err = errors.Join(err, ctx.Err())
			case errors.Is(closeErr, context.DeadlineExceeded):
				err = errors.Join(err, context.DeadlineExceeded)
			default:
				flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
				closeErr = flaw.From(fmt.Errorf("failed to close share info response body: %v", closeErr)).Append(flawP)
				err = errors.Join(err, closeErr)
			}
		}
	}()
	flawP["response"] = errutil.HTTPResponseFlawPayload(resp)

	switch status := resp.StatusCode; status {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return none, ErrTooManyRequests
	default:
		return none, errTeraboxAPIMiss
	}

	respBody, err := httputil.ReadResponseBody(ctx, resp)
	if nil != err {
		return none, err
	}

	if !gjson.ValidBytes(respBody) {
		return none, errTeraboxAPIMiss
	}

	if errno := gjson.GetBytes(respBody, "errno").Int(); errno != 0 {
		return none, errTeraboxAPIMiss
	}

	file := gjson.GetBytes(respBody, "list.0")
	if !file.Exists() {
		return none, errTeraboxAPIMiss
	}

	if file.Get("isdir").Int() == 1 {
		return none, ErrFolderLink
	}

	dlink := file.Get("dlink").String()
	if dlink == "" {
		return none, errTeraboxAPIMiss
	}

	return leech.ResolvedLink{
		URL:      dlink,
		FileName: leech.SanitizeFileName(file.Get("server_filename").String()),
		Size:     file.Get("size").Int(),
	}, nil
}

func scrapeTeraboxPage(ctx context.Context, link string) (res leech.ResolvedLink, err error) {
	var none leech.ResolvedLink
	flawP := flaw.P{"url": link}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return none, flaw.From(fmt.Errorf("failed to create share page request: %v", err)).Append(flawP)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	client := http.Client{Timeout: config.TeraboxPageRequestTimeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return none, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return none, context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return none, flaw.From(fmt.Errorf("failed to send share page request: %v", err)).Append(flawP)
		}
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			switch {
			case errutil.IsContext(ctx):
				err = errors.Join(err, ctx.Err())
			case errors.Is(closeErr, context.DeadlineExceeded):
				err = errors.Join(err, context.DeadlineExceeded)
			default:
				flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
				closeErr = flaw.From(fmt.Errorf("failed to close share page response body: %v", closeErr)).Append(flawP)
				err = errors.Join(err, closeErr)
			}
		}
	}()
	flawP["response"] = errutil.HTTPResponseFlawPayload(resp)

	switch status := resp.StatusCode; status {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return none, ErrTooManyRequests
	default:
		return none, flaw.From(fmt.Errorf("unexpected share page response status code: %d", status)).Append(flawP)
	}

	respBody, err := httputil.ReadResponseBody(ctx, resp)
	if nil != err {
		return none, err
	}
	page := string(respBody)

	var dlink string
	for _, p := range teraboxDLinkPatterns {
		if m := p.FindStringSubmatch(page); m != nil {
			dlink = strings.ReplaceAll(m[1], `\/`, "/")
			break
		}
	}
	if dlink == "" {
		flawP["response_body"] = page
		return none, flaw.From(errors.New("could not locate download link in share page")).Append(flawP)
	}

	fileName := ""
	for _, p := range teraboxFileNamePatterns {
		if m := p.FindStringSubmatch(page); m != nil {
			fileName = leech.SanitizeFileName(m[1])
			break
		}
	}

	var size int64
	if m := teraboxSizePattern.FindStringSubmatch(page); m != nil {
		if v, parseErr := strconv.ParseInt(m[1], 10, 64); nil == parseErr {
			size = v
		}
	}

	return leech.ResolvedLink{URL: dlink, FileName: fileName, Size: size}, nil
}
