package download

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/xeptore/flaw/v8"

	"github.com/iamrita-ai/Terabox-Drive/config"
	"github.com/iamrita-ai/Terabox-Drive/errutil"
	"github.com/iamrita-ai/Terabox-Drive/httputil"
	"github.com/iamrita-ai/Terabox-Drive/leech"
)

var (
	gdriveConfirmTokenPattern = regexp.MustCompile(`confirm=([0-9A-Za-z_-]+)`)
	gdriveTitlePattern        = regexp.MustCompile(`<title>([^<]+) - Google Drive</title>`)
	gdriveFormActionPattern   = regexp.MustCompile(`action="([^"]+)"`)
	gdriveHiddenInputPattern  = regexp.MustCompile(`<input type="hidden" name="([^"]+)" value="([^"]*)"`)
	gdriveAnchorNamePattern   = regexp.MustCompile(`<a[^>]*>([^<]+)</a>\s*\(`)
)

// resolveGDriveFileID probes the legacy uc download endpoint with redirects
// disabled. Public files answer with a redirect to the file bytes. Files too
// large for virus scanning answer with an HTML page whose confirmation form
// has to be replayed.
func resolveGDriveFileID(ctx context.Context, fileID string) (res leech.ResolvedLink, err error) {
	var none leech.ResolvedLink
	probeURL := "https://drive.google.com/uc?export=download&id=" + url.QueryEscape(fileID)
	flawP := flaw.P{"file_id": fileID, "url": probeURL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return none, flaw.From(fmt.Errorf("failed to create resolve request: %v", err)).Append(flawP)
	}
	req.Header.Set("User-Agent", userAgent)

	//nolint:exhaustruct
	client := http.Client{
		Timeout: config.GDriveResolveRequestTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return none, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return none, context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return none, flaw.From(fmt.Errorf("failed to send resolve request: %v", err)).Append(flawP)
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
				closeErr = flaw.From(fmt.Errorf("failed to close resolve response body: %v", closeErr)).Append(flawP)
				err = errors.Join(err, closeErr)
			}
		}
	}()
	flawP["response"] = errutil.HTTPResponseFlawPayload(resp)

	switch status := resp.StatusCode; status {
	case http.StatusOK:
	case http.StatusFound, http.StatusSeeOther, http.StatusMovedPermanently, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		loc := resp.Header.Get("Location")
		if loc == "" {
			return none, flaw.From(errors.New("redirect response carries no location header")).Append(flawP)
		}
		fileName := ""
		if name, ok := httputil.FileNameFromContentDisposition(resp); ok {
			fileName = leech.SanitizeFileName(name)
		}
		return leech.ResolvedLink{URL: loc, FileName: fileName, Size: 0}, nil
	case http.StatusTooManyRequests:
		return none, ErrTooManyRequests
	case http.StatusNotFound:
		return none, flaw.From(errors.New("file does not exist or is not shared publicly")).Append(flawP)
	default:
		return none, flaw.From(fmt.Errorf("unexpected resolve response status code: %d", status)).Append(flawP)
	}

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		// Small files skip the interstitial and are served right away.
		fileName := ""
		if name, ok := httputil.FileNameFromContentDisposition(resp); ok {
			fileName = leech.SanitizeFileName(name)
		}
		var size int64
		if resp.ContentLength > 0 {
			size = resp.ContentLength
		}
		return leech.ResolvedLink{URL: probeURL, FileName: fileName, Size: size}, nil
	}

	respBody, err := httputil.ReadResponseBody(ctx, resp)
	if nil != err {
		return none, err
	}
	page := string(respBody)

	fileName := ""
	if m := gdriveAnchorNamePattern.FindStringSubmatch(page); m != nil {
		fileName = leech.SanitizeFileName(m[1])
	} else if m := gdriveTitlePattern.FindStringSubmatch(page); m != nil {
		fileName = leech.SanitizeFileName(m[1])
	}

	if m := gdriveFormActionPattern.FindStringSubmatch(page); m != nil && strings.Contains(m[1], "drive.usercontent.google.com") {
		action := html.UnescapeString(m[1])
		vals := url.Values{}
		for _, in := range gdriveHiddenInputPattern.FindAllStringSubmatch(page, -1) {
			vals.Set(in[1], html.UnescapeString(in[2]))
		}
		if vals.Get("id") == "" {
			vals.Set("id", fileID)
		}
		if vals.Get("export") == "" {
			vals.Set("export", "download")
		}
		if vals.Get("confirm") == "" {
			vals.Set("confirm", "t")
		}
		return leech.ResolvedLink{URL: action + "?" + vals.Encode(), FileName: fileName, Size: 0}, nil
	}

	if m := gdriveConfirmTokenPattern.FindStringSubmatch(page); m != nil {
		return leech.ResolvedLink{URL: probeURL + "&confirm=" + m[1], FileName: fileName, Size: 0}, nil
	}

	flawP["response_body"] = page
	return none, flaw.From(errors.New("could not find download confirmation token in page")).Append(flawP)
}
