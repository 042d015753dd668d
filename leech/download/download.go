package download

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/iamrita-ai/Terabox-Drive/cache"
	"github.com/iamrita-ai/Terabox-Drive/leech"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var (
	ErrTooManyRequests = errors.New("too many requests")
	ErrFolderLink      = errors.New("folder links are not supported")
)

// Progress is called as file bytes arrive. total is zero when the server
// does not announce a length.
type Progress func(downloaded, total int64)

type Client struct {
	cache  *cache.Cache
	logger zerolog.Logger
}

func NewClient(c *cache.Cache, logger zerolog.Logger) *Client {
	return &Client{cache: c, logger: logger}
}

// Download resolves link to a URL that serves the file bytes directly,
// downloads the file into dir, and returns the downloaded file path.
func (c *Client) Download(ctx context.Context, link string, dir leech.UserDir, onProgress Progress) (string, error) {
	kind, ok := leech.Classify(link)
	if !ok {
		return "", &leech.InvalidLinkError{Link: link, Err: errors.New("unsupported link")}
	}

	if err := dir.Ensure(); nil != err {
		return "", err
	}

	var (
		resolved leech.ResolvedLink
		err      error
	)
	switch kind {
	case leech.KindGDrive:
		resolved, err = c.resolveGDrive(ctx, link)
	case leech.KindTerabox:
		resolved, err = c.resolveTerabox(ctx, link)
	case leech.KindDirect:
		resolved = leech.ResolvedLink{URL: link, FileName: fileNameFromURL(link), Size: 0}
	default:
		panic(fmt.Sprintf("unexpected link kind: %q", kind))
	}
	if nil != err {
		return "", err
	}

	c.logger.
		Debug().
		Str("kind", string(kind)).
		Str("file_name", resolved.FileName).
		Int64("size", resolved.Size).
		Msg("Link resolved")

	return c.fetch(ctx, resolved, dir, onProgress)
}

func (c *Client) resolveGDrive(ctx context.Context, link string) (leech.ResolvedLink, error) {
	var none leech.ResolvedLink

	if strings.Contains(link, "/folders/") {
		return none, ErrFolderLink
	}

	fileID, err := leech.GDriveFileID(link)
	if nil != err {
		return none, err
	}

	item, err := c.cache.ResolvedLinks.Fetch("gdrive:"+fileID, cache.DefaultResolvedLinkTTL, func() (leech.ResolvedLink, error) {
		return resolveGDriveFileID(ctx, fileID)
	})
	if nil != err {
		return none, err
	}
	return item.Value(), nil
}

func (c *Client) resolveTerabox(ctx context.Context, link string) (leech.ResolvedLink, error) {
	var none leech.ResolvedLink

	host, surl, err := teraboxShortURL(link)
	if nil != err {
		return none, err
	}

	item, err := c.cache.ResolvedLinks.Fetch("terabox:"+surl, cache.DefaultResolvedLinkTTL, func() (leech.ResolvedLink, error) {
		return c.resolveTeraboxShortURL(ctx, host, surl, link)
	})
	if nil != err {
		return none, err
	}
	return item.Value(), nil
}

func fileNameFromURL(link string) string {
	u, err := url.Parse(link)
	if nil != err {
		return leech.SanitizeFileName("")
	}

	base := path.Base(u.Path)
	if base == "." || base == "/" {
		base = ""
	}
	return leech.SanitizeFileName(base)
}
