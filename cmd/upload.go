package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"github.com/xeptore/flaw/v8"

	"github.com/iamrita-ai/Terabox-Drive/cache"
	"github.com/iamrita-ai/Terabox-Drive/config"
	"github.com/iamrita-ai/Terabox-Drive/errutil"
	"github.com/iamrita-ai/Terabox-Drive/leech"
	"github.com/iamrita-ai/Terabox-Drive/log"
	"github.com/iamrita-ai/Terabox-Drive/must"
	"github.com/iamrita-ai/Terabox-Drive/queue"
	"github.com/iamrita-ai/Terabox-Drive/store"
)

// Telegram rejects photos larger than this. Bigger images go out as documents.
const maxPhotoSize = 10 << 20

// uploadFile re-uploads a downloaded file to Telegram as the media kind its
// extension suggests, honoring the user's caption, thumbnail, and target chat
// settings. The returned kind feeds the run summary.
func (w *Worker) uploadFile(ctx context.Context, s *session, t queue.Task, filePath string, report queue.ProgressFunc) (kind string, err error) {
	fileName := filepath.Base(filePath)
	fileKind := leech.KindOfFile(fileName)
	flawP := flaw.P{"task": t.FlawP(), "file_path": filePath, "file_kind": fileKind.String()}

	info, err := os.Stat(filePath)
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return "", flaw.From(fmt.Errorf("failed to stat file for upload: %v", err)).Append(flawP)
	}

	settings, err := w.store.UserSettings(ctx, s.userID)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return "", ctx.Err()
		case errutil.IsFlaw(err):
			return "", must.BeFlaw(err).Append(flawP)
		default:
			panic(errutil.UnknownError(err))
		}
	}

	report(ctx, fmt.Sprintf("Uploading %s (%s)...", fileName, leech.ReadableSize(info.Size())))

	up, cancel := w.newUploader(ctx)
	defer func() {
		if cancelErr := cancel(); nil != cancelErr {
			flawP["err_debug_tree"] = errutil.Tree(cancelErr).FlawP()
			cancelErr = flaw.From(fmt.Errorf("failed to close uploader pool: %v", cancelErr)).Append(flawP)
			switch {
			case nil == err:
				err = cancelErr
			case errutil.IsContext(ctx):
				err = flaw.From(errors.New("context ended")).Join(cancelErr)
			case errutil.IsFlaw(err):
				err = must.BeFlaw(err).Join(cancelErr)
			default:
				panic(errutil.UnknownError(err))
			}
		}
	}()

	upload, err := up.FromPath(ctx, filePath)
	if nil != err {
		if errutil.IsContext(ctx) {
			return "", ctx.Err()
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return "", flaw.From(fmt.Errorf("failed to upload file: %v", err)).Append(flawP)
	}

	caption := buildCaption(settings.Caption, fileName, info.Size())

	var media message.MediaOption
	switch fileKind {
	case leech.FileVideo:
		media = w.buildVideo(ctx, up, s, settings, filePath, fileName, upload, caption)
	case leech.FileAudio:
		media = w.buildAudio(ctx, filePath, fileName, upload, caption)
	case leech.FileImage:
		if info.Size() > maxPhotoSize {
			media = w.buildDocument(ctx, up, s, settings, fileName, upload, caption)
		} else {
			media = message.UploadedPhoto(upload, caption...)
		}
	case leech.FilePDF, leech.FileAPK, leech.FileArchive, leech.FileDocument:
		media = w.buildDocument(ctx, up, s, settings, fileName, upload, caption)
	default:
		media = w.buildDocument(ctx, up, s, settings, fileName, upload, caption)
	}

	if settings.TargetChat != "" {
		if _, err := w.sender.Resolve(settings.TargetChat).Media(ctx, media); nil != err {
			if errutil.IsContext(ctx) {
				return "", ctx.Err()
			}
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return "", flaw.From(fmt.Errorf("failed to send media to target %q: %v", settings.TargetChat, err)).Append(flawP)
		}
		return fileKind.String(), nil
	}

	if _, err := w.sender.To(s.peer).Reply(t.ReplyToID).Media(ctx, media); nil != err {
		if errutil.IsContext(ctx) {
			return "", ctx.Err()
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return "", flaw.From(fmt.Errorf("failed to send media: %v", err)).Append(flawP)
	}
	return fileKind.String(), nil
}

func (w *Worker) buildVideo(
	ctx context.Context,
	up *uploader.Uploader,
	s *session,
	settings store.Settings,
	filePath string,
	fileName string,
	upload tg.InputFileClass,
	caption []styling.StyledTextOption,
) message.MediaOption {
	probe, err := probeMedia(ctx, filePath)
	if nil != err {
		// Metadata is cosmetic, a probe failure must not fail the upload.
		w.logger.Warn().Func(log.Flaw(err)).Msg("Failed to probe video file")
	}

	thumb, err := w.videoThumb(ctx, up, s, settings, filePath)
	if nil != err {
		w.logger.Warn().Func(log.Flaw(err)).Msg("Failed to prepare video thumbnail")
	}

	document := message.UploadedDocument(upload, caption...)
	document.
		MIME(mimeByExt(fileName)).
		Attributes(
			&tg.DocumentAttributeFilename{FileName: fileName},
			//nolint:exhaustruct
			&tg.DocumentAttributeVideo{
				SupportsStreaming: true,
				Duration:          probe.Duration,
				W:                 probe.Width,
				H:                 probe.Height,
			},
		)
	if nil != thumb {
		document.Thumb(thumb)
	}
	document.Video()
	return document
}

func (w *Worker) buildAudio(
	ctx context.Context,
	filePath string,
	fileName string,
	upload tg.InputFileClass,
	caption []styling.StyledTextOption,
) message.MediaOption {
	probe, err := probeMedia(ctx, filePath)
	if nil != err {
		w.logger.Warn().Func(log.Flaw(err)).Msg("Failed to probe audio file")
	}

	document := message.UploadedDocument(upload, caption...)
	document.
		MIME(mimeByExt(fileName)).
		Attributes(
			&tg.DocumentAttributeFilename{FileName: fileName},
			//nolint:exhaustruct
			&tg.DocumentAttributeAudio{
				Title:    strings.TrimSuffix(fileName, leech.Ext(fileName)),
				Duration: int(math.Round(probe.Duration)),
			},
		).
		Audio()
	return document
}

func (w *Worker) buildDocument(
	ctx context.Context,
	up *uploader.Uploader,
	s *session,
	settings store.Settings,
	fileName string,
	upload tg.InputFileClass,
	caption []styling.StyledTextOption,
) message.MediaOption {
	document := message.UploadedDocument(upload, caption...)
	document.
		MIME(mimeByExt(fileName)).
		Attributes(&tg.DocumentAttributeFilename{FileName: fileName}).
		ForceFile(true)

	if settings.Thumbnail != "" {
		thumb, err := w.userThumb(ctx, up, s.userID, settings.Thumbnail)
		if nil != err {
			w.logger.Warn().Func(log.Flaw(err)).Msg("Failed to upload user thumbnail")
		} else {
			document.Thumb(thumb)
		}
	}
	return document
}

// videoThumb prefers the user's own thumbnail and falls back to a frame
// grabbed from the video itself.
func (w *Worker) videoThumb(
	ctx context.Context,
	up *uploader.Uploader,
	s *session,
	settings store.Settings,
	filePath string,
) (tg.InputFileClass, error) {
	if settings.Thumbnail != "" {
		return w.userThumb(ctx, up, s.userID, settings.Thumbnail)
	}

	framePath := filePath + ".thumb.jpg"
	if err := extractVideoFrame(ctx, filePath, framePath); nil != err {
		return nil, err
	}
	defer func() {
		if err := os.Remove(framePath); nil != err && !errors.Is(err, os.ErrNotExist) {
			w.logger.Error().Str("frame_path", framePath).Err(err).Msg("Failed to remove extracted video frame")
		}
	}()

	thumb, err := up.FromPath(ctx, framePath)
	if nil != err {
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		flawP := flaw.P{"frame_path": framePath, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, flaw.From(fmt.Errorf("failed to upload video frame: %v", err)).Append(flawP)
	}
	return thumb, nil
}

// userThumb uploads the user's thumbnail file, reusing a previous upload of
// the same user's thumbnail when Telegram still accepts it.
func (w *Worker) userThumb(ctx context.Context, up *uploader.Uploader, userID int64, thumbPath string) (tg.InputFileClass, error) {
	cached, err := w.cache.UploadedThumbs.Fetch(strconv.FormatInt(userID, 10), cache.DefaultUploadedThumbTTL, func() (tg.InputFileClass, error) {
		uploaded, err := up.FromPath(ctx, thumbPath)
		if nil != err {
			if errutil.IsContext(ctx) {
				return nil, ctx.Err()
			}
			flawP := flaw.P{"thumb_path": thumbPath, "err_debug_tree": errutil.Tree(err).FlawP()}
			return nil, flaw.From(fmt.Errorf("failed to upload thumbnail: %v", err)).Append(flawP)
		}
		return uploaded, nil
	})
	if nil != err {
		return nil, err
	}
	return cached.Value(), nil
}

type probeInfo struct {
	Duration float64
	Width    int
	Height   int
}

// probeMedia reads duration and dimensions with ffprobe. Fields it cannot
// determine stay zero.
func probeMedia(ctx context.Context, filePath string) (probeInfo, error) {
	var none probeInfo

	probeCtx, cancel := context.WithTimeout(ctx, config.MediaProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(
		probeCtx,
		"ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	).Output()
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return none, ctx.Err()
		case errors.Is(probeCtx.Err(), context.DeadlineExceeded):
			return none, context.DeadlineExceeded
		default:
			flawP := flaw.P{"file_path": filePath, "err_debug_tree": errutil.Tree(err).FlawP()}
			if exitErr := new(exec.ExitError); errors.As(err, &exitErr) {
				flawP["stderr"] = string(exitErr.Stderr)
			}
			return none, flaw.From(fmt.Errorf("failed to run ffprobe: %v", err)).Append(flawP)
		}
	}

	var parsed struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType string `json:"codec_type"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &parsed); nil != err {
		flawP := flaw.P{"file_path": filePath, "output": string(out), "err_debug_tree": errutil.Tree(err).FlawP()}
		return none, flaw.From(fmt.Errorf("failed to parse ffprobe output: %v", err)).Append(flawP)
	}

	var info probeInfo
	if d, parseErr := strconv.ParseFloat(parsed.Format.Duration, 64); nil == parseErr {
		info.Duration = d
	}
	for _, stream := range parsed.Streams {
		if stream.CodecType == "video" {
			info.Width = stream.Width
			info.Height = stream.Height
			break
		}
	}
	return info, nil
}

func extractVideoFrame(ctx context.Context, filePath string, framePath string) error {
	extractCtx, cancel := context.WithTimeout(ctx, config.MediaProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(
		extractCtx,
		"ffmpeg",
		"-y",
		"-ss", "00:00:01",
		"-i", filePath,
		"-vframes", "1",
		"-vf", "scale=320:-1",
		framePath,
	).CombinedOutput()
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return ctx.Err()
		case errors.Is(extractCtx.Err(), context.DeadlineExceeded):
			return context.DeadlineExceeded
		default:
			flawP := flaw.P{"file_path": filePath, "output": string(out), "err_debug_tree": errutil.Tree(err).FlawP()}
			return flaw.From(fmt.Errorf("failed to run ffmpeg: %v", err)).Append(flawP)
		}
	}
	return nil
}

func buildCaption(template string, fileName string, size int64) []styling.StyledTextOption {
	if template == "" {
		return []styling.StyledTextOption{styling.Bold(fileName)}
	}
	r := strings.NewReplacer(
		"{filename}", fileName,
		"{size}", leech.ReadableSize(size),
		"{ext}", strings.TrimPrefix(leech.Ext(fileName), "."),
	)
	return []styling.StyledTextOption{styling.Plain(r.Replace(template))}
}

func mimeByExt(fileName string) string {
	if m := mime.TypeByExtension(leech.Ext(fileName)); m != "" {
		return m
	}
	return "application/octet-stream"
}
