package main

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/tg"
	"github.com/xeptore/flaw/v8"
	"golang.org/x/exp/maps"

	"github.com/iamrita-ai/Terabox-Drive/errutil"
	"github.com/iamrita-ai/Terabox-Drive/log"
	"github.com/iamrita-ai/Terabox-Drive/queue"
)

func (w *Worker) sendSummary(ctx context.Context, s *session, res queue.Result) {
	if res.Total == 0 {
		return
	}

	lines := []styling.StyledTextOption{
		styling.Bold("All done!"),
		styling.Plain(fmt.Sprintf("\nCompleted: %d of %d", res.Completed, res.Total)),
	}
	if res.Failed > 0 {
		lines = append(lines, styling.Plain(fmt.Sprintf("\nFailed: %d", res.Failed)))
	}
	if res.Cancelled > 0 {
		lines = append(lines, styling.Plain(fmt.Sprintf("\nCanceled: %d", res.Cancelled)))
	}
	if tally := kindTally(res.Kinds); tally != "" {
		lines = append(lines, styling.Plain("\nDelivered: "+tally))
	}
	lines = append(lines, styling.Plain(fmt.Sprintf("\nTook: %s", res.FinishedAt.Sub(res.StartedAt).Round(time.Second))))

	if _, err := w.sender.To(s.peer).Reply(s.msgID).StyledText(ctx, lines...); nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		w.logger.Error().Func(log.Flaw(flaw.From(fmt.Errorf("failed to send summary message: %v", err)).Append(flawP))).Msg("Failed to send summary message")
	}
}

func (w *Worker) reportRunToLogChannel(ctx context.Context, s *session, res queue.Result) {
	if w.config.LogChannelID == "" || res.Total == 0 {
		return
	}

	lines := []styling.StyledTextOption{
		styling.Plain(fmt.Sprintf("User %d finished a run.", s.userID)),
		styling.Plain(fmt.Sprintf("\nCompleted %d, failed %d, canceled %d of %d task(s).", res.Completed, res.Failed, res.Cancelled, res.Total)),
	}
	if tally := kindTally(res.Kinds); tally != "" {
		lines = append(lines, styling.Plain("\nDelivered: "+tally))
	}

	if _, err := w.sender.Resolve(w.config.LogChannelID).StyledText(ctx, lines...); nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		w.logger.Error().Func(log.Flaw(flaw.From(fmt.Errorf("failed to send run report to log channel: %v", err)).Append(flawP))).Msg("Failed to send run report to log channel")
	}
}

func kindTally(kinds map[string]int) string {
	if len(kinds) == 0 {
		return ""
	}
	names := maps.Keys(kinds)
	slices.Sort(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%d %s", kinds[name], name))
	}
	return strings.Join(parts, ", ")
}

// reportFlaw ships the full flaw record to the log channel as a YAML document
// so failures remain debuggable without shell access to the host.
func (w *Worker) reportFlaw(ctx context.Context, f *flaw.Flaw) {
	if w.config.LogChannelID == "" {
		return
	}

	flawBytes, err := errutil.FlawToYAML(f)
	if nil != err {
		w.logger.Error().Func(log.Flaw(err)).Msg("Failed to encode flaw to YAML")
		return
	}

	up, cancel := w.newUploader(ctx)
	defer func() {
		if cancelErr := cancel(); nil != cancelErr {
			w.logger.Error().Err(cancelErr).Msg("Failed to close flaw report uploader pool")
		}
	}()

	upload, err := up.FromReader(ctx, "flaw.yaml", bytes.NewReader(flawBytes))
	if nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		w.logger.Error().Func(log.Flaw(flaw.From(fmt.Errorf("failed to upload flaw document: %v", err)).Append(flawP))).Msg("Failed to upload flaw document")
		return
	}

	document := message.UploadedDocument(upload)
	document.
		MIME("application/yaml").
		Attributes(&tg.DocumentAttributeFilename{
			FileName: fmt.Sprintf("flaw-%s.yaml", time.Now().Format("2006-01-02-15-04-05")),
		}).
		ForceFile(true)

	if _, err := w.sender.Resolve(w.config.LogChannelID).Media(ctx, document); nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		w.logger.Error().Func(log.Flaw(flaw.From(fmt.Errorf("failed to send flaw document to log channel: %v", err)).Append(flawP))).Msg("Failed to send flaw document to log channel")
	}
}
