// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package maintenance

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/metrics"
	"github.com/tgfeed/tgfeed/internal/models"
)

// thumbnailSkipped marks videos that cannot carry a thumbnail (too
// short, unreadable) so they are not retried every run.
const thumbnailSkipped = "none"

// frameOffsets are the sampled positions as fractions of the duration.
var frameOffsets = [4]float64{0.10, 0.30, 0.50, 0.70}

// GenerateThumbnails builds 2x2 preview grids for recently downloaded
// videos, newest first, bounded per channel per run.
func (w *Worker) GenerateThumbnails(ctx context.Context) error {
	channels, err := w.st.ActiveChannels(ctx)
	if err != nil {
		return err
	}

	for _, ch := range channels {
		msgs, err := w.st.MessagesWithoutThumbnail(ctx, ch.ID, w.cfg.ThumbnailsPerRun)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := w.thumbnailOne(ctx, ch.ID, msg); err != nil {
				logging.Warn().Err(err).Int64("channel_id", ch.ID).Int64("message_id", msg.ID).
					Msg("Thumbnail generation failed")
			}
		}
	}
	return nil
}

func (w *Worker) thumbnailOne(ctx context.Context, channelID int64, msg *models.Message) error {
	videoPath := filepath.Join(w.mediaDir, msg.MediaPath)
	if _, err := os.Stat(videoPath); err != nil {
		return w.st.UpdateMessageThumbnail(ctx, channelID, msg.ID, thumbnailSkipped)
	}

	duration, err := w.probeDuration(ctx, videoPath)
	if err != nil || duration < 1 {
		metrics.ThumbnailsGenerated.WithLabelValues("skipped").Inc()
		return w.st.UpdateMessageThumbnail(ctx, channelID, msg.ID, thumbnailSkipped)
	}

	thumbPath := videoPath + ".thumb.jpg"
	if err := w.composeGrid(ctx, videoPath, thumbPath, duration); err != nil {
		metrics.ThumbnailsGenerated.WithLabelValues("failed").Inc()
		return err
	}

	rel := msg.MediaPath + ".thumb.jpg"
	if err := w.st.UpdateMessageThumbnail(ctx, channelID, msg.ID, rel); err != nil {
		return err
	}
	metrics.ThumbnailsGenerated.WithLabelValues("ok").Inc()
	return nil
}

// probeDuration reads the container duration in seconds via ffprobe.
func (w *Worker) probeDuration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, w.thumbnailTimeout())
	defer cancel()

	out, err := exec.CommandContext(ctx, w.ffprobe(),
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed on %s: %w", path, err)
	}
	return strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
}

// composeGrid extracts four frames and stacks them into a 2x2 grid of
// 320x180 tiles, padding frames whose aspect ratio differs.
func (w *Worker) composeGrid(ctx context.Context, videoPath, thumbPath string, duration float64) error {
	tmpDir, err := os.MkdirTemp("", "tgfeed-thumb-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	frames := make([]string, 0, len(frameOffsets))
	for i, off := range frameOffsets {
		frame := filepath.Join(tmpDir, fmt.Sprintf("frame%d.jpg", i))
		if err := w.extractFrame(ctx, videoPath, frame, duration*off); err != nil {
			return err
		}
		frames = append(frames, frame)
	}

	args := []string{"-y"}
	for _, f := range frames {
		args = append(args, "-i", f)
	}
	args = append(args,
		"-filter_complex",
		"[0:v]scale=320:180:force_original_aspect_ratio=decrease,pad=320:180:(ow-iw)/2:(oh-ih)/2[a];"+
			"[1:v]scale=320:180:force_original_aspect_ratio=decrease,pad=320:180:(ow-iw)/2:(oh-ih)/2[b];"+
			"[2:v]scale=320:180:force_original_aspect_ratio=decrease,pad=320:180:(ow-iw)/2:(oh-ih)/2[c];"+
			"[3:v]scale=320:180:force_original_aspect_ratio=decrease,pad=320:180:(ow-iw)/2:(oh-ih)/2[d];"+
			"[a][b][c][d]xstack=inputs=4:layout=0_0|w0_0|0_h0|w0_h0",
		thumbPath)

	ctx, cancel := context.WithTimeout(ctx, w.thumbnailTimeout())
	defer cancel()
	if out, err := exec.CommandContext(ctx, w.ffmpeg(), args...).CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg xstack failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (w *Worker) extractFrame(ctx context.Context, videoPath, framePath string, offset float64) error {
	ctx, cancel := context.WithTimeout(ctx, w.thumbnailTimeout())
	defer cancel()

	out, err := exec.CommandContext(ctx, w.ffmpeg(),
		"-y",
		"-ss", fmt.Sprintf("%.2f", offset),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "3",
		framePath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg frame extraction at %.2fs failed: %w: %s",
			offset, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (w *Worker) ffmpeg() string {
	if w.cfg.FFmpegPath != "" {
		return w.cfg.FFmpegPath
	}
	return "ffmpeg"
}

func (w *Worker) ffprobe() string {
	if w.cfg.FFprobePath != "" {
		return w.cfg.FFprobePath
	}
	return "ffprobe"
}

func (w *Worker) thumbnailTimeout() time.Duration {
	if w.cfg.ThumbnailTimeout > 0 {
		return w.cfg.ThumbnailTimeout
	}
	return 60 * time.Second
}
