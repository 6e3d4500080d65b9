// TGFeed - Telegram Channel Sync and Dedup Engine
// Copyright 2026 TGFeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tgfeed/tgfeed

package maintenance

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tgfeed/tgfeed/internal/logging"
	"github.com/tgfeed/tgfeed/internal/metrics"
)

var (
	telegraphURLRe = regexp.MustCompile(`https?://telegra\.ph/[A-Za-z0-9\-_%]+(?:-[0-9]{2}-[0-9]{2})?`)
	imgSrcRe       = regexp.MustCompile(`<img[^>]+src="([^"]+)"`)
	cssLinkRe      = regexp.MustCompile(`<link[^>]+href="([^"]+\.css[^"]*)"[^>]*>`)
	websyncRe      = regexp.MustCompile(`<script[^>]*websync[^>]*>\s*</script>`)
)

// maxTelegraphAsset bounds a single downloaded asset.
const maxTelegraphAsset = 20 << 20

// ArchiveTelegraphPages saves local self-contained copies of telegra.ph
// pages linked from recent messages. A message is marked archived only
// when every page it links was saved; partial failures retry next run.
func (w *Worker) ArchiveTelegraphPages(ctx context.Context) error {
	channels, err := w.st.ActiveChannels(ctx)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: w.telegraphTimeout()}
	for _, ch := range channels {
		msgs, err := w.st.MessagesWithTelegraphLinks(ctx, ch.ID, w.cfg.TelegraphPerRun)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			if err := ctx.Err(); err != nil {
				return err
			}

			urls := ExtractTelegraphURLs(msg.Message + " " + msg.Entities)
			if len(urls) == 0 {
				if err := w.st.UpdateMessageHTMLDownloaded(ctx, ch.ID, msg.ID); err != nil {
					return err
				}
				continue
			}

			allSaved := true
			for _, pageURL := range urls {
				if err := w.archivePage(ctx, client, ch.ID, pageURL); err != nil {
					allSaved = false
					metrics.TelegraphPages.WithLabelValues("failed").Inc()
					logging.Warn().Err(err).Str("url", pageURL).Int64("channel_id", ch.ID).
						Msg("Telegraph archive failed")
					continue
				}
				metrics.TelegraphPages.WithLabelValues("ok").Inc()
			}
			if allSaved {
				if err := w.st.UpdateMessageHTMLDownloaded(ctx, ch.ID, msg.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ExtractTelegraphURLs returns the deduplicated telegra.ph links found
// in text (message body or raw entities).
func ExtractTelegraphURLs(text string) []string {
	matches := telegraphURLRe.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func (w *Worker) archivePage(ctx context.Context, client *http.Client, channelID int64, pageURL string) error {
	dir := filepath.Join(w.telegraphDir, fmt.Sprintf("%d", channelID))
	dest := filepath.Join(dir, pageFileName(pageURL))
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	page, err := fetchAsset(ctx, client, pageURL)
	if err != nil {
		return err
	}
	html := string(page)

	html = websyncRe.ReplaceAllString(html, "")
	html = w.inlineImages(ctx, client, pageURL, html)
	html, err = w.localizeStylesheets(ctx, client, pageURL, html)
	if err != nil {
		return err
	}

	return os.WriteFile(dest, []byte(html), 0o640)
}

// inlineImages rewrites every img src into a data URI. An image that
// cannot be fetched keeps its remote URL; the page still renders online.
func (w *Worker) inlineImages(ctx context.Context, client *http.Client, pageURL, html string) string {
	return imgSrcRe.ReplaceAllStringFunc(html, func(tag string) string {
		src := imgSrcRe.FindStringSubmatch(tag)[1]
		data, err := fetchAsset(ctx, client, resolveURL(pageURL, src))
		if err != nil {
			logging.Debug().Err(err).Str("src", src).Msg("Image inline failed")
			return tag
		}
		uri := "data:" + http.DetectContentType(data) + ";base64," +
			base64.StdEncoding.EncodeToString(data)
		return strings.Replace(tag, src, uri, 1)
	})
}

// localizeStylesheets downloads linked CSS into the shared css/ directory,
// named by content hash so identical stylesheets are stored once across all
// channels. Pages reference them relatively from their channel directory.
func (w *Worker) localizeStylesheets(ctx context.Context, client *http.Client, pageURL, html string) (string, error) {
	cssDir := filepath.Join(w.telegraphDir, "css")
	var firstErr error
	html = cssLinkRe.ReplaceAllStringFunc(html, func(tag string) string {
		href := cssLinkRe.FindStringSubmatch(tag)[1]
		data, err := fetchAsset(ctx, client, resolveURL(pageURL, href))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return tag
		}
		sum := md5.Sum(data)
		name := hex.EncodeToString(sum[:])[:12] + ".css"
		if _, err := os.Stat(filepath.Join(cssDir, name)); err != nil {
			if err := os.MkdirAll(cssDir, 0o750); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return tag
			}
			if err := os.WriteFile(filepath.Join(cssDir, name), data, 0o640); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return tag
			}
		}
		return strings.Replace(tag, href, "../css/"+name, 1)
	})
	return html, firstErr
}

func fetchAsset(ctx context.Context, client *http.Client, assetURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s returned %d", assetURL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxTelegraphAsset))
}

// resolveURL makes protocol-relative and path-relative references
// absolute against the page URL.
func resolveURL(pageURL, ref string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}

func pageFileName(pageURL string) string {
	slug := pageURL[strings.LastIndex(pageURL, "/")+1:]
	if slug == "" {
		sum := md5.Sum([]byte(pageURL))
		slug = hex.EncodeToString(sum[:])[:12]
	}
	return slug + ".html"
}

func (w *Worker) telegraphTimeout() time.Duration {
	if w.cfg.TelegraphTimeout > 0 {
		return w.cfg.TelegraphTimeout
	}
	return 30 * time.Second
}
