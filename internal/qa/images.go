package qa

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"nestbot/internal/chat"
	"nestbot/internal/llm"
	"nestbot/internal/logging"
)

const (
	MaxImages    = 3
	MaxImageSize = 20 * 1024 * 1024
)

var supportedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

type downloader interface {
	DownloadFile(ctx context.Context, url string, w io.Writer) error
}

// ImageExtractor turns image attachments into text the QA pipeline can read.
type ImageExtractor struct {
	files       downloader
	transcriber llm.Transcriber
}

func NewImageExtractor(files downloader, transcriber llm.Transcriber) *ImageExtractor {
	return &ImageExtractor{files: files, transcriber: transcriber}
}

// SupportedImages returns the attachments eligible for transcription, at most
// MaxImages of them.
func SupportedImages(files []chat.File) []chat.File {
	var images []chat.File
	for _, f := range files {
		if len(images) == MaxImages {
			break
		}
		if !supportedImageTypes[strings.ToLower(f.MimeType)] || f.Size <= 0 || f.Size > MaxImageSize || f.URLPrivate == "" {
			continue
		}
		images = append(images, f)
	}
	return images
}

// Extract transcribes each supported image. Failures are logged and skipped.
func (x *ImageExtractor) Extract(ctx context.Context, files []chat.File) []string {
	logger := logging.LoggerFromContext(ctx)

	var texts []string
	for _, f := range SupportedImages(files) {
		text, err := x.transcribe(ctx, f)
		if err != nil {
			logger.Warn("Skipping image", "file_id", f.ID, "error", err)
			continue
		}
		if text != "" {
			texts = append(texts, text)
		}
	}
	return texts
}

func (x *ImageExtractor) transcribe(ctx context.Context, f chat.File) (string, error) {
	var buf bytes.Buffer
	if err := x.files.DownloadFile(ctx, f.URLPrivate, &limitedWriter{w: &buf, remaining: MaxImageSize}); err != nil {
		return "", fmt.Errorf("failed to download %s: %w", f.ID, err)
	}

	text, err := x.transcriber.TranscribeImage(ctx, f.MimeType, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to transcribe %s: %w", f.ID, err)
	}
	return strings.TrimSpace(text), nil
}

// WithImageText appends transcribed image text to a message.
func WithImageText(text string, imageTexts []string) string {
	if len(imageTexts) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(text))
	for i, t := range imageTexts {
		fmt.Fprintf(&b, "\n\nImage %d text:\n%s", i+1, t)
	}
	return strings.TrimSpace(b.String())
}

var errImageTooLarge = fmt.Errorf("image exceeds %d bytes", MaxImageSize)

type limitedWriter struct {
	w         io.Writer
	remaining int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > l.remaining {
		return 0, errImageTooLarge
	}
	n, err := l.w.Write(p)
	l.remaining -= int64(n)
	return n, err
}
