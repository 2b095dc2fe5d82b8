// Package delivery derives artifact names and hands converted bytes to the host.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"carbalite/internal/domain"
)

// MaxTitleLength bounds the title part of a derived filename, in runes.
const MaxTitleLength = 100

// DefaultTitle is used when a title sanitizes to nothing.
const DefaultTitle = "download"

const illegalFilenameChars = `<>:"/\|?*`

var mimeTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"aac":  "audio/aac",
	"ogg":  "audio/ogg",
	"opus": "audio/ogg",
	"wav":  "audio/wav",
	"flac": "audio/flac",
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mkv":  "video/x-matroska",
}

// Saver is the host's save-file primitive.
type Saver interface {
	Save(ctx context.Context, artifact domain.DownloadArtifact) (string, error)
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context, artifact domain.DownloadArtifact) (string, error)

// Save calls f.
func (f SaverFunc) Save(ctx context.Context, artifact domain.DownloadArtifact) (string, error) {
	return f(ctx, artifact)
}

// Extension returns the file extension for a media type and optional format.
func Extension(mediaType domain.MediaType, format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if _, ok := mimeTypes[format]; ok {
		return format
	}
	if mediaType == domain.MediaTypeVideo {
		return "mp4"
	}
	return "mp3"
}

// MIMEType returns the content type for a media type and optional format.
func MIMEType(mediaType domain.MediaType, format string) string {
	return mimeTypes[Extension(mediaType, format)]
}

// SanitizeTitle strips characters illegal on common filesystems and bounds the length.
func SanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case strings.ContainsRune(illegalFilenameChars, r), unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}

	clean := strings.Join(strings.Fields(b.String()), " ")
	if runes := []rune(clean); len(runes) > MaxTitleLength {
		clean = strings.TrimSpace(string(runes[:MaxTitleLength]))
	}
	clean = strings.Trim(clean, ". ")
	if clean == "" {
		return DefaultTitle
	}
	return clean
}

// Filename builds a filesystem-safe artifact filename.
func Filename(title string, mediaType domain.MediaType, format string) string {
	return SanitizeTitle(title) + "." + Extension(mediaType, format)
}

// Artifact assembles the download artifact for converted bytes.
func Artifact(data []byte, title string, mediaType domain.MediaType, format string) domain.DownloadArtifact {
	return domain.DownloadArtifact{
		Bytes:    data,
		Filename: Filename(title, mediaType, format),
		MIMEType: MIMEType(mediaType, format),
	}
}

// Deliver builds the artifact and passes it to the saver, returning where it landed.
func Deliver(ctx context.Context, saver Saver, data []byte, title string, mediaType domain.MediaType, format string) (domain.DownloadArtifact, string, error) {
	if saver == nil {
		return domain.DownloadArtifact{}, "", errors.New("no save target configured")
	}
	if len(data) == 0 {
		return domain.DownloadArtifact{}, "", errors.New("converted output is empty")
	}

	artifact := Artifact(data, title, mediaType, format)
	if err := ctx.Err(); err != nil {
		return artifact, "", err
	}
	location, err := saver.Save(ctx, artifact)
	if err != nil {
		return artifact, "", fmt.Errorf("save %s: %w", artifact.Filename, err)
	}
	return artifact, location, nil
}

// DirSaver writes artifacts into a directory without overwriting existing files.
type DirSaver struct {
	Dir string
}

// Save writes the artifact, adding a " (n)" suffix when the name is taken.
func (s DirSaver) Save(ctx context.Context, artifact domain.DownloadArtifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(s.Dir) == "" {
		return "", errors.New("output directory is required")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	ext := filepath.Ext(artifact.Filename)
	base := strings.TrimSuffix(artifact.Filename, ext)
	for i := 0; i < 1000; i++ {
		name := artifact.Filename
		if i > 0 {
			name = fmt.Sprintf("%s (%d)%s", base, i, ext)
		}
		path := filepath.Join(s.Dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(artifact.Bytes); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return "", err
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(path)
			return "", err
		}
		return path, nil
	}
	return "", fmt.Errorf("no free filename for %s in %s", artifact.Filename, s.Dir)
}
