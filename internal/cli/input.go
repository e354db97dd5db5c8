package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/alnah/go-fabric-analyze/internal/orchestrate"
	"github.com/alnah/go-fabric-analyze/internal/packet"
)

// stdinName is the input argument that reads the transcript from stdin.
const stdinName = "-"

// sourceInfo is the subset of a yt-dlp style info JSON the tool reads.
type sourceInfo struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Channel     string   `json:"channel"`
	Uploader    string   `json:"uploader"`
	UploadDate  string   `json:"upload_date"`
	Duration    float64  `json:"duration"` // seconds
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
}

// documentFlags are the flags describing the input document.
type documentFlags struct {
	meta     string
	id       string
	title    string
	duration time.Duration
}

// readDocument builds the orchestrator input from the transcript at path
// (or stdin) and the optional info JSON. Flags win over the info file.
func readDocument(env *Env, path string, f documentFlags) (orchestrate.Input, error) {
	text, err := readTranscript(env, path)
	if err != nil {
		return orchestrate.Input{}, err
	}

	var info sourceInfo
	if f.meta != "" {
		if info, err = readInfo(f.meta); err != nil {
			return orchestrate.Input{}, err
		}
	}

	in := orchestrate.Input{
		ID:    firstNonEmpty(f.id, info.ID, baseName(path)),
		Title: firstNonEmpty(f.title, info.Title),
		Text:  text,
		Source: packet.Source{
			Channel:     firstNonEmpty(info.Channel, info.Uploader),
			UploadDate:  formatUploadDate(info.UploadDate),
			Tags:        info.Tags,
			Description: info.Description,
		},
	}
	in.ID = sanitizeID(in.ID)
	if in.Title == "" {
		in.Title = in.ID
	}
	in.Duration = f.duration
	if in.Duration <= 0 && info.Duration > 0 {
		in.Duration = time.Duration(info.Duration * float64(time.Second))
	}
	in.Source.Duration = in.Duration
	return in, nil
}

func readTranscript(env *Env, path string) (string, error) {
	if path == stdinName {
		data, err := io.ReadAll(env.Stdin)
		if err != nil {
			return "", fmt.Errorf("cannot read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- user-specified input file
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return "", fmt.Errorf("cannot read input file: %w", err)
	}
	return string(data), nil
}

func readInfo(path string) (sourceInfo, error) {
	var info sourceInfo
	data, err := os.ReadFile(path) // #nosec G304 -- user-specified metadata file
	if err != nil {
		if os.IsNotExist(err) {
			return info, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return info, fmt.Errorf("cannot read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("%w: %s: %v", ErrInvalidMeta, path, err)
	}
	return info, nil
}

// formatUploadDate turns YYYYMMDD into YYYY-MM-DD; other values pass through.
func formatUploadDate(s string) string {
	if len(s) != 8 || strings.Trim(s, "0123456789") != "" {
		return s
	}
	return s[:4] + "-" + s[4:6] + "-" + s[6:]
}

// baseName returns the file name without extension, or "stdin".
func baseName(path string) string {
	if path == stdinName || path == "" {
		return "stdin"
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeID makes id safe as a file name component.
func sanitizeID(id string) string {
	id = strings.Trim(unsafeIDChars.ReplaceAllString(id, "_"), "._")
	if id == "" {
		return "document"
	}
	return id
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
