package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"

	"github.com/fzcomet206/musicshare/internal/apperr"
	"github.com/fzcomet206/musicshare/internal/config"
)

// Entry is one (title, url) pair, either a single-video probe result or one
// row of a playlist probe.
type Entry struct {
	Title string
	URL   string
}

// Extractor wraps the external download/transcode tool. Production wires
// ytdlpExtractor, shelling out to yt-dlp and ffmpeg; tests wire a fake.
type Extractor interface {
	ProbeTitle(ctx context.Context, url string) (string, error)
	ProbeList(ctx context.Context, url string, max int) ([]Entry, error)
	ProbeLive(ctx context.Context, url string) (bool, error)
	ProbeSize(ctx context.Context, url string) (int64, error)
	// Fetch downloads url and transcodes it to Opus/Ogg at 128kbps, 20ms
	// page duration, writing the result to destPath.
	Fetch(ctx context.Context, url, destPath string) error
}

// ytdlpExtractor shells out to yt-dlp for probing/downloading and ffmpeg for
// transcoding.
type ytdlpExtractor struct {
	ytDlpPath  string
	ffmpegPath string
}

func NewYtDlpExtractor(cfg config.IngestConfig) Extractor {
	return &ytdlpExtractor{ytDlpPath: cfg.YtDlpPath, ffmpegPath: cfg.FfmpegPath}
}

func (e *ytdlpExtractor) ProbeTitle(ctx context.Context, url string) (string, error) {
	out, err := exec.CommandContext(ctx, e.ytDlpPath, "--get-title", url).Output()
	if err != nil {
		return "", apperr.WrapMsg(apperr.ContentNotFound, url, err)
	}
	return strings.TrimSpace(string(out)), nil
}

type ytdlpPlaylistEntry struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type ytdlpPlaylist struct {
	Entries []ytdlpPlaylistEntry `json:"entries"`
}

func (e *ytdlpExtractor) ProbeList(ctx context.Context, url string, max int) ([]Entry, error) {
	out, err := exec.CommandContext(ctx, e.ytDlpPath,
		"--flat-playlist", "--dump-single-json", "--playlist-end", strconv.Itoa(max), url,
	).Output()
	if err != nil {
		return nil, apperr.WrapMsg(apperr.PlayListParseErr, url, err)
	}

	var parsed ytdlpPlaylist
	if err := json.NewDecoder(bytes.NewReader(out)).Decode(&parsed); err != nil {
		return nil, apperr.WrapMsg(apperr.PlayListParseErr, "invalid playlist JSON", err)
	}
	if len(parsed.Entries) == 0 {
		return nil, apperr.New(apperr.PlayListParseErr, "no entries found in the playlist")
	}

	entries := make([]Entry, 0, len(parsed.Entries))
	for _, pe := range parsed.Entries {
		entries = append(entries, Entry{Title: pe.Title, URL: pe.URL})
	}
	if len(entries) > max {
		entries = entries[:max]
	}
	return entries, nil
}

func (e *ytdlpExtractor) ProbeLive(ctx context.Context, url string) (bool, error) {
	out, err := exec.CommandContext(ctx, e.ytDlpPath, "--print", "%(is_live)s", url).Output()
	if err != nil {
		return false, apperr.WrapMsg(apperr.InvalidURL, url, err)
	}
	return strings.TrimSpace(string(out)) == "True", nil
}

func (e *ytdlpExtractor) ProbeSize(ctx context.Context, url string) (int64, error) {
	out, err := exec.CommandContext(ctx, e.ytDlpPath, "-f", "bestaudio", "--print", "filesize", url).Output()
	if err != nil {
		return 0, apperr.WrapMsg(apperr.InvalidURL, url, err)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		// yt-dlp reports "NA" for sources that don't expose a size up
		// front; treat that as unknown rather than a hard failure.
		return 0, nil
	}
	return size, nil
}

func (e *ytdlpExtractor) Fetch(ctx context.Context, url, destPath string) error {
	rawPath := destPath + ".raw"
	downloadCmd := exec.CommandContext(ctx, e.ytDlpPath,
		"-f", "bestaudio",
		"--extract-audio",
		"--audio-format", "best",
		"--output", rawPath,
		url,
	)
	if err := downloadCmd.Run(); err != nil {
		return apperr.Wrap(apperr.DownloadFailed, err)
	}

	convertCmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-y",
		"-i", rawPath,
		"-c:a", "libopus",
		"-b:a", "128k",
		"-page_duration", "20000",
		"-vn",
		destPath,
	)
	if err := convertCmd.Run(); err != nil {
		return apperr.Wrap(apperr.ConversionFailed, err)
	}
	return nil
}
