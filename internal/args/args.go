// Package args builds yt-dlp command lines.
package args

import (
	"fmt"
	"path/filepath"
	"strings"

	video_fetcher "github.com/alanbriolat/video-fetcher"
)

// OutputTemplate names each file after the video's title and upload date.
const OutputTemplate = "%(title)s-%(upload_date)s.%(ext)s"

// Format selection, written the way it would be typed on a command line.
var (
	videoFormats = map[video_fetcher.Quality]string{
		video_fetcher.QualityBest:        `-f "bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]"`,
		video_fetcher.QualityNormal:      `-f "bv*[height<=720][ext=mp4]+ba[ext=m4a]/b[height<=720][ext=mp4]"`,
		video_fetcher.QualityCustom:      `-f "bv*[height<=480][ext=mp4]+ba[ext=m4a]/b[height<=480][ext=mp4]"`,
		video_fetcher.QualityUnspecified: `-f "bv*+ba/b"`,
	}
	audioQualities = map[video_fetcher.Quality]string{
		video_fetcher.QualityBest:   "0",
		video_fetcher.QualityNormal: "5",
		video_fetcher.QualityCustom: "3",
	}
)

const (
	audioTemplate       = "--extract-audio --audio-format mp3 --audio-quality %s"
	defaultAudioQuality = "5"
)

var trailingFlags = []string{"--newline", "--progress", "--force-overwrites"}

// FormatArgs are the arguments that select what to download for format and quality.
func FormatArgs(format video_fetcher.Format, quality video_fetcher.Quality) []string {
	if format == video_fetcher.FormatAudio {
		q, ok := audioQualities[quality]
		if !ok {
			q = defaultAudioQuality
		}
		return tokenize(fmt.Sprintf(audioTemplate, q))
	}
	expr, ok := videoFormats[quality]
	if !ok {
		expr = videoFormats[video_fetcher.QualityUnspecified]
	}
	return tokenize(expr)
}

// Build returns the full argument list for downloading req into outputDir. The URL always comes first.
func Build(req video_fetcher.DownloadRequest, outputDir string) []string {
	args := []string{req.URL}
	args = append(args, FormatArgs(req.Format, req.Quality)...)
	args = append(args, "--output", filepath.Join(outputDir, OutputTemplate))
	args = append(args, trailingFlags...)
	return args
}

// ListFormats returns the arguments that make the tool print the formats available for url.
func ListFormats(url string) []string {
	return []string{"--list-formats", url}
}

// tokenize splits on whitespace, then strips one pair of surrounding quotes from each token, since no shell is involved
// to do it. Quoted values must not contain whitespace.
func tokenize(s string) []string {
	fields := strings.Fields(s)
	for i, field := range fields {
		if len(field) >= 2 && field[0] == '"' && field[len(field)-1] == '"' {
			fields[i] = field[1 : len(field)-1]
		}
	}
	return fields
}
