package audio

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

type Metadata struct {
	Filename    string
	Title       string
	Encoder     string
	DurationSec float64
	SampleRate  int
	Channels    int
	BitDepth    int
	Format      string
}

type mediaInfo struct {
	Format struct {
		Filename string            `json:"filename"`
		Duration string            `json:"duration"`
		Format   string            `json:"format_name"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Streams []mediaStream `json:"streams"`
}

type mediaStream struct {
	CodecType     string `json:"codec_type"`
	SampleRate    string `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
}

func (p *mediaInfo) firstAudioStream() *mediaStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == "audio" {
			return &p.Streams[i]
		}
	}
	return nil
}

// ReadMetadataFFmpeg reads any container ffprobe understands.
func ReadMetadataFFmpeg(ctx context.Context, path string) (*Metadata, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(
		ctx,
		"ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return parseMediaInfo(path, out)
}

func parseMediaInfo(path string, out []byte) (*Metadata, error) {
	var info mediaInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, err
	}

	audioStream := info.firstAudioStream()
	if audioStream == nil {
		return nil, errors.New("no audio stream found")
	}

	duration, _ := strconv.ParseFloat(info.Format.Duration, 64)
	sampleRate, _ := strconv.Atoi(audioStream.SampleRate)

	meta := &Metadata{
		Filename:    filepath.Base(path),
		DurationSec: duration,
		SampleRate:  sampleRate,
		Channels:    audioStream.Channels,
		BitDepth:    audioStream.BitsPerSample,
		Format:      info.Format.Format,
	}

	if info.Format.Tags != nil {
		meta.Title = info.Format.Tags["title"]
		meta.Encoder = info.Format.Tags["encoder"]
	}

	return meta, nil
}

// ReadMetadata describes path without external tools when it is a WAV file
// and falls back to ffprobe otherwise.
func ReadMetadata(ctx context.Context, path string) (*Metadata, error) {
	clip, err := DecodeFile(path)
	if err != nil {
		return ReadMetadataFFmpeg(ctx, path)
	}
	return &Metadata{
		Filename:    filepath.Base(path),
		DurationSec: clip.Duration().Seconds(),
		SampleRate:  clip.SampleRate,
		Channels:    clip.Channels,
		BitDepth:    clip.BitDepth,
		Format:      "wav",
	}, nil
}
