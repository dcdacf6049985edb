package audio

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/himanishpuri/NoiseReducer/pkg/utils"
)

// EncodeWAV writes samples as 16-bit PCM mono. Values outside [-1, 1] are
// clipped.
func EncodeWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}

	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = floatToPCM16(v)
	}

	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finalize wav: %w", err)
	}
	return nil
}

// WriteWAV writes samples to path as a 16-bit PCM mono WAV file. The file is
// written to a temp name and renamed into place.
func WriteWAV(path string, samples []float32, sampleRate int) error {
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		f, ok := w.(*os.File)
		if !ok {
			return fmt.Errorf("audio: wav output must be seekable")
		}
		return EncodeWAV(f, samples, sampleRate)
	})
}

func floatToPCM16(v float32) int {
	switch {
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	if v >= 0 {
		return int(v*32767 + 0.5)
	}
	return int(v*32767 - 0.5)
}
