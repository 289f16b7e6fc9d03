package resolver

import (
	"fmt"

	"tubefetch/internal/consts"
	"tubefetch/internal/errs"
)

// Select picks the stream to download.
//
// An exact token match wins. Otherwise the first combined video+audio stream
// whose label equals quality is used, and for the "Audio Only" label the best
// audio-only stream. errs.ErrFormatNotFound is returned when nothing matches.
func Select(streams []Stream, token, quality string) (Stream, error) {
	if token != "" {
		for _, s := range streams {
			if s.Token == token {
				return s, nil
			}
		}
	}

	if quality == consts.AudioOnlyLabel {
		if s, ok := BestAudio(streams); ok {
			return s, nil
		}

		return Stream{}, fmt.Errorf("%w: no audio-only stream", errs.ErrFormatNotFound)
	}

	if quality != "" {
		for _, s := range streams {
			if s.IsCombined() && s.Label() == quality {
				return s, nil
			}
		}
	}

	return Stream{}, fmt.Errorf("%w: token %q, quality %q", errs.ErrFormatNotFound, token, quality)
}
