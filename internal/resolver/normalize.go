package resolver

import (
	"cmp"
	"slices"
	"strconv"

	"tubefetch/internal/consts"
	"tubefetch/internal/entity"
	"tubefetch/pkg/calc"
)

// Normalize turns upstream streams into the selectable format list.
//
// Combined video+audio streams come first, then video-only streams that carry
// a quality label. The merged list keeps the first stream seen per label and
// is stably sorted by vertical resolution, highest first; labels without a
// number sort last. The best-bitrate audio-only stream, if any, is appended as
// the "Audio Only" entry.
func Normalize(streams []Stream) []entity.FormatDescriptor {
	candidates := make([]Stream, 0, len(streams))

	for _, s := range streams {
		if s.IsCombined() && s.Label() != "" {
			candidates = append(candidates, s)
		}
	}

	for _, s := range streams {
		if s.HasVideo && !s.HasAudio && s.QualityLabel != "" {
			candidates = append(candidates, s)
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	formats := make([]entity.FormatDescriptor, 0, len(candidates)+1)

	for _, s := range candidates {
		label := s.Label()
		if _, ok := seen[label]; ok {
			continue
		}

		seen[label] = struct{}{}
		formats = append(formats, descriptor(s, label))
	}

	slices.SortStableFunc(formats, func(a, b entity.FormatDescriptor) int {
		ha, okA := ParseHeight(a.Quality)
		hb, okB := ParseHeight(b.Quality)

		switch {
		case okA && okB:
			return cmp.Compare(hb, ha)
		case okA:
			return -1
		case okB:
			return 1
		default:
			return 0
		}
	})

	if audio, ok := BestAudio(streams); ok {
		formats = append(formats, descriptor(audio, consts.AudioOnlyLabel))
	}

	return formats
}

// BestAudio returns the audio-only stream with the highest bitrate. Ties keep
// the first stream seen.
func BestAudio(streams []Stream) (Stream, bool) {
	var (
		best  Stream
		found bool
	)

	for _, s := range streams {
		if !s.IsAudioOnly() {
			continue
		}

		if !found || s.AudioBitrate > best.AudioBitrate {
			best, found = s, true
		}
	}

	return best, found
}

// ParseHeight extracts the leading number of a quality label,
// e.g. 1080 from "1080p60".
func ParseHeight(label string) (int, bool) {
	end := 0
	for end < len(label) && label[end] >= '0' && label[end] <= '9' {
		end++
	}

	if end == 0 {
		return 0, false
	}

	height, err := strconv.Atoi(label[:end])
	if err != nil {
		return 0, false
	}

	return height, true
}

func descriptor(s Stream, label string) entity.FormatDescriptor {
	return entity.FormatDescriptor{
		Quality:    label,
		Format:     s.ContainerName(),
		Size:       calc.ApproxSizeLabel(s.ContentLength),
		ApproxSize: max(s.ContentLength, 0),
		Token:      s.Token,
	}
}
