package assembly

import (
	"fmt"

	"github.com/disintegration/imaging"

	"reelsmith/internal/codec"
)

// makePoster renders a portrait still from the first image so callers have a
// thumbnail without decoding the video.
func makePoster(src, dest string) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	poster := imaging.Fill(img, codec.SegmentWidth, codec.SegmentHeight, imaging.Center, imaging.Lanczos)
	if err := imaging.Save(poster, dest, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("save poster: %w", err)
	}
	return nil
}
