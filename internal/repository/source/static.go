package source

import (
	"context"
	"encoding/base64"
)

// blankPNG is a 1x1 transparent PNG, served for empty areas.
var blankPNG, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==")

// BlankTile returns the body substituted for source-reported empty tiles.
func BlankTile() []byte {
	return blankPNG
}

// StaticSource always renders the same body. Useful for fallback layers
// and as a test double.
type StaticSource struct {
	body []byte
}

var _ Source = (*StaticSource)(nil)

func NewStaticSource(body []byte) *StaticSource {
	if len(body) == 0 {
		body = blankPNG
	}
	return &StaticSource{body: body}
}

func (s *StaticSource) Render(context.Context, Tile, map[string]string) ([]byte, error) {
	return s.body, nil
}
