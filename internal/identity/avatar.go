package identity

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

const (
	avatarGridSize = 5
	avatarCellSize = 40
	avatarSize     = avatarGridSize * avatarCellSize
)

// RenderGeneratedAvatar builds a deterministic identicon-style PNG from id's bytes: a 5x5 grid,
// mirrored left-right, colored from id's first three bytes, matching the shape of a GitHub-style
// identicon. Agents with avatarGenerated=true and no avatarUrl get one of these (spec.md §3).
func RenderGeneratedAvatar(id uuid.UUID) ([]byte, error) {
	seed := id[:]
	fg := color.RGBA{
		R: seed[0],
		G: seed[1],
		B: seed[2],
		A: 255,
	}

	canvas := imaging.New(avatarSize, avatarSize, color.White)

	cols := (avatarGridSize + 1) / 2
	for row := 0; row < avatarGridSize; row++ {
		for col := 0; col < cols; col++ {
			bitIndex := row*cols + col
			byteIdx := bitIndex / 8 % len(seed)
			bitOffset := uint(bitIndex % 8)
			if seed[byteIdx]&(1<<bitOffset) == 0 {
				continue
			}
			fillCell(canvas, row, col, fg)
			mirrorCol := avatarGridSize - 1 - col
			if mirrorCol != col {
				fillCell(canvas, row, mirrorCol, fg)
			}
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode generated avatar: %w", err)
	}
	return buf.Bytes(), nil
}

func fillCell(img *image.NRGBA, row, col int, fg color.RGBA) {
	x0, y0 := col*avatarCellSize, row*avatarCellSize
	for y := y0; y < y0+avatarCellSize; y++ {
		for x := x0; x < x0+avatarCellSize; x++ {
			img.Set(x, y, fg)
		}
	}
}

// AvatarStore persists a generated avatar image and returns the URL it's served from.
type AvatarStore interface {
	Store(ctx context.Context, id uuid.UUID, png []byte) (url string, err error)
}

// LocalAvatarStore writes generated avatars to the local filesystem, serving them from baseURL.
// Repurposed from the teacher's local file storage for attachments, scoped down to the single
// generated-avatar use case this spec has.
type LocalAvatarStore struct {
	basePath string
	baseURL  string
}

// NewLocalAvatarStore creates a storage provider that writes files under basePath and serves
// them by joining baseURL with "/avatars/<id>.png".
func NewLocalAvatarStore(basePath, baseURL string) *LocalAvatarStore {
	return &LocalAvatarStore{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

func (s *LocalAvatarStore) Store(_ context.Context, id uuid.UUID, png []byte) (string, error) {
	fileName := id.String() + ".png"
	fullPath := filepath.Join(s.basePath, fileName)

	if err := os.MkdirAll(s.basePath, 0o755); err != nil {
		return "", fmt.Errorf("create avatar directory: %w", err)
	}
	if err := os.WriteFile(fullPath, png, 0o644); err != nil {
		return "", fmt.Errorf("write avatar file: %w", err)
	}

	return s.baseURL + "/avatars/" + fileName, nil
}
