// Package imagekit is the pure image kernel: hashing, probing, grid
// suggestion and deterministic tile slicing.
package imagekit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"

	_ "image/gif"  // register decoders for image.DecodeConfig / Decode
	_ "image/jpeg" //
	_ "image/png"  //

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/packsmith/backend/internal/core"
)

const maxGridDim = 10

// Hash returns the SHA-256 hex digest of the raw source bytes.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Probe reads the intrinsic dimensions without a full decode.
func Probe(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, core.WrapError(core.InputInvalid, "unreadable image", err)
	}
	return cfg.Width, cfg.Height, nil
}

// SuggestGrids enumerates (rows, cols) with both dimensions in 1..10 and
// tiles <= maxTiles, scores each by how far the resulting cell aspect is
// from square, and keeps the first limit distinct options sorted by
// (score, tiles). The fallback is the first option, or 1x1 when nothing
// qualifies.
func SuggestGrids(width, height, maxTiles, limit int) core.GridPlan {
	if limit <= 0 {
		limit = 5
	}
	type candidate struct {
		score  float64
		option core.GridOption
	}
	dim := maxGridDim
	if maxTiles < dim {
		dim = maxTiles
	}
	var candidates []candidate
	for rows := 1; rows <= dim; rows++ {
		for cols := 1; cols <= dim; cols++ {
			if rows*cols > maxTiles {
				continue
			}
			cellRatio := (float64(width) / float64(cols)) / (float64(height) / float64(rows))
			candidates = append(candidates, candidate{
				score:  math.Abs(cellRatio - 1.0),
				option: core.GridOption{Rows: rows, Cols: cols},
			})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].option.Tiles() < candidates[j].option.Tiles()
	})

	var options []core.GridOption
	for _, c := range candidates {
		if containsOption(options, c.option) {
			continue
		}
		options = append(options, c.option)
		if len(options) >= limit {
			break
		}
	}
	if len(options) == 0 {
		fallback := core.GridOption{Rows: 1, Cols: 1}
		return core.GridPlan{Options: []core.GridOption{fallback}, Fallback: fallback}
	}
	return core.GridPlan{Options: options, Fallback: options[0]}
}

func containsOption(options []core.GridOption, opt core.GridOption) bool {
	for _, o := range options {
		if o == opt {
			return true
		}
	}
	return false
}

// PaddingPixels maps a padding level to the pixel thickness of the outer
// frame: step = max(2, tile/20), clamped to half a tile.
func PaddingPixels(level, tileSize int) int {
	if level < 0 {
		level = 0
	}
	step := tileSize / 20
	if step < 2 {
		step = 2
	}
	pixels := level * step
	if half := tileSize / 2; pixels > half {
		pixels = half
	}
	return pixels
}

// Tile is one output cell of the slicing step, already PNG-encoded.
type Tile struct {
	Row int
	Col int
	PNG []byte
}

// Slice decodes the source, scales it to fit inside the composed canvas
// minus a single outer padding frame (no inter-tile gaps), pastes it
// centered, and crops the canvas into row-major tile_size x tile_size PNG
// tiles. Output is byte-identical across invocations with the same inputs:
// the PNG encoder settings are pinned.
func Slice(data []byte, grid core.GridOption, paddingLevel, tileSize int) ([]Tile, error) {
	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, core.WrapError(core.InputInvalid, "decode image", err)
	}
	rgba := imaging.Clone(src) // NRGBA, 4 channels
	bounds := rgba.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, core.NewError(core.InputInvalid, "empty image")
	}

	paddingPx := PaddingPixels(paddingLevel, tileSize)
	fullW := tileSize * grid.Cols
	fullH := tileSize * grid.Rows
	availW := fullW - 2*paddingPx
	if availW < 1 {
		availW = 1
	}
	availH := fullH - 2*paddingPx
	if availH < 1 {
		availH = 1
	}

	scaleX := float64(availW) / float64(bounds.Dx())
	scaleY := float64(availH) / float64(bounds.Dy())
	scale := scaleX
	if scaleY < scale {
		scale = scaleY
	}
	scaledW := int(math.Round(float64(bounds.Dx()) * scale))
	if scaledW < 1 {
		scaledW = 1
	}
	scaledH := int(math.Round(float64(bounds.Dy()) * scale))
	if scaledH < 1 {
		scaledH = 1
	}
	scaled := imaging.Resize(rgba, scaledW, scaledH, imaging.Lanczos)

	canvas := imaging.New(fullW, fullH, color.NRGBA{})
	offsetX := paddingPx + max0((availW-scaledW)/2)
	offsetY := paddingPx + max0((availH-scaledH)/2)
	composed := imaging.Overlay(canvas, scaled, image.Pt(offsetX, offsetY), 1.0)

	tiles := make([]Tile, grid.Rows*grid.Cols)
	g := new(errgroup.Group)
	for row := 0; row < grid.Rows; row++ {
		for col := 0; col < grid.Cols; col++ {
			row, col := row, col
			g.Go(func() error {
				rect := image.Rect(col*tileSize, row*tileSize, (col+1)*tileSize, (row+1)*tileSize)
				cell := imaging.Crop(composed, rect)
				var buf bytes.Buffer
				enc := png.Encoder{CompressionLevel: png.BestCompression}
				if err := enc.Encode(&buf, cell); err != nil {
					return fmt.Errorf("encode tile %d,%d: %w", row, col, err)
				}
				tiles[row*grid.Cols+col] = Tile{Row: row, Col: col, PNG: buf.Bytes()}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tiles, nil
}

// SliceFiles runs Slice and writes each tile to dir as
// <prefix>_<row>_<col>.png, returning the paths in row-major order.
func SliceFiles(data []byte, grid core.GridOption, paddingLevel, tileSize int, dir, prefix string) ([]string, error) {
	tiles, err := Slice(data, grid, paddingLevel, tileSize)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(tiles))
	for _, tile := range tiles {
		path := filepath.Join(dir, fmt.Sprintf("%s_%d_%d.png", prefix, tile.Row, tile.Col))
		if err := os.WriteFile(path, tile.PNG, 0o644); err != nil {
			return nil, core.WrapError(core.IO, "write tile", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
