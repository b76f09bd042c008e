// Package raster holds the pixel operations used to derive tiles from
// neighbouring zoom levels. Every function works on in-memory RGBA buffers
// and is free of any windowing or GPU dependency.
package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	// tile decoders
	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"
)

// ErrDecode is returned when tile bytes are not a supported image.
var ErrDecode = errors.New("raster: cannot decode tile image")

// Decode 解码 png/jpg/webp 瓦片
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrDecode
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// EncodePNG 编码为 png
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// JPEGQuality 重新编码 jpg 瓦片的质量
const JPEGQuality = 90

// ErrEncode is returned for an output format without an encoder.
var ErrEncode = errors.New("raster: no encoder for format")

// Encode encodes img as format: "png", "jpg" or "jpeg".
func Encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	case "jpg", "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality})
	default:
		return nil, fmt.Errorf("%w: %q", ErrEncode, format)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Transcode returns data encoded as format. Tiles already in that format
// come back unchanged.
func Transcode(data []byte, format string) ([]byte, error) {
	_, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if name == format || (name == "jpeg" && format == "jpg") {
		return data, nil
	}
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Encode(img, format)
}

// ToRGBA returns img itself when it is already an RGBA anchored at the origin.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return dst
}

// Scale resamples src into a new side×side canvas with Catmull-Rom.
func Scale(src image.Image, side int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.CatmullRom.Scale(dst, dst.Rect, src, src.Bounds(), draw.Src, nil)
	return dst
}

// Crop copies r out of src row by row. r is clipped to src.
func Crop(src *image.RGBA, r image.Rectangle) *image.RGBA {
	r = r.Intersect(src.Rect)
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	if r.Empty() {
		return dst
	}
	rowBytes := r.Dx() * 4
	for y := 0; y < r.Dy(); y++ {
		si := src.PixOffset(r.Min.X, r.Min.Y+y)
		di := y * dst.Stride
		copy(dst.Pix[di:di+rowBytes], src.Pix[si:si+rowBytes])
	}
	return dst
}

// Stitch places factor×factor tiles, row-major, on a canvas of exactly
// side·factor pixels. Tiles whose size differs from side are scaled into
// their cell.
func Stitch(tiles []image.Image, factor, side int) (*image.RGBA, error) {
	if len(tiles) != factor*factor {
		return nil, fmt.Errorf("raster: stitch needs %d tiles, got %d", factor*factor, len(tiles))
	}
	canvas := image.NewRGBA(image.Rect(0, 0, side*factor, side*factor))
	for iy := 0; iy < factor; iy++ {
		for ix := 0; ix < factor; ix++ {
			src := tiles[iy*factor+ix]
			if src == nil {
				return nil, fmt.Errorf("raster: stitch cell %d,%d is empty", ix, iy)
			}
			cell := image.Rect(ix*side, iy*side, (ix+1)*side, (iy+1)*side)
			sb := src.Bounds()
			if sb.Dx() == side && sb.Dy() == side {
				draw.Draw(canvas, cell, src, sb.Min, draw.Src)
			} else {
				draw.CatmullRom.Scale(canvas, cell, src, sb, draw.Src, nil)
			}
		}
	}
	return canvas, nil
}

// Downsample stitches a factor×factor block and scales it to one tile.
func Downsample(tiles []image.Image, factor, side int) (*image.RGBA, error) {
	canvas, err := Stitch(tiles, factor, side)
	if err != nil {
		return nil, err
	}
	return Scale(canvas, side), nil
}

// Upsample crops sub-tile (ix, iy) of a factor×factor split of src and
// scales it back up to side pixels. src is first normalised to side pixels.
func Upsample(src image.Image, factor, ix, iy, side int) (*image.RGBA, error) {
	cell := side / factor
	if cell < 1 {
		return nil, fmt.Errorf("raster: factor %d leaves no pixels of a %d px tile", factor, side)
	}
	if ix < 0 || iy < 0 || ix >= factor || iy >= factor {
		return nil, fmt.Errorf("raster: sub-tile %d,%d outside %d×%d", ix, iy, factor, factor)
	}
	var base *image.RGBA
	if b := src.Bounds(); b.Dx() == side && b.Dy() == side {
		base = ToRGBA(src)
	} else {
		base = Scale(src, side)
	}
	crop := Crop(base, image.Rect(ix*cell, iy*cell, (ix+1)*cell, (iy+1)*cell))
	return Scale(crop, side), nil
}
