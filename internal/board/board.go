package board

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/karchx/randomchess/internal/domain"
)

// MoveHighlight marks the previous move's squares.
type MoveHighlight struct {
	From nchess.Square
	To   nchess.Square
}

// Options controls one render. Orientation puts that color's side at
// the bottom. Origin is the currently selected square; Targets are
// its playable destinations, drawn as a dot on empty squares and a
// ring on occupied ones.
type Options struct {
	Orientation domain.Color
	LastMove    *MoveHighlight
	Origin      nchess.Square
	Targets     []nchess.Square
}

// Renderer draws a position to a PNG.
type Renderer interface {
	RenderPNG(ctx context.Context, board *nchess.Board, opts Options) ([]byte, error)
}

type pngRenderer struct{}

func NewRenderer() Renderer {
	return &pngRenderer{}
}

const (
	squareSize   = 72
	boardSquares = 8
	boardSize    = squareSize * boardSquares
	margin       = 28
)

var (
	lightSquare    = color.RGBA{233, 207, 163, 255}
	darkSquare     = color.RGBA{187, 136, 96, 255}
	backgroundFill = color.RGBA{34, 36, 46, 255}
	lastMoveFill   = color.NRGBA{R: 255, G: 228, B: 120, A: 130}
	originFill     = color.NRGBA{R: 120, G: 196, B: 255, A: 140}
	targetMark     = color.NRGBA{R: 40, G: 44, B: 56, A: 150}
	coordinateText = color.NRGBA{R: 214, G: 218, B: 232, A: 255}
)

func (r *pngRenderer) RenderPNG(ctx context.Context, board *nchess.Board, opts Options) ([]byte, error) {
	if board == nil {
		return nil, fmt.Errorf("board is nil")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	flipped := opts.Orientation == domain.Black
	origin := image.Point{X: margin, Y: margin}
	img := image.NewRGBA(image.Rect(0, 0, boardSize+margin*2, boardSize+margin*2))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundFill), image.Point{}, imagedraw.Src)

	drawSquares(img, origin, flipped)
	if opts.LastMove != nil {
		drawSquareOverlay(img, opts.LastMove.From, origin, flipped, lastMoveFill)
		drawSquareOverlay(img, opts.LastMove.To, origin, flipped, lastMoveFill)
	}
	if opts.Origin != nchess.NoSquare {
		drawSquareOverlay(img, opts.Origin, origin, flipped, originFill)
	}
	if err := drawPieces(img, board, origin, flipped); err != nil {
		return nil, err
	}
	drawTargets(img, board, opts.Targets, origin, flipped)
	drawCoordinates(img, origin, flipped)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func drawSquares(img *image.RGBA, origin image.Point, flipped bool) {
	for sq := nchess.A1; sq <= nchess.H8; sq++ {
		rect := squareRect(sq, origin, flipped)
		imagedraw.Draw(img, rect, image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
	}
}

func drawPieces(img *image.RGBA, board *nchess.Board, origin image.Point, flipped bool) error {
	boardMap := board.SquareMap()
	for sq, piece := range boardMap {
		if piece == nchess.NoPiece {
			continue
		}
		pieceImg, err := renderPieceImage(piece, squareSize)
		if err != nil {
			return err
		}
		rect := squareRect(sq, origin, flipped)
		imagedraw.Draw(img, rect, pieceImg, image.Point{}, imagedraw.Over)
	}
	return nil
}

// drawTargets marks destinations: a dot on empty squares, a ring
// around occupied ones so the piece stays visible.
func drawTargets(img *image.RGBA, board *nchess.Board, targets []nchess.Square, origin image.Point, flipped bool) {
	for _, sq := range targets {
		rect := squareRect(sq, origin, flipped)
		center := image.Point{
			X: rect.Min.X + squareSize/2,
			Y: rect.Min.Y + squareSize/2,
		}
		if board.Piece(sq) != nchess.NoPiece {
			drawRing(img, center, squareSize/2-4, 5, targetMark)
			continue
		}
		drawDisc(img, center, squareSize/7, targetMark)
	}
}

func drawCoordinates(img *image.RGBA, origin image.Point, flipped bool) {
	drawer := &font.Drawer{
		Dst:  img,
		Face: basicfont.Face7x13,
		Src:  image.NewUniform(coordinateText),
	}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()

	for i := 0; i < boardSquares; i++ {
		rank := i + 1
		file := byte('a' + i)
		if flipped {
			rank = boardSquares - i
			file = byte('a' + boardSquares - 1 - i)
		}

		rankCenter := origin.Y + (boardSquares-1-i)*squareSize + squareSize/2
		drawCenteredText(drawer, fmt.Sprintf("%d", rank), origin.X-margin/2, rankCenter+ascent/2)

		fileCenter := origin.X + i*squareSize + squareSize/2
		drawCenteredText(drawer, string(file), fileCenter, origin.Y+boardSize+margin/2+ascent/2)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func drawSquareOverlay(img *image.RGBA, sq nchess.Square, origin image.Point, flipped bool, clr color.Color) {
	rect := squareRect(sq, origin, flipped)
	imagedraw.Draw(img, rect, image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func drawDisc(img *image.RGBA, center image.Point, radius int, clr color.Color) {
	rSquared := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y > rSquared {
				continue
			}
			blendPixel(img, center.X+x, center.Y+y, clr)
		}
	}
}

func drawRing(img *image.RGBA, center image.Point, radius, thickness int, clr color.Color) {
	outer := radius * radius
	innerRadius := radius - thickness
	inner := innerRadius * innerRadius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			d := x*x + y*y
			if d > outer || d < inner {
				continue
			}
			blendPixel(img, center.X+x, center.Y+y, clr)
		}
	}
}

func blendPixel(img *image.RGBA, x, y int, clr color.Color) {
	if !(image.Point{X: x, Y: y}).In(img.Bounds()) {
		return
	}

	sr, sg, sb, sa := clr.RGBA()
	srcA := float64(sa) / 65535.0
	if srcA <= 0 {
		return
	}
	srcR := float64(sr) / 65535.0
	srcG := float64(sg) / 65535.0
	srcB := float64(sb) / 65535.0

	dst := img.RGBAAt(x, y)
	dstA := float64(dst.A) / 255.0

	var dstR, dstG, dstB float64
	if dstA > 0 {
		inv := 1.0 / dstA
		dstR = float64(dst.R) / 255.0 * inv
		dstG = float64(dst.G) / 255.0 * inv
		dstB = float64(dst.B) / 255.0 * inv
	}

	outA := srcA + dstA*(1-srcA)
	if outA <= 0 {
		img.SetRGBA(x, y, color.RGBA{})
		return
	}

	outR := (srcR*srcA + dstR*dstA*(1-srcA)) / outA
	outG := (srcG*srcA + dstG*dstA*(1-srcA)) / outA
	outB := (srcB*srcA + dstB*dstA*(1-srcA)) / outA

	img.SetRGBA(x, y, color.RGBA{
		R: floatToUint8(outR * outA * 255.0),
		G: floatToUint8(outG * outA * 255.0),
		B: floatToUint8(outB * outA * 255.0),
		A: floatToUint8(outA * 255.0),
	})
}

func floatToUint8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

func squareRect(sq nchess.Square, origin image.Point, flipped bool) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	if flipped {
		col = 7 - col
		row = 7 - row
	}
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}
