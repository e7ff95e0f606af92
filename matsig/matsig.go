// Package matsig implements material signatures: a compact encoding of the
// per-side piece counts of a chess position in the low 24 bits of a uint32.
//
// From the most significant used bit down, the layout is:
//
//	Bits 22-23: WQ    Bits 10-11: BQ
//	Bits 20-21: WR    Bits 08-09: BR
//	Bits 18-19: WB    Bits 06-07: BB
//	Bits 16-17: WN    Bits 04-05: BN
//	Bits 12-15: WP    Bits 00-03: BP
//
// Pawn counters hold 0-15. All other counters saturate at 3. Kings are not
// counted.
package matsig

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Signature is a bit-packed material signature.
type Signature uint32

// Piece identifies a coloured piece using the scid piece codes. The colour
// is bit 3 and the piece kind is the low three bits.
type Piece uint8

const (
	WK Piece = 1
	WQ Piece = 2
	WR Piece = 3
	WB Piece = 4
	WN Piece = 5
	WP Piece = 6
	BK Piece = 9
	BQ Piece = 10
	BR Piece = 11
	BB Piece = 12
	BN Piece = 13
	BP Piece = 14
)

const (
	shiftBP = 0
	shiftBN = 4
	shiftBB = 6
	shiftBR = 8
	shiftBQ = 10
	shiftWP = 12
	shiftWN = 16
	shiftWB = 18
	shiftWR = 20
	shiftWQ = 22
)

const (
	MaskBP Signature = 0x0000000F
	MaskBN Signature = 0x00000030
	MaskBB Signature = 0x000000C0
	MaskBR Signature = 0x00000300
	MaskBQ Signature = 0x00000C00
	MaskWP Signature = 0x0000F000
	MaskWN Signature = 0x00030000
	MaskWB Signature = 0x000C0000
	MaskWR Signature = 0x00300000
	MaskWQ Signature = 0x00C00000
)

const (
	// MaxPieces is the saturation value of every non-pawn counter.
	MaxPieces = 3
	// MaxPawns is the largest value a pawn counter can hold.
	MaxPawns = 15

	halfMask Signature = 0x00000FFF
)

// Empty is the signature of a position with nothing but kings.
const Empty Signature = 0

var (
	// ErrInvalidPiece is returned when writing a counter for a piece code
	// that has no counter (kings, empty squares, invalid codes).
	ErrInvalidPiece = errors.New("matsig: piece has no counter")
	// ErrPawnOverflow is returned when a pawn count does not fit in four bits.
	ErrPawnOverflow = errors.New("matsig: pawn count exceeds 15")
)

var maskByPiece = [16]Signature{
	0,      //  0: empty
	0,      //  1: WK
	MaskWQ, //  2: WQ
	MaskWR, //  3: WR
	MaskWB, //  4: WB
	MaskWN, //  5: WN
	MaskWP, //  6: WP
	0, 0,   //  7, 8: invalid
	0,      //  9: BK
	MaskBQ, // 10: BQ
	MaskBR, // 11: BR
	MaskBB, // 12: BB
	MaskBN, // 13: BN
	MaskBP, // 14: BP
	0,      // 15: invalid
}

var shiftByPiece = [16]uint{
	0, 0,
	shiftWQ,
	shiftWR,
	shiftWB,
	shiftWN,
	shiftWP,
	0, 0, 0,
	shiftBQ,
	shiftBR,
	shiftBB,
	shiftBN,
	shiftBP,
	0,
}

// Valid reports whether p has a counter in a signature.
func (p Piece) Valid() bool {
	return int(p) < len(maskByPiece) && maskByPiece[p] != 0
}

// IsPawn reports whether p is a white or black pawn.
func (p Piece) IsPawn() bool { return p == WP || p == BP }

// Count returns the counter stored for p. Pieces without a counter yield 0.
func Count(s Signature, p Piece) uint {
	if !p.Valid() {
		return 0
	}
	return uint((s & maskByPiece[p]) >> shiftByPiece[p])
}

// SetCount returns s with the counter for p replaced by n. Non-pawn counts
// above 3 are clamped to 3. Pawn counts above 15 cannot be represented and
// are rejected with ErrPawnOverflow; s is returned unchanged in that case.
func SetCount(s Signature, p Piece, n uint) (Signature, error) {
	if !p.Valid() {
		return s, fmt.Errorf("%w: %d", ErrInvalidPiece, p)
	}
	if p.IsPawn() {
		if n > MaxPawns {
			return s, fmt.Errorf("%w: %d", ErrPawnOverflow, n)
		}
	} else if n > MaxPieces {
		n = MaxPieces
	}
	s &^= maskByPiece[p]
	return s | Signature(n)<<shiftByPiece[p], nil
}

// Count is shorthand for the package-level Count.
func (s Signature) Count(p Piece) uint { return Count(s, p) }

// FlipColor swaps the white and black halves of s. Bits above the 24
// counter bits are left in place, so flipping twice returns s.
func FlipColor(s Signature) Signature {
	return (s &^ (halfMask<<12 | halfMask)) | (s>>12)&halfMask | (s&halfMask)<<12
}

// Counts holds the material of one side.
type Counts struct {
	Queens  uint `json:"queens"`
	Rooks   uint `json:"rooks"`
	Bishops uint `json:"bishops"`
	Knights uint `json:"knights"`
	Pawns   uint `json:"pawns"`
}

// Build encodes the material of both sides. Non-pawn counts saturate at 3.
func Build(white, black Counts) (Signature, error) {
	s := Empty
	var err error
	for _, side := range []struct {
		c                 Counts
		q, r, b, n, pawns Piece
	}{
		{white, WQ, WR, WB, WN, WP},
		{black, BQ, BR, BB, BN, BP},
	} {
		for _, w := range []struct {
			p Piece
			n uint
		}{
			{side.q, side.c.Queens},
			{side.r, side.c.Rooks},
			{side.b, side.c.Bishops},
			{side.n, side.c.Knights},
			{side.pawns, side.c.Pawns},
		} {
			if s, err = SetCount(s, w.p, w.n); err != nil {
				return Empty, err
			}
		}
	}
	return s, nil
}

// White returns the material of the white side.
func (s Signature) White() Counts {
	return Counts{Queens: Count(s, WQ), Rooks: Count(s, WR), Bishops: Count(s, WB), Knights: Count(s, WN), Pawns: Count(s, WP)}
}

// Black returns the material of the black side.
func (s Signature) Black() Counts {
	return Counts{Queens: Count(s, BQ), Rooks: Count(s, BR), Bishops: Count(s, BB), Knights: Count(s, BN), Pawns: Count(s, BP)}
}

// Has reports whether s holds at least one p.
func Has(s Signature, p Piece) bool {
	return p.Valid() && s&maskByPiece[p] != 0
}

// HasQueens reports whether either side has a queen.
func HasQueens(s Signature) bool { return s&(MaskWQ|MaskBQ) != 0 }

// HasRooks reports whether either side has a rook.
func HasRooks(s Signature) bool { return s&(MaskWR|MaskBR) != 0 }

// HasBishops reports whether either side has a bishop.
func HasBishops(s Signature) bool { return s&(MaskWB|MaskBB) != 0 }

// HasKnights reports whether either side has a knight.
func HasKnights(s Signature) bool { return s&(MaskWN|MaskBN) != 0 }

// HasPawns reports whether either side has a pawn.
func HasPawns(s Signature) bool { return s&(MaskWP|MaskBP) != 0 }

// IsReachable reports whether a game whose current material is start could
// still reach the material target. Pawns never increase. Without
// underpromotion rooks, bishops and knights never increase either, and
// without any promotion neither do queens.
func IsReachable(start, target Signature, hadPromotion, hadUnderpromotion bool) bool {
	if Count(target, WP) > Count(start, WP) || Count(target, BP) > Count(start, BP) {
		return false
	}
	if hadUnderpromotion {
		return true
	}
	for _, p := range []Piece{WR, BR, WB, BB, WN, BN} {
		if Count(target, p) > Count(start, p) {
			return false
		}
	}
	if hadPromotion {
		return true
	}
	return Count(target, WQ) <= Count(start, WQ) && Count(target, BQ) <= Count(start, BQ)
}

// Display renders s as white's material, a colon, then black's material.
// Each side lists its queens, rooks, bishops and knights as letters,
// followed by the pawn count and a trailing '0' marker when it has pawns.
// The empty signature renders as ":".
func Display(s Signature) string {
	var b strings.Builder
	writeSide(&b, s.White())
	b.WriteByte(':')
	writeSide(&b, s.Black())
	return b.String()
}

// String implements fmt.Stringer using Display.
func (s Signature) String() string { return Display(s) }

func writeSide(b *strings.Builder, c Counts) {
	b.WriteString(strings.Repeat("Q", int(c.Queens)))
	b.WriteString(strings.Repeat("R", int(c.Rooks)))
	b.WriteString(strings.Repeat("B", int(c.Bishops)))
	b.WriteString(strings.Repeat("N", int(c.Knights)))
	if c.Pawns > 0 {
		b.WriteString(strconv.FormatUint(uint64(c.Pawns), 10))
		b.WriteByte('0')
	}
}

// Parse is the inverse of Display.
func Parse(text string) (Signature, error) {
	white, black, ok := strings.Cut(text, ":")
	if !ok {
		return Empty, fmt.Errorf("matsig: %q: missing ':' separator", text)
	}
	wc, err := parseSide(white)
	if err != nil {
		return Empty, fmt.Errorf("matsig: %q: white: %w", text, err)
	}
	bc, err := parseSide(black)
	if err != nil {
		return Empty, fmt.Errorf("matsig: %q: black: %w", text, err)
	}
	return Build(wc, bc)
}

func parseSide(text string) (Counts, error) {
	var c Counts
	i := 0
	for ; i < len(text); i++ {
		var n *uint
		switch text[i] {
		case 'Q':
			n = &c.Queens
		case 'R':
			n = &c.Rooks
		case 'B':
			n = &c.Bishops
		case 'N':
			n = &c.Knights
		}
		if n == nil {
			break
		}
		if *n == MaxPieces {
			return c, fmt.Errorf("more than %d of %q", MaxPieces, text[i])
		}
		*n++
	}
	digits := text[i:]
	if digits == "" {
		return c, nil
	}
	if len(digits) < 2 || digits[len(digits)-1] != '0' {
		return c, fmt.Errorf("pawn count %q lacks the trailing marker", digits)
	}
	pawns, err := strconv.ParseUint(digits[:len(digits)-1], 10, 8)
	if err != nil {
		return c, fmt.Errorf("pawn count %q: %w", digits, err)
	}
	if pawns == 0 {
		return c, fmt.Errorf("zero pawn count %q", digits)
	}
	c.Pawns = uint(pawns)
	return c, nil
}
