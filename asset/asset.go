// Package asset implements GodCoin's fixed-precision signed amount type.
//
// Amounts are stored as a signed 64-bit integer of minor units (four digits
// past the decimal point). All arithmetic is checked: overflow, underflow
// and divide-by-zero return ok=false rather than panicking or wrapping,
// since a ledger that silently wraps a balance forks consensus.
package asset

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/godcoin-go/godcoin/serializer"
)

// MaxPrecision is the number of digits required after the decimal point.
const MaxPrecision = 4

// Suffix is the currency symbol appended to the canonical string form.
const Suffix = "GRAEL"

// MaxStrLen is the longest accepted string representation of an Asset.
const MaxStrLen = 26

// ErrKind enumerates the ways parsing or arithmetic on an Asset can fail.
type ErrKind int

const (
	// ErrInvalidAmount covers malformed numeric bodies and failed arithmetic.
	ErrInvalidAmount ErrKind = iota
	// ErrInvalidFormat covers a missing currency suffix or separator.
	ErrInvalidFormat
	// ErrInvalidAssetType covers a currency suffix that isn't Suffix.
	ErrInvalidAssetType
	// ErrStrTooLarge covers an input string over MaxStrLen bytes.
	ErrStrTooLarge
)

// Error is returned by Parse on malformed input.
type Error struct {
	Kind ErrKind
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrInvalidAmount:
		return "asset: invalid amount"
	case ErrInvalidFormat:
		return "asset: invalid format"
	case ErrInvalidAssetType:
		return "asset: invalid asset type"
	case ErrStrTooLarge:
		return "asset: string too large"
	default:
		return "asset: unknown error"
	}
}

func newErr(kind ErrKind) error { return &Error{Kind: kind} }

// Asset is a signed fixed-precision scalar of a single currency.
type Asset struct {
	Amount int64
}

// New wraps a raw minor-unit amount.
func New(amount int64) Asset { return Asset{Amount: amount} }

// Add performs a checked addition, returning ok=false on overflow.
func (a Asset) Add(b Asset) (Asset, bool) {
	sum := a.Amount + b.Amount
	if (b.Amount > 0 && sum < a.Amount) || (b.Amount < 0 && sum > a.Amount) {
		return Asset{}, false
	}
	return Asset{Amount: sum}, true
}

// Sub performs a checked subtraction, returning ok=false on underflow.
func (a Asset) Sub(b Asset) (Asset, bool) {
	diff := a.Amount - b.Amount
	if (b.Amount < 0 && diff < a.Amount) || (b.Amount > 0 && diff > a.Amount) {
		return Asset{}, false
	}
	return Asset{Amount: diff}, true
}

// Mul performs a checked multiplication, widening to 128 bits internally so
// the declared four-digit precision can be preserved without overflow.
func (a Asset) Mul(b Asset) (Asset, bool) {
	const mulPrecision = MaxPrecision * 2
	mul := new(big.Int).Mul(big.NewInt(a.Amount), big.NewInt(b.Amount))
	final := setDecimalsBig(mul, mulPrecision, MaxPrecision)
	if !final.IsInt64() {
		return Asset{}, false
	}
	return Asset{Amount: final.Int64()}, true
}

// Div performs a checked division. Returns ok=false when dividing by zero.
func (a Asset) Div(b Asset) (Asset, bool) {
	if b.Amount == 0 {
		return Asset{}, false
	}
	const divPrecision = MaxPrecision * 2
	widened, ok := setDecimalsI64(a.Amount, MaxPrecision, divPrecision)
	if !ok {
		return Asset{}, false
	}
	return Asset{Amount: widened / b.Amount}, true
}

// Pow raises the amount to an integer power using exponentiation by
// squaring, widening through big.Int to avoid intermediate overflow.
func (a Asset) Pow(num uint16) (Asset, bool) {
	if num == 0 {
		one, ok := setDecimalsI64(1, 0, MaxPrecision)
		if !ok {
			return Asset{}, false
		}
		return Asset{Amount: one}, true
	}

	decimals := uint32(MaxPrecision) * uint32(num)
	res := big.NewInt(1)
	base := big.NewInt(a.Amount)
	exp := num
	for {
		if exp&1 == 1 {
			res.Mul(res, base)
		}
		exp >>= 1
		if exp == 0 {
			break
		}
		base.Mul(base, base)
	}

	res = setDecimalsBig(res, decimals, MaxPrecision)
	if !res.IsInt64() {
		return Asset{}, false
	}
	return Asset{Amount: res.Int64()}, true
}

// String renders the canonical "<int>.<4 digits> GRAEL" form.
func (a Asset) String() string {
	s := strconv.FormatInt(a.Amount, 10)
	neg := a.Amount < 0
	start := 0
	if neg {
		start = 1
	}
	digits := len(s) - start
	switch {
	case digits < MaxPrecision:
		pad := strings.Repeat("0", MaxPrecision-digits)
		s = s[:start] + "0." + pad + s[start:]
	case digits == MaxPrecision:
		s = s[:start] + "0." + s[start:]
	default:
		split := len(s) - MaxPrecision
		s = s[:split] + "." + s[split:]
	}
	return s + " " + Suffix
}

// Parse decodes the canonical string form. The decimal point must be
// present with exactly MaxPrecision digits following it.
func Parse(s string) (Asset, error) {
	if len(s) > MaxStrLen {
		return Asset{}, newErr(ErrStrTooLarge)
	}
	trimmed := strings.TrimSpace(s)
	parts := strings.SplitN(trimmed, " ", 2)

	numPart := parts[0]
	dot := strings.IndexByte(numPart, '.')
	if dot == -1 {
		return Asset{}, newErr(ErrInvalidAmount)
	}
	decimals := len(numPart) - dot - 1
	if decimals != MaxPrecision {
		return Asset{}, newErr(ErrInvalidAmount)
	}
	digits := strings.Replace(numPart, ".", "", 1)
	amount, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return Asset{}, newErr(ErrInvalidAmount)
	}

	if len(parts) < 2 {
		return Asset{}, newErr(ErrInvalidFormat)
	}
	if parts[1] != Suffix {
		return Asset{}, newErr(ErrInvalidAssetType)
	}

	return Asset{Amount: amount}, nil
}

// MustParse is a test/tooling helper that panics on malformed input.
func MustParse(s string) Asset {
	a, err := Parse(s)
	if err != nil {
		panic(errors.Wrapf(err, "asset: must parse %q", s))
	}
	return a
}

func setDecimalsBig(v *big.Int, from, to uint32) *big.Int {
	if from == to {
		return v
	}
	if from > to {
		div := pow10(from - to)
		return new(big.Int).Quo(v, div)
	}
	mul := pow10(to - from)
	return new(big.Int).Mul(v, mul)
}

func setDecimalsI64(v int64, from, to uint32) (int64, bool) {
	r := setDecimalsBig(big.NewInt(v), from, to)
	if !r.IsInt64() {
		return 0, false
	}
	return r.Int64(), true
}

func pow10(n uint32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Encode appends the signed 64-bit minor-unit amount to w.
func (a Asset) Encode(w *serializer.Writer) { w.PushI64(a.Amount) }

// Decode reads a signed 64-bit minor-unit amount from r.
func Decode(r *serializer.Reader) (Asset, error) {
	v, err := r.TakeI64()
	if err != nil {
		return Asset{}, err
	}
	return Asset{Amount: v}, nil
}
