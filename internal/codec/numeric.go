package codec

import (
	"encoding/binary"
	"math/big"

	"github.com/shopspring/decimal"
)

// PostgreSQL's NUMERIC binary format groups decimal digits into base-10000
// ("NBASE") words: ndigits(int16), weight(int16, the base-10000 exponent
// of the first digit group), sign(uint16), dscale(uint16, display scale),
// followed by ndigits int16 digit groups.
const (
	numericPosSign = 0x0000
	numericNegSign = 0x4000
	numericNaNSign = 0xC000
	nbase          = 10000
)

type numericCodec struct{}

func (numericCodec) Encode(v any) ([]byte, error) {
	d, ok := v.(decimal.Decimal)
	if !ok {
		if dp, ok2 := v.(*decimal.Decimal); ok2 && dp != nil {
			d = *dp
		} else {
			return nil, &ValueEncodeError{OID: OIDNumeric, Value: v, Msg: "want decimal.Decimal"}
		}
	}
	return encodeNumeric(d), nil
}

func encodeNumeric(d decimal.Decimal) []byte {
	coeff := d.Coefficient()
	exp := d.Exponent()

	sign := uint16(numericPosSign)
	if coeff.Sign() < 0 {
		sign = numericNegSign
		coeff = new(big.Int).Abs(coeff)
	}

	dscale := uint16(0)
	if exp < 0 {
		dscale = uint16(-exp)
	}

	if coeff.Sign() == 0 {
		return packNumeric(nil, 0, sign, dscale)
	}

	digitsStr := coeff.String()

	// Pad with trailing zeros so the resulting exponent is a multiple of 4
	// (value is unchanged: appending a zero digit and decrementing exp by
	// one leaves digitsStr*10^exp equal).
	trailingPad := ((int(exp) % 4) + 4) % 4
	for i := 0; i < trailingPad; i++ {
		digitsStr += "0"
		exp--
	}

	// Pad on the left so the digit string splits evenly into groups of 4.
	if rem := len(digitsStr) % 4; rem != 0 {
		leadingPad := 4 - rem
		for i := 0; i < leadingPad; i++ {
			digitsStr = "0" + digitsStr
		}
	}

	ndigits := len(digitsStr) / 4
	weight := int32(ndigits-1) + exp/4

	groups := make([]int16, ndigits)
	for i := 0; i < ndigits; i++ {
		chunk := digitsStr[i*4 : i*4+4]
		n := 0
		for _, c := range chunk {
			n = n*10 + int(c-'0')
		}
		groups[i] = int16(n)
	}

	return packNumeric(groups, weight, sign, dscale)
}

func packNumeric(groups []int16, weight int32, sign, dscale uint16) []byte {
	buf := make([]byte, 8+2*len(groups))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(groups)))
	binary.BigEndian.PutUint16(buf[2:4], uint16(int16(weight)))
	binary.BigEndian.PutUint16(buf[4:6], sign)
	binary.BigEndian.PutUint16(buf[6:8], dscale)
	for i, g := range groups {
		binary.BigEndian.PutUint16(buf[8+2*i:10+2*i], uint16(g))
	}
	return buf
}

func (numericCodec) Decode(raw []byte) (any, error) {
	if len(raw) < 8 {
		return nil, &ValueDecodeError{OID: OIDNumeric, Msg: "header too short"}
	}
	ndigits := int(binary.BigEndian.Uint16(raw[0:2]))
	weight := int16(binary.BigEndian.Uint16(raw[2:4]))
	sign := binary.BigEndian.Uint16(raw[4:6])

	if sign == numericNaNSign {
		return decimal.Decimal{}, &ValueDecodeError{OID: OIDNumeric, Msg: "NaN numeric has no decimal.Decimal representation"}
	}
	if len(raw) < 8+2*ndigits {
		return nil, &ValueDecodeError{OID: OIDNumeric, Msg: "digit groups truncated"}
	}

	if ndigits == 0 {
		return decimal.New(0, 0), nil
	}

	digitsStr := ""
	for i := 0; i < ndigits; i++ {
		g := binary.BigEndian.Uint16(raw[8+2*i : 10+2*i])
		digitsStr += padGroup(int(g))
	}

	coeff := new(big.Int)
	coeff.SetString(digitsStr, 10)
	if sign == numericNegSign {
		coeff.Neg(coeff)
	}

	exp := 4 * (int32(weight) - int32(ndigits) + 1)
	return decimal.NewFromBigInt(coeff, exp), nil
}

func padGroup(n int) string {
	const digits = "0123456789"
	out := [4]byte{'0', '0', '0', '0'}
	for i := 3; i >= 0 && n > 0; i-- {
		out[i] = digits[n%10]
		n /= 10
	}
	return string(out[:])
}

func registerNumericCodec(r *Registry) {
	r.Register(OIDNumeric, numericCodec{})
}
