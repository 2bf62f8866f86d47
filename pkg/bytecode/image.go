package bytecode

import (
	"bytes"
	"fmt"

	"github.com/chazu/mathvm/pkg/value"
	"github.com/fxamacker/cbor/v2"
)

// ImageMagic prefixes every encoded program image: "MVBC" (MathVM ByteCode).
var ImageMagic = []byte{'M', 'V', 'B', 'C'}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// image is the wire form of a Program.
type image struct {
	Version   uint16        `cbor:"1,keyasint"`
	Constants []string      `cbor:"2,keyasint"`
	Functions []imageFunc   `cbor:"3,keyasint"`
	Natives   []imageNative `cbor:"4,keyasint"`
}

type imageFunc struct {
	Name        string   `cbor:"1,keyasint"`
	Parent      int      `cbor:"2,keyasint"`
	ReturnType  uint8    `cbor:"3,keyasint"`
	ParamNames  []string `cbor:"4,keyasint"`
	ParamTypes  []uint8  `cbor:"5,keyasint"`
	LocalsCount uint16   `cbor:"6,keyasint"`
	VarNames    []string `cbor:"7,keyasint"`
	VarTypes    []uint8  `cbor:"8,keyasint"`
	Native      bool     `cbor:"9,keyasint"`
	Code        []byte   `cbor:"10,keyasint"`
}

type imageNative struct {
	Name       string  `cbor:"1,keyasint"`
	Return     uint8   `cbor:"2,keyasint"`
	ParamTypes []uint8 `cbor:"3,keyasint"`
}

// MarshalImage serializes a Program to bytes: magic followed by
// canonical CBOR. Equal programs encode to equal bytes.
func MarshalImage(p *Program) ([]byte, error) {
	img := image{Version: FormatVersion, Constants: p.Constants}
	for _, f := range p.Functions {
		imf := imageFunc{
			Name:        f.Name,
			Parent:      f.Parent,
			ReturnType:  uint8(f.ReturnType),
			LocalsCount: f.LocalsCount,
			VarNames:    f.VarNames,
			VarTypes:    typesToBytes(f.VarTypes),
			Native:      f.Native,
			Code:        f.Code.Bytes(),
		}
		for _, param := range f.Params {
			imf.ParamNames = append(imf.ParamNames, param.Name)
			imf.ParamTypes = append(imf.ParamTypes, uint8(param.Type))
		}
		img.Functions = append(img.Functions, imf)
	}
	for _, n := range p.Natives {
		img.Natives = append(img.Natives, imageNative{
			Name:       n.Name,
			Return:     uint8(n.Signature.Return),
			ParamTypes: typesToBytes(n.Signature.Params),
		})
	}

	body, err := cborEncMode.Marshal(&img)
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal image: %w", err)
	}
	return append(append([]byte{}, ImageMagic...), body...), nil
}

// UnmarshalImage decodes and verifies a Program image.
func UnmarshalImage(data []byte) (*Program, error) {
	if !bytes.HasPrefix(data, ImageMagic) {
		return nil, fmt.Errorf("bytecode: not a program image (bad magic)")
	}
	var img image
	if err := cbor.Unmarshal(data[len(ImageMagic):], &img); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal image: %w", err)
	}
	if img.Version != FormatVersion {
		return nil, fmt.Errorf("bytecode: image version %d, want %d", img.Version, FormatVersion)
	}
	if len(img.Constants) == 0 || img.Constants[0] != "" {
		return nil, fmt.Errorf("bytecode: image constant 0 must be the empty string")
	}

	p := &Program{Constants: img.Constants}
	for i, imf := range img.Functions {
		if len(imf.ParamNames) != len(imf.ParamTypes) {
			return nil, fmt.Errorf("bytecode: function %d: parameter tables differ in length", i)
		}
		f := &Function{
			ID:          uint16(i),
			Name:        imf.Name,
			Parent:      imf.Parent,
			ReturnType:  value.Type(imf.ReturnType),
			LocalsCount: imf.LocalsCount,
			VarNames:    imf.VarNames,
			VarTypes:    bytesToTypes(imf.VarTypes),
			Native:      imf.Native,
			Code:        BufferFrom(imf.Code),
		}
		for j, name := range imf.ParamNames {
			f.Params = append(f.Params, Param{Name: name, Type: value.Type(imf.ParamTypes[j])})
		}
		p.Functions = append(p.Functions, f)
	}
	for i, n := range img.Natives {
		p.Natives = append(p.Natives, &NativeEntry{
			ID:        uint16(i),
			Name:      n.Name,
			Signature: value.Signature{Return: value.Type(n.Return), Params: bytesToTypes(n.ParamTypes)},
		})
	}
	p.reindex()

	if err := Verify(p); err != nil {
		return nil, fmt.Errorf("bytecode: image rejected: %w", err)
	}
	return p, nil
}

func typesToBytes(ts []value.Type) []uint8 {
	out := make([]uint8, len(ts))
	for i, t := range ts {
		out[i] = uint8(t)
	}
	return out
}

func bytesToTypes(bs []uint8) []value.Type {
	out := make([]value.Type, len(bs))
	for i, b := range bs {
		out[i] = value.Type(b)
	}
	return out
}
