package witmap

import (
	"fmt"
	"sync"

	"go.bytecodealliance.org/wit"
	"go.uber.org/multierr"

	"github.com/wippyai/mpiwrap/datatype"
	"github.com/wippyai/mpiwrap/errors"
)

// Info is the canonical ABI layout of a mapped type.
type Info struct {
	Type  datatype.Handle
	Size  uint32
	Align uint32
}

// Builder derives datatypes from WIT types. Derived handles are cached per
// type definition and stay owned by the builder until Release.
type Builder struct {
	reg   *datatype.Registry
	cache map[*wit.TypeDef]Info
	owned []datatype.Handle
	mu    sync.Mutex
}

// New creates a Builder that registers derived types in reg.
func New(reg *datatype.Registry) *Builder {
	return &Builder{
		reg:   reg,
		cache: make(map[*wit.TypeDef]Info),
	}
}

// Build returns the datatype describing one value of t in linear memory.
func (b *Builder) Build(t wit.Type) (datatype.Handle, error) {
	info, err := b.Layout(t)
	return info.Type, err
}

// Layout returns the datatype of t together with its canonical size and
// alignment.
func (b *Builder) Layout(t wit.Type) (Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.layout(t, nil)
}

// Release frees every derived handle the builder created and clears the
// cache.
func (b *Builder) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	for _, h := range b.owned {
		err = multierr.Append(err, b.reg.Free(h))
	}
	b.owned = b.owned[:0]
	clear(b.cache)
	return err
}

func (b *Builder) layout(t wit.Type, path []string) (Info, error) {
	switch typ := t.(type) {
	case wit.Bool:
		return leaf(datatype.CBool, 1), nil
	case wit.U8:
		return leaf(datatype.Uint8, 1), nil
	case wit.S8:
		return leaf(datatype.Int8, 1), nil
	case wit.U16:
		return leaf(datatype.Uint16, 2), nil
	case wit.S16:
		return leaf(datatype.Int16, 2), nil
	case wit.U32, wit.Char:
		return leaf(datatype.Uint32, 4), nil
	case wit.S32:
		return leaf(datatype.Int32, 4), nil
	case wit.U64:
		return leaf(datatype.Uint64, 8), nil
	case wit.S64:
		return leaf(datatype.Int64, 8), nil
	case wit.F32:
		return leaf(datatype.Float, 4), nil
	case wit.F64:
		return leaf(datatype.Double, 8), nil
	case *wit.TypeDef:
		return b.typeDef(typ, path)
	default:
		return Info{}, unsupported(t, path)
	}
}

func (b *Builder) typeDef(t *wit.TypeDef, path []string) (Info, error) {
	if cached, ok := b.cache[t]; ok {
		return cached, nil
	}

	var (
		info Info
		err  error
	)
	switch kind := t.Kind.(type) {
	case *wit.Record:
		fields := make([]wit.Type, len(kind.Fields))
		names := make([]string, len(kind.Fields))
		for i, f := range kind.Fields {
			fields[i] = f.Type
			names[i] = f.Name
		}
		info, err = b.aggregate(fields, names, path)
	case *wit.Tuple:
		names := make([]string, len(kind.Types))
		for i := range names {
			names[i] = fmt.Sprintf("%d", i)
		}
		info, err = b.aggregate(kind.Types, names, path)
	case *wit.Enum:
		info, err = enum(len(kind.Cases), path)
	case *wit.Flags:
		info, err = b.flags(len(kind.Flags), path)
	case wit.Type:
		info, err = b.layout(kind, path)
	default:
		err = unsupported(kind, path)
	}
	if err != nil {
		return Info{}, err
	}

	b.cache[t] = info
	return info, nil
}

// aggregate lays fields out in order, each at the next offset aligned to
// its own alignment, and pads the total to the largest alignment.
func (b *Builder) aggregate(types []wit.Type, names []string, path []string) (Info, error) {
	if len(types) == 0 {
		return Info{}, errors.New(errors.PhaseMap, errors.KindUnsupported).
			Path(path...).
			Detail("zero-sized aggregate has no datatype").
			Build()
	}

	fields := make([]datatype.StructField, 0, len(types))
	maxAlign := uint32(1)
	offset := uint32(0)

	for i, ft := range types {
		fi, err := b.layout(ft, append(path, names[i]))
		if err != nil {
			return Info{}, err
		}
		offset = alignTo(offset, fi.Align)
		fields = append(fields, datatype.StructField{Count: 1, Offset: int64(offset), Type: fi.Type})
		maxAlign = max(maxAlign, fi.Align)
		offset += fi.Size
	}

	h, err := b.reg.Struct(fields)
	if err != nil {
		return Info{}, errors.Wrap(errors.PhaseMap, errors.KindInvalidData, err, "register struct")
	}
	b.owned = append(b.owned, h)
	return Info{Type: h, Size: alignTo(offset, maxAlign), Align: maxAlign}, nil
}

func enum(cases int, path []string) (Info, error) {
	if cases == 0 {
		return Info{}, errors.New(errors.PhaseMap, errors.KindInvalidInput).
			Path(path...).
			Detail("enum without cases").
			Build()
	}
	switch size := discriminantSize(cases); size {
	case 1:
		return leaf(datatype.Uint8, 1), nil
	case 2:
		return leaf(datatype.Uint16, 2), nil
	default:
		return leaf(datatype.Uint32, 4), nil
	}
}

func (b *Builder) flags(n int, path []string) (Info, error) {
	switch {
	case n == 0:
		return Info{}, errors.New(errors.PhaseMap, errors.KindUnsupported).
			Path(path...).
			Detail("flags without members have no datatype").
			Build()
	case n <= 8:
		return leaf(datatype.Uint8, 1), nil
	case n <= 16:
		return leaf(datatype.Uint16, 2), nil
	case n <= 32:
		return leaf(datatype.Uint32, 4), nil
	case n <= 64:
		return leaf(datatype.Uint64, 8), nil
	}

	words := (n + 31) / 32
	h, err := b.reg.Contiguous(words, datatype.Uint32)
	if err != nil {
		return Info{}, errors.Wrap(errors.PhaseMap, errors.KindInvalidData, err, "register flags")
	}
	b.owned = append(b.owned, h)
	return Info{Type: h, Size: uint32(words * 4), Align: 4}, nil
}

func leaf(h datatype.Handle, size uint32) Info {
	return Info{Type: h, Size: size, Align: size}
}

func unsupported(t any, path []string) error {
	return errors.New(errors.PhaseMap, errors.KindUnsupported).
		Path(path...).
		Detail("%T has no fixed memory layout", t).
		Build()
}

func discriminantSize(cases int) uint32 {
	switch {
	case cases <= 1<<8:
		return 1
	case cases <= 1<<16:
		return 2
	default:
		return 4
	}
}

func alignTo(offset, align uint32) uint32 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}
