package datatype

// Combiner identifies how a datatype was constructed.
type Combiner uint8

const (
	CombinerNamed Combiner = iota
	CombinerDup
	CombinerContiguous
	CombinerVector
	CombinerHVector
	CombinerIndexed
	CombinerHIndexed
	CombinerIndexedBlock
	CombinerHIndexedBlock
	CombinerStruct
	CombinerSubarray
	CombinerDarray
	CombinerF90Real
	CombinerF90Complex
	CombinerF90Integer
	CombinerResized
)

func (c Combiner) String() string {
	switch c {
	case CombinerNamed:
		return "named"
	case CombinerDup:
		return "dup"
	case CombinerContiguous:
		return "contiguous"
	case CombinerVector:
		return "vector"
	case CombinerHVector:
		return "hvector"
	case CombinerIndexed:
		return "indexed"
	case CombinerHIndexed:
		return "hindexed"
	case CombinerIndexedBlock:
		return "indexed_block"
	case CombinerHIndexedBlock:
		return "hindexed_block"
	case CombinerStruct:
		return "struct"
	case CombinerSubarray:
		return "subarray"
	case CombinerDarray:
		return "darray"
	case CombinerF90Real:
		return "f90_real"
	case CombinerF90Complex:
		return "f90_complex"
	case CombinerF90Integer:
		return "f90_integer"
	case CombinerResized:
		return "resized"
	default:
		return "unknown"
	}
}
