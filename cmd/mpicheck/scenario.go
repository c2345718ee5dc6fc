package main

import (
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/mpiwrap"
	"github.com/wippyai/mpiwrap/datatype"
)

// Scenario is a message-passing program described in YAML.
type Scenario struct {
	Name    string         `yaml:"name"`
	Ranks   int            `yaml:"ranks"`
	Pages   uint32         `yaml:"pages"`
	Types   []TypeDecl     `yaml:"types"`
	Buffers []Buffer       `yaml:"buffers"`
	Steps   map[int][]Step `yaml:"steps"`
	Expect  *Expect        `yaml:"expect,omitempty"`

	buffers map[string]Buffer
}

// TypeDecl declares a derived datatype. Exactly one constructor is set.
// Element types name a predefined datatype or an earlier declaration.
type TypeDecl struct {
	Name       string        `yaml:"name"`
	Contiguous *Repeat       `yaml:"contiguous,omitempty"`
	Vector     *Strided      `yaml:"vector,omitempty"`
	HVector    *Strided      `yaml:"hvector,omitempty"`
	Indexed    *Blocks       `yaml:"indexed,omitempty"`
	HIndexed   *Blocks       `yaml:"hindexed,omitempty"`
	Struct     []StructField `yaml:"struct,omitempty"`
	Resized    *Resize       `yaml:"resized,omitempty"`
}

type Repeat struct {
	Count int    `yaml:"count"`
	Type  string `yaml:"type"`
}

type Strided struct {
	Count    int    `yaml:"count"`
	BlockLen int    `yaml:"blocklen"`
	Stride   int64  `yaml:"stride"`
	Type     string `yaml:"type"`
}

type Blocks struct {
	BlockLens []int   `yaml:"blocklens"`
	Displs    []int64 `yaml:"displs"`
	Type      string  `yaml:"type"`
}

type StructField struct {
	Count  int    `yaml:"count"`
	Offset int64  `yaml:"offset"`
	Type   string `yaml:"type"`
}

type Resize struct {
	LB     int64  `yaml:"lb"`
	Extent int64  `yaml:"extent"`
	Type   string `yaml:"type"`
}

// Buffer is a named region of the shared address space. Defined buffers
// start out initialised, the rest are allocated but undefined.
type Buffer struct {
	Name    string  `yaml:"name"`
	Addr    uintptr `yaml:"addr"`
	Size    uintptr `yaml:"size"`
	Defined bool    `yaml:"defined"`
}

// Step is one wrapped call made by a rank.
type Step struct {
	Op        string   `yaml:"op"`
	Buf       string   `yaml:"buf,omitempty"`
	Recv      string   `yaml:"recv,omitempty"`
	Off       uintptr  `yaml:"off,omitempty"`
	Count     int      `yaml:"count,omitempty"`
	Type      string   `yaml:"type,omitempty"`
	Peer      int      `yaml:"peer,omitempty"`
	Tag       int      `yaml:"tag,omitempty"`
	Mode      string   `yaml:"mode,omitempty"`
	Root      int      `yaml:"root,omitempty"`
	Reduction string   `yaml:"reduce,omitempty"`
	Req       string   `yaml:"req,omitempty"`
	Reqs      []string `yaml:"reqs,omitempty"`
}

// Expect states the outcome a scenario is written to produce.
type Expect struct {
	Reports int `yaml:"reports"`
	Pending int `yaml:"pending"`
}

var ops = map[string]bool{
	"send": true, "recv": true, "isend": true, "irecv": true,
	"sendrecv": true, "wait": true, "test": true, "waitall": true,
	"cancel": true, "bcast": true, "reduce": true, "allreduce": true,
	"write": true,
}

var modes = map[string]mpiwrap.SendMode{
	"":            mpiwrap.Standard,
	"standard":    mpiwrap.Standard,
	"buffered":    mpiwrap.Buffered,
	"synchronous": mpiwrap.Synchronous,
	"ready":       mpiwrap.Ready,
}

var reductions = map[string]mpiwrap.Op{
	"":     mpiwrap.OpSum,
	"sum":  mpiwrap.OpSum,
	"prod": mpiwrap.OpProd,
	"max":  mpiwrap.OpMax,
	"min":  mpiwrap.OpMin,
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if s.Pages == 0 {
		s.Pages = 1
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the scenario for structural mistakes and reports all of
// them at once.
func (s *Scenario) Validate() error {
	var err error
	if s.Ranks < 1 {
		err = multierr.Append(err, fmt.Errorf("ranks: need at least 1, got %d", s.Ranks))
	}

	known := make(map[string]bool)
	for i, td := range s.Types {
		if td.Name == "" {
			err = multierr.Append(err, fmt.Errorf("types[%d]: missing name", i))
			continue
		}
		if _, ok := datatype.Lookup(td.Name); ok || known[td.Name] {
			err = multierr.Append(err, fmt.Errorf("types[%d]: %q already defined", i, td.Name))
		}
		if n := td.constructors(); n != 1 {
			err = multierr.Append(err, fmt.Errorf("type %q: want one constructor, got %d", td.Name, n))
		}
		for _, elem := range td.elements() {
			if !isType(elem, known) {
				err = multierr.Append(err, fmt.Errorf("type %q: unknown element type %q", td.Name, elem))
			}
		}
		known[td.Name] = true
	}

	limit := uintptr(s.Pages) * 65536
	s.buffers = make(map[string]Buffer, len(s.Buffers))
	for i, b := range s.Buffers {
		switch {
		case b.Name == "":
			err = multierr.Append(err, fmt.Errorf("buffers[%d]: missing name", i))
			continue
		case b.Addr+b.Size > limit || b.Addr+b.Size < b.Addr:
			err = multierr.Append(err, fmt.Errorf("buffer %q: [%#x,+%d) exceeds %d pages", b.Name, b.Addr, b.Size, s.Pages))
		}
		if _, dup := s.buffers[b.Name]; dup {
			err = multierr.Append(err, fmt.Errorf("buffer %q: defined twice", b.Name))
		}
		s.buffers[b.Name] = b
	}

	for rank, steps := range s.Steps {
		if rank < 0 || rank >= s.Ranks {
			err = multierr.Append(err, fmt.Errorf("steps: rank %d out of range", rank))
		}
		for i, st := range steps {
			err = multierr.Append(err, s.validateStep(st, known, fmt.Sprintf("rank %d step %d", rank, i)))
		}
	}
	return err
}

func (s *Scenario) validateStep(st Step, known map[string]bool, where string) error {
	if !ops[st.Op] {
		return fmt.Errorf("%s: unknown op %q", where, st.Op)
	}

	var err error
	needBuf := func(name string) {
		if _, ok := s.buffers[name]; !ok {
			err = multierr.Append(err, fmt.Errorf("%s: unknown buffer %q", where, name))
		}
	}
	switch st.Op {
	case "wait", "test", "cancel":
		if st.Req == "" {
			err = multierr.Append(err, fmt.Errorf("%s: %s needs req", where, st.Op))
		}
		return err
	case "waitall":
		if len(st.Reqs) == 0 {
			err = multierr.Append(err, fmt.Errorf("%s: waitall needs reqs", where))
		}
		return err
	case "write":
		needBuf(st.Buf)
		return err
	case "sendrecv", "reduce", "allreduce":
		needBuf(st.Recv)
	case "isend", "irecv":
		if st.Req == "" {
			err = multierr.Append(err, fmt.Errorf("%s: %s needs req", where, st.Op))
		}
	}
	needBuf(st.Buf)
	if !isType(st.Type, known) {
		err = multierr.Append(err, fmt.Errorf("%s: unknown type %q", where, st.Type))
	}
	if _, ok := modes[st.Mode]; !ok {
		err = multierr.Append(err, fmt.Errorf("%s: unknown send mode %q", where, st.Mode))
	}
	if _, ok := reductions[st.Reduction]; !ok {
		err = multierr.Append(err, fmt.Errorf("%s: unknown reduction %q", where, st.Reduction))
	}
	return err
}

func isType(name string, known map[string]bool) bool {
	if _, ok := datatype.Lookup(name); ok {
		return true
	}
	return known[name]
}

func (td TypeDecl) constructors() int {
	n := 0
	for _, set := range []bool{
		td.Contiguous != nil, td.Vector != nil, td.HVector != nil,
		td.Indexed != nil, td.HIndexed != nil, td.Struct != nil, td.Resized != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

func (td TypeDecl) elements() []string {
	switch {
	case td.Contiguous != nil:
		return []string{td.Contiguous.Type}
	case td.Vector != nil:
		return []string{td.Vector.Type}
	case td.HVector != nil:
		return []string{td.HVector.Type}
	case td.Indexed != nil:
		return []string{td.Indexed.Type}
	case td.HIndexed != nil:
		return []string{td.HIndexed.Type}
	case td.Resized != nil:
		return []string{td.Resized.Type}
	}
	out := make([]string, len(td.Struct))
	for i, f := range td.Struct {
		out[i] = f.Type
	}
	return out
}

// build registers the declared types in order.
func (s *Scenario) build(reg *datatype.Registry) (map[string]datatype.Handle, error) {
	types := make(map[string]datatype.Handle, len(s.Types))
	resolve := func(name string) datatype.Handle {
		if h, ok := datatype.Lookup(name); ok {
			return h
		}
		return types[name]
	}

	for _, td := range s.Types {
		var (
			h   datatype.Handle
			err error
		)
		switch {
		case td.Contiguous != nil:
			c := td.Contiguous
			h, err = reg.Contiguous(c.Count, resolve(c.Type))
		case td.Vector != nil:
			v := td.Vector
			h, err = reg.Vector(v.Count, v.BlockLen, int(v.Stride), resolve(v.Type))
		case td.HVector != nil:
			v := td.HVector
			h, err = reg.HVector(v.Count, v.BlockLen, v.Stride, resolve(v.Type))
		case td.Indexed != nil:
			b := td.Indexed
			displs := make([]int, len(b.Displs))
			for i, d := range b.Displs {
				displs[i] = int(d)
			}
			h, err = reg.Indexed(b.BlockLens, displs, resolve(b.Type))
		case td.HIndexed != nil:
			b := td.HIndexed
			h, err = reg.HIndexed(b.BlockLens, b.Displs, resolve(b.Type))
		case td.Resized != nil:
			r := td.Resized
			h, err = reg.Resized(resolve(r.Type), r.LB, r.Extent)
		default:
			fields := make([]datatype.StructField, len(td.Struct))
			for i, f := range td.Struct {
				fields[i] = datatype.StructField{Count: max(f.Count, 1), Offset: f.Offset, Type: resolve(f.Type)}
			}
			h, err = reg.Struct(fields)
		}
		if err != nil {
			return nil, fmt.Errorf("type %q: %w", td.Name, err)
		}
		if err := reg.Commit(h); err != nil {
			return nil, fmt.Errorf("type %q: %w", td.Name, err)
		}
		types[td.Name] = h
	}
	return types, nil
}
