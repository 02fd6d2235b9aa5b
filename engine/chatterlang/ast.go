package chatterlang

// Ident marks a parameter value that must be resolved from the constant
// store at compile time.
type Ident string

// Script is the parsed form of a ChatterLang program: top-level constants
// plus an ordered sequence of pipelines and loops.
type Script struct {
	Constants map[string]any
	Elements  []Element
}

// Element is a top-level script element: *Pipeline or *Loop.
type Element interface{ element() }

// Pipeline is one DSL statement: an optional input, the transform stages,
// and optional arrow-fork connections on either end.
type Pipeline struct {
	Input      *Input
	Stages     []Stage
	ForkTarget string // pipeline output feeds this named fork
	ForkSource string // pipeline input reads from this named fork
}

func (*Pipeline) element() {}

// Input is the pipeline head: a string literal (echo), a @variable, or a
// registered source with parameters.
type Input struct {
	Literal  *string
	Variable string
	Source   *SegmentRef
}

// Stage is one pipeline transform: *SegmentRef, *VariableRef, or
// *ForkStage.
type Stage interface{ stage() }

// SegmentRef names a registered segment (or source, in input position)
// with its raw parameters. Identifier-valued parameters are Ident.
type SegmentRef struct {
	Name   string
	Params map[string]any
}

func (*SegmentRef) stage() {}

// VariableRef is a @name sink stage.
type VariableRef struct {
	Name string
}

func (*VariableRef) stage() {}

// ForkStage is a nested { pipeline, pipeline } fan-out stage.
type ForkStage struct {
	Branches []*Pipeline
}

func (*ForkStage) stage() {}

// Loop repeats its pipelines a fixed number of times.
type Loop struct {
	Times     int
	Pipelines []*Pipeline
}

func (*Loop) element() {}
