package chatterlang

import (
	"fmt"
	"strconv"

	"github.com/chatterflow/chatterflow/engine/pipe"
)

// Parse turns ChatterLang source text into its AST.
func Parse(src string) (*Script, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, pipe.CompileErrorf("%v", err)
	}
	p := &parser{toks: toks}
	return p.parseScript()
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) peek() token {
	if p.pos+1 < len(p.toks) {
		return p.toks[p.pos+1]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.cur()
	if t.kind != kind {
		return t, p.errf(t, "expected %s, got %s %q", kind, t.kind, t.text)
	}
	return p.next(), nil
}

func (p *parser) errf(t token, format string, args ...any) error {
	return pipe.CompileErrorf("line %d:%d: %s", t.line, t.col, fmt.Sprintf(format, args...))
}

func (p *parser) parseScript() (*Script, error) {
	script := &Script{Constants: make(map[string]any)}
	for p.cur().kind != tEOF {
		t := p.cur()
		switch {
		case t.kind == tIdent && t.text == "CONST":
			if err := p.parseConst(script); err != nil {
				return nil, err
			}
		case t.kind == tIdent && t.text == "LOOP":
			loop, err := p.parseLoop()
			if err != nil {
				return nil, err
			}
			script.Elements = append(script.Elements, loop)
			if err := p.endStatement(); err != nil {
				return nil, err
			}
		default:
			pl, err := p.parsePipeline()
			if err != nil {
				return nil, err
			}
			script.Elements = append(script.Elements, pl)
			if err := p.endStatement(); err != nil {
				return nil, err
			}
		}
	}
	return script, nil
}

// endStatement consumes the statement terminator; the final semicolon
// before end of script may be omitted.
func (p *parser) endStatement() error {
	switch p.cur().kind {
	case tSemi:
		p.next()
		return nil
	case tEOF:
		return nil
	default:
		t := p.cur()
		return p.errf(t, `expected ";", got %s %q`, t.kind, t.text)
	}
}

func (p *parser) parseConst(script *Script) error {
	p.next() // CONST
	name, err := p.expect(tIdent)
	if err != nil {
		return err
	}
	if _, err := p.expect(tEquals); err != nil {
		return err
	}
	value, err := p.parseLiteral()
	if err != nil {
		return err
	}
	script.Constants[name.text] = value
	return p.endStatement()
}

func (p *parser) parseLoop() (*Loop, error) {
	p.next() // LOOP
	times, err := p.expect(tInt)
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(times.text)
	if err != nil || n < 0 {
		return nil, p.errf(times, "invalid loop count %q", times.text)
	}
	kw, err := p.expect(tIdent)
	if err != nil {
		return nil, err
	}
	if kw.text != "TIMES" {
		return nil, p.errf(kw, `expected "TIMES", got %q`, kw.text)
	}
	if _, err := p.expect(tLBrace); err != nil {
		return nil, err
	}
	loop := &Loop{Times: n}
	for p.cur().kind != tRBrace {
		pl, err := p.parsePipeline()
		if err != nil {
			return nil, err
		}
		loop.Pipelines = append(loop.Pipelines, pl)
		if p.cur().kind == tSemi {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(tRBrace); err != nil {
		return nil, err
	}
	return loop, nil
}

// parsePipeline parses: [IDENT "→"] [input] { "|" stage } ["→" IDENT].
func (p *parser) parsePipeline() (*Pipeline, error) {
	pl := &Pipeline{}

	// Leading fork source: "name →".
	if p.cur().kind == tIdent && p.peek().kind == tArrow && p.cur().text != "INPUT" {
		pl.ForkSource = p.next().text
		p.next() // arrow
	}

	if p.cur().kind == tIdent && p.cur().text == "INPUT" {
		input, err := p.parseInput()
		if err != nil {
			return nil, err
		}
		pl.Input = input
	}

	// Fork branches and input-less statements may start with a bare stage.
	if pl.Input == nil {
		switch p.cur().kind {
		case tIdent, tAt, tLBrace:
			stage, err := p.parseStage()
			if err != nil {
				return nil, err
			}
			pl.Stages = append(pl.Stages, stage)
		}
	}

	for p.cur().kind == tPipe {
		p.next()
		stage, err := p.parseStage()
		if err != nil {
			return nil, err
		}
		pl.Stages = append(pl.Stages, stage)
	}

	// Trailing fork target: "→ name".
	if p.cur().kind == tArrow {
		p.next()
		name, err := p.expect(tIdent)
		if err != nil {
			return nil, err
		}
		pl.ForkTarget = name.text
	}

	if pl.Input == nil && len(pl.Stages) == 0 && pl.ForkSource == "" && pl.ForkTarget == "" {
		return nil, p.errf(p.cur(), "empty pipeline")
	}
	return pl, nil
}

func (p *parser) parseInput() (*Input, error) {
	p.next() // INPUT
	from, err := p.expect(tIdent)
	if err != nil {
		return nil, err
	}
	if from.text != "FROM" {
		return nil, p.errf(from, `expected "FROM", got %q`, from.text)
	}
	switch p.cur().kind {
	case tAt:
		p.next()
		name, err := p.expect(tIdent)
		if err != nil {
			return nil, err
		}
		return &Input{Variable: name.text}, nil
	case tString:
		lit := p.next().text
		return &Input{Literal: &lit}, nil
	case tIdent:
		ref, err := p.parseSegmentRef()
		if err != nil {
			return nil, err
		}
		return &Input{Source: ref}, nil
	default:
		t := p.cur()
		return nil, p.errf(t, "expected source after FROM, got %s %q", t.kind, t.text)
	}
}

func (p *parser) parseStage() (Stage, error) {
	switch p.cur().kind {
	case tAt:
		p.next()
		name, err := p.expect(tIdent)
		if err != nil {
			return nil, err
		}
		return &VariableRef{Name: name.text}, nil
	case tLBrace:
		return p.parseForkStage()
	case tIdent:
		return p.parseSegmentRef()
	default:
		t := p.cur()
		return nil, p.errf(t, "expected stage, got %s %q", t.kind, t.text)
	}
}

func (p *parser) parseForkStage() (*ForkStage, error) {
	p.next() // {
	fork := &ForkStage{}
	for {
		pl, err := p.parsePipeline()
		if err != nil {
			return nil, err
		}
		fork.Branches = append(fork.Branches, pl)
		if p.cur().kind == tComma {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(tRBrace); err != nil {
		return nil, err
	}
	return fork, nil
}

func (p *parser) parseSegmentRef() (*SegmentRef, error) {
	name, err := p.expect(tIdent)
	if err != nil {
		return nil, err
	}
	ref := &SegmentRef{Name: name.text, Params: make(map[string]any)}
	if p.cur().kind != tLBracket {
		return ref, nil
	}
	p.next() // [
	for {
		key, err := p.expect(tIdent)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tEquals); err != nil {
			return nil, err
		}
		value, err := p.parseParamValue()
		if err != nil {
			return nil, err
		}
		ref.Params[key.text] = value
		if p.cur().kind == tComma {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(tRBracket); err != nil {
		return nil, err
	}
	return ref, nil
}

// parseParamValue parses a literal, an identifier (constant reference), or
// a bracketed list of either.
func (p *parser) parseParamValue() (any, error) {
	t := p.cur()
	switch t.kind {
	case tLBracket:
		p.next()
		var list []any
		for p.cur().kind != tRBracket {
			v, err := p.parseParamValue()
			if err != nil {
				return nil, err
			}
			list = append(list, v)
			if p.cur().kind == tComma {
				p.next()
			}
		}
		p.next() // ]
		return list, nil
	case tIdent:
		p.next()
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return Ident(t.text), nil
	default:
		return p.parseLiteral()
	}
}

func (p *parser) parseLiteral() (any, error) {
	t := p.cur()
	switch t.kind {
	case tString:
		p.next()
		return t.text, nil
	case tInt:
		p.next()
		n, err := strconv.Atoi(t.text)
		if err != nil {
			return nil, p.errf(t, "invalid integer %q", t.text)
		}
		return n, nil
	case tFloat:
		p.next()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errf(t, "invalid float %q", t.text)
		}
		return f, nil
	case tIdent:
		switch t.text {
		case "true":
			p.next()
			return true, nil
		case "false":
			p.next()
			return false, nil
		}
	}
	return nil, p.errf(t, "expected literal, got %s %q", t.kind, t.text)
}
