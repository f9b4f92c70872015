package template

import (
	"fmt"
	"strings"
)

// maxNestingDepth is the hard control-flow nesting limit (spec §4.2).
const maxNestingDepth = 50

type rawTag struct {
	keyword string // "expr", "if", "endif", "for", "endfor"
	content string
	raw     string // full original text including delimiters
}

// tokenizeBlocks splits src into an alternating stream of literal text
// and "{{ }}"/"{% %}" tags, in source order.
func tokenizeBlocks(src string) ([]blockToken, error) {
	var out []blockToken
	i := 0
	for i < len(src) {
		nextExpr := strings.Index(src[i:], "{{")
		nextTag := strings.Index(src[i:], "{%")
		var start, delimLen int
		isTag := false
		switch {
		case nextExpr == -1 && nextTag == -1:
			out = append(out, blockToken{text: src[i:]})
			return out, nil
		case nextTag == -1 || (nextExpr != -1 && nextExpr < nextTag):
			start = i + nextExpr
			delimLen = 2
			isTag = false
		default:
			start = i + nextTag
			delimLen = 2
			isTag = true
		}
		if start > i {
			out = append(out, blockToken{text: src[i:start]})
		}
		closing := "}}"
		if isTag {
			closing = "%}"
		}
		end := strings.Index(src[start+delimLen:], closing)
		if end == -1 {
			return nil, fmt.Errorf("%w: unterminated %s", ErrParse, map[bool]string{true: "tag", false: "expression"}[isTag])
		}
		contentStart := start + delimLen
		contentEnd := contentStart + end
		content := strings.TrimSpace(src[contentStart:contentEnd])
		raw := src[start : contentEnd+len(closing)]
		if isTag {
			keyword, rest := splitKeyword(content)
			out = append(out, blockToken{tag: &rawTag{keyword: keyword, content: rest, raw: raw}})
		} else {
			out = append(out, blockToken{tag: &rawTag{keyword: "expr", content: content, raw: raw}})
		}
		i = contentEnd + len(closing)
	}
	return out, nil
}

func splitKeyword(content string) (string, string) {
	content = strings.TrimSpace(content)
	idx := strings.IndexAny(content, " \t")
	if idx == -1 {
		return content, ""
	}
	return content[:idx], strings.TrimSpace(content[idx+1:])
}

type blockToken struct {
	text string
	tag  *rawTag
}

type blockParser struct {
	toks []blockToken
	pos  int
}

func parseBlocks(src string) ([]blockNode, error) {
	toks, err := tokenizeBlocks(src)
	if err != nil {
		return nil, err
	}
	p := &blockParser{toks: toks}
	nodes, err := p.parseUntil(0, "")
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("%w: unexpected closing tag", ErrParse)
	}
	return nodes, nil
}

func (p *blockParser) parseUntil(depth int, closing string) ([]blockNode, error) {
	var nodes []blockNode
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		if t.tag == nil {
			nodes = append(nodes, textBlock{text: t.text})
			p.pos++
			continue
		}
		switch t.tag.keyword {
		case "expr":
			expr, err := parseExprString(t.tag.content)
			if err != nil {
				nodes = append(nodes, badExprBlock{raw: t.tag.raw, parseErr: err})
			} else {
				nodes = append(nodes, exprBlock{expr: expr, raw: t.tag.raw})
			}
			p.pos++
		case "if":
			if depth+1 > maxNestingDepth {
				return nil, fmt.Errorf("%w: nesting", ErrLimitExceeded)
			}
			cond, err := parseExprString(t.tag.content)
			if err != nil {
				return nil, err
			}
			p.pos++
			body, err := p.parseUntil(depth+1, "endif")
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, ifBlock{cond: cond, body: body})
		case "for":
			if depth+1 > maxNestingDepth {
				return nil, fmt.Errorf("%w: nesting", ErrLimitExceeded)
			}
			varName, iterSrc, err := parseForHeader(t.tag.content)
			if err != nil {
				return nil, err
			}
			iter, err := parseExprString(iterSrc)
			if err != nil {
				return nil, err
			}
			p.pos++
			body, err := p.parseUntil(depth+1, "endfor")
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, forBlock{varName: varName, iter: iter, body: body})
		case "endif", "endfor":
			if t.tag.keyword != closing {
				return nil, fmt.Errorf("%w: unexpected %s", ErrParse, t.tag.keyword)
			}
			p.pos++
			return nodes, nil
		default:
			return nil, fmt.Errorf("%w: unknown tag %q", ErrParse, t.tag.keyword)
		}
	}
	if closing != "" {
		return nil, fmt.Errorf("%w: missing %s", ErrParse, closing)
	}
	return nodes, nil
}

func parseForHeader(content string) (string, string, error) {
	parts := strings.SplitN(content, " in ", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: expected 'for IDENT in EXPR'", ErrParse)
	}
	varName := strings.TrimSpace(parts[0])
	if varName == "" {
		return "", "", fmt.Errorf("%w: missing loop variable", ErrParse)
	}
	return varName, strings.TrimSpace(parts[1]), nil
}
