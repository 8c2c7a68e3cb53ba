// Package srctok extracts string-literal and comment spans from source
// text using chroma lexers.
//
// When patching a source file, the kernel substitutes glibc paths and
// inserts the installation prefix only inside string literals,
// comments, or the shebang line (the mapping table still applies to the
// whole file); this package supplies the span information that guards
// those rewrites.
package srctok

import (
	"errors"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	lru "github.com/hashicorp/golang-lru"
)

// ErrNoLexer is returned when no lexer is available for a language tag.
// Callers degrade to shebang-only patching.
var ErrNoLexer = errors.New("srctok: no lexer for language")

// SpanKind classifies a [Span].
type SpanKind int8

const (
	// SpanString covers a string literal, including its quotes.
	SpanString SpanKind = iota
	// SpanComment covers a comment, including its delimiter.
	SpanComment
)

func (k SpanKind) String() string {
	switch k {
	case SpanString:
		return "string"
	case SpanComment:
		return "comment"
	default:
		return "unknown"
	}
}

// A Span is a half-open byte range [Start, End) within a file's
// content. Spans are reported in ascending order and never overlap.
type Span struct {
	Start int
	End   int
	Kind  SpanKind
}

// lexerNames maps the classifier's language tags to chroma lexer names.
// Tags without a chroma lexer are simply absent; Spans reports
// ErrNoLexer for them and the caller degrades gracefully.
var lexerNames = map[string]string{
	"sh":         "bash",
	"zsh":        "bash",
	"python":     "python",
	"perl":       "perl",
	"ruby":       "ruby",
	"lua":        "lua",
	"tcl":        "tcl",
	"javascript": "javascript",
	"json":       "json",
	"conf":       "ini",
	"desktop":    "ini",
	"properties": "properties",
	"ini":        "ini",
	"makefile":   "makefile",
	"m4":         "m4",
	"xml":        "xml",
	"awk":        "awk",
}

const lexerCacheSize = 32

// A Tokenizer converts source text into string/comment spans.
// Tokenise calls are serialised behind a mutex; configured lexers are
// cached per language tag.
type Tokenizer struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// New returns a ready-to-use Tokenizer.
func New() *Tokenizer {
	cache, err := lru.New(lexerCacheSize)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return &Tokenizer{cache: cache}
}

// Spans tokenizes content as the language identified by tag and
// returns the string and comment spans in ascending order. Adjacent
// tokens of the same kind are merged. An unknown tag or a missing
// lexer yields ErrNoLexer.
func (t *Tokenizer) Spans(content []byte, tag string) ([]Span, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	lexer, err := t.lexer(tag)
	if err != nil {
		return nil, err
	}

	// EnsureLF would normalise line endings and skew byte offsets.
	it, err := lexer.Tokenise(&chroma.TokeniseOptions{State: "root"}, string(content))
	if err != nil {
		return nil, err
	}

	var spans []Span
	offset := 0
	for tok := it(); tok != chroma.EOF; tok = it() {
		start := offset
		offset += len(tok.Value)
		var kind SpanKind
		switch {
		case isStringType(tok.Type):
			kind = SpanString
		case isCommentType(tok.Type):
			kind = SpanComment
		default:
			continue
		}
		end := offset
		if end > len(content) {
			end = len(content)
		}
		if start >= end {
			continue
		}
		if n := len(spans); n > 0 && spans[n-1].Kind == kind && spans[n-1].End == start {
			spans[n-1].End = end
			continue
		}
		spans = append(spans, Span{Start: start, End: end, Kind: kind})
	}
	return spans, nil
}

func (t *Tokenizer) lexer(tag string) (chroma.Lexer, error) {
	if cached, ok := t.cache.Get(tag); ok {
		return cached.(chroma.Lexer), nil
	}
	name, ok := lexerNames[tag]
	if !ok {
		return nil, ErrNoLexer
	}
	lexer := lexers.Get(name)
	if lexer == nil {
		return nil, ErrNoLexer
	}
	lexer = chroma.Coalesce(lexer)
	t.cache.Add(tag, lexer)
	return lexer, nil
}

func isStringType(t chroma.TokenType) bool {
	return t == chroma.LiteralString || t.InSubCategory(chroma.LiteralString)
}

func isCommentType(t chroma.TokenType) bool {
	return t == chroma.Comment || t.InCategory(chroma.Comment)
}
