package theme

import (
	"fmt"
	"log/slog"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/foldtext/internal/coords"
	"github.com/dshills/foldtext/internal/document"
)

// spacingFunc is the global a theme script must define:
//
//	function block_spacing(block, size_class)
//	  -- block.kind, block.level, block.ordered, block.start, block.length
//	  return { margin_top = 0, margin_bottom = 12, indent = 0 }
//	end
const spacingFunc = "block_spacing"

// maxScriptCache bounds the result cache. Edits move block ranges, so
// stale keys pile up; the cache is dropped when it fills.
const maxScriptCache = 4096

// Script is a theme computed by a Lua function. Results are cached per
// block and size class since layout asks for every line.
type Script struct {
	mu       sync.Mutex
	L        *lua.LState
	fallback Theme
	logger   *slog.Logger
	cache    map[scriptKey]Spacing
}

type scriptKey struct {
	kind    document.Kind
	level   int
	ordered bool
	rng     coords.NativeRange
	sc      SizeClass
}

// ScriptOption configures a Script.
type ScriptOption func(*Script)

// WithFallback sets the theme used when the script fails.
func WithFallback(t Theme) ScriptOption {
	return func(s *Script) {
		s.fallback = t
	}
}

// WithScriptLogger sets the logger for script errors.
func WithScriptLogger(l *slog.Logger) ScriptOption {
	return func(s *Script) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScript compiles a theme from Lua source.
func NewScript(source string, opts ...ScriptOption) (*Script, error) {
	return newScript(opts, func(L *lua.LState) error { return L.DoString(source) })
}

// LoadScript compiles a theme from a Lua file.
func LoadScript(path string, opts ...ScriptOption) (*Script, error) {
	return newScript(opts, func(L *lua.LState) error { return L.DoFile(path) })
}

func newScript(opts []ScriptOption, load func(*lua.LState) error) (*Script, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	// Only pure libraries: a theme needs no io or os access.
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}

	if err := load(L); err != nil {
		L.Close()
		return nil, &ParseError{Source: "lua", Err: err}
	}
	if fn := L.GetGlobal(spacingFunc); fn.Type() != lua.LTFunction {
		L.Close()
		return nil, ErrNoSpacingFunction
	}

	s := &Script{
		L:        L,
		fallback: DefaultTable(),
		logger:   slog.New(slog.DiscardHandler),
		cache:    make(map[scriptKey]Spacing),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// BlockSpacing implements Theme. A script error falls back to the
// fallback theme.
func (s *Script) BlockSpacing(b document.Block, sc SizeClass) Spacing {
	key := scriptKey{kind: b.Kind, level: b.Level, ordered: b.Ordered, rng: b.Range, sc: sc}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sp, ok := s.cache[key]; ok {
		return sp
	}
	sp, err := s.call(b, sc)
	if err != nil {
		s.logger.Warn("theme script failed", "kind", b.Kind, "error", err)
		if s.fallback == nil {
			return Spacing{}
		}
		return s.fallback.BlockSpacing(b, sc)
	}
	if len(s.cache) >= maxScriptCache {
		clear(s.cache)
	}
	s.cache[key] = sp
	return sp
}

func (s *Script) call(b document.Block, sc SizeClass) (sp Spacing, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	block := s.L.NewTable()
	block.RawSetString("kind", lua.LString(b.Kind.String()))
	block.RawSetString("level", lua.LNumber(b.Level))
	block.RawSetString("ordered", lua.LBool(b.Ordered))
	block.RawSetString("start", lua.LNumber(b.Range.Start))
	block.RawSetString("length", lua.LNumber(b.Range.Len()))

	err = s.L.CallByParam(lua.P{
		Fn:      s.L.GetGlobal(spacingFunc),
		NRet:    1,
		Protect: true,
	}, block, lua.LString(sc.String()))
	if err != nil {
		return Spacing{}, err
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return Spacing{}, fmt.Errorf("%s returned %s, expected table", spacingFunc, ret.Type())
	}
	return Spacing{
		MarginTop:    number(tbl, "margin_top"),
		MarginBottom: number(tbl, "margin_bottom"),
		Indent:       number(tbl, "indent"),
	}, nil
}

func number(tbl *lua.LTable, field string) float64 {
	if n, ok := tbl.RawGetString(field).(lua.LNumber); ok {
		return float64(n)
	}
	return 0
}

// Close releases the Lua state.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.L != nil {
		s.L.Close()
		s.L = nil
	}
}
