// Package script evaluates catalog-authored prerequisite chunks in an
// embedded Lua VM.
//
// A chunk sees a global caster table holding id, ability and tick plus any
// host attributes, and returns ok followed by an optional reason string:
//
//	return caster.energy >= 10, "not-enough-energy"
package script

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Shopify/go-lua"

	"spellforge/server/internal/ability"
	"spellforge/server/internal/telemetry"
)

// ReasonScriptError is returned when a chunk fails to compile or raises.
// Script errors fail closed.
const ReasonScriptError = "prerequisite-error"

// ReasonScriptRejected is used when a chunk returns false without a reason.
const ReasonScriptRejected = "prerequisite-failed"

const (
	metricEvaluations = "script_prerequisite_evaluations_total"
	metricErrors      = "script_prerequisite_errors_total"
)

type Config struct {
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

type compiled struct {
	source string
	global string
}

// Lua runs prerequisite chunks on a single VM. Chunks are compiled once per
// ability and recompiled when their source changes.
type Lua struct {
	mu      sync.Mutex
	state   *lua.State
	chunks  map[string]compiled
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

func NewLua(cfg Config) *Lua {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	state := lua.NewState()
	openSafeLibraries(state)
	return &Lua{
		state:   state,
		chunks:  make(map[string]compiled),
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// openSafeLibraries loads the pure libraries only; io, os and package stay
// unavailable to designer scripts.
func openSafeLibraries(state *lua.State) {
	libs := []lua.RegistryFunction{
		{Name: "_G", Function: lua.BaseOpen},
		{Name: "string", Function: lua.StringOpen},
		{Name: "table", Function: lua.TableOpen},
		{Name: "math", Function: lua.MathOpen},
	}
	for _, lib := range libs {
		lua.Require(state, lib.Name, lib.Function, true)
		state.Pop(1)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "require"} {
		state.PushNil()
		state.SetGlobal(name)
	}
}

// Evaluate satisfies ability.ScriptRunner.
func (l *Lua) Evaluate(key, source string, inv ability.Invocation) (bool, string) {
	if l == nil {
		return false, ReasonScriptError
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.metrics != nil {
		l.metrics.Add(metricEvaluations, 1)
	}

	ok, reason, err := l.evaluate(key, source, inv)
	if err != nil {
		if l.metrics != nil {
			l.metrics.Add(metricErrors, 1)
		}
		l.logger.Printf("[script] prerequisite for %s failed for %s: %v", key, inv.Actor, err)
		return false, ReasonScriptError
	}
	return ok, reason
}

func (l *Lua) evaluate(key, source string, inv ability.Invocation) (bool, string, error) {
	state := l.state
	defer state.SetTop(0)

	global, err := l.compile(key, source)
	if err != nil {
		return false, "", err
	}

	pushCaster(state, inv)
	state.SetGlobal("caster")

	state.Global(global)
	if !state.IsFunction(-1) {
		return false, "", fmt.Errorf("compiled chunk %s missing", global)
	}
	if err := state.ProtectedCall(0, 2, 0); err != nil {
		return false, "", err
	}
	ok := state.ToBoolean(-2)
	if ok {
		return true, "", nil
	}
	reason, _ := state.ToString(-1)
	if reason == "" {
		reason = ReasonScriptRejected
	}
	return false, reason, nil
}

func (l *Lua) compile(key, source string) (string, error) {
	if cached, ok := l.chunks[key]; ok && cached.source == source {
		return cached.global, nil
	}
	global := "__prerequisite_" + key
	if err := lua.LoadString(l.state, source); err != nil {
		delete(l.chunks, key)
		return "", fmt.Errorf("compile %s: %w", key, err)
	}
	l.state.SetGlobal(global)
	l.chunks[key] = compiled{source: source, global: global}
	return global, nil
}

func pushCaster(state *lua.State, inv ability.Invocation) {
	state.NewTable()
	state.PushString(inv.Actor.String())
	state.SetField(-2, "id")
	state.PushString(inv.Ability)
	state.SetField(-2, "ability")
	state.PushInteger(int(inv.Tick))
	state.SetField(-2, "tick")
	if inv.Scope != "" {
		state.PushString(inv.Scope)
		state.SetField(-2, "scope")
	}
	names := make([]string, 0, len(inv.Attributes))
	for name := range inv.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		state.PushNumber(inv.Attributes[name])
		state.SetField(-2, name)
	}
}
