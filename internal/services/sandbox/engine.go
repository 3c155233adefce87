// Package sandbox runs custom field migration scripts.
//
// Scripts are CEL expressions. The environment exposes the container being
// migrated and a small set of helper functions; it has no I/O and no process
// control. Every invocation runs under a wall-clock timeout and an optional
// cost budget.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash"
	"github.com/charmbracelet/log"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/asakaida/fieldshift/internal/entities"
	"github.com/asakaida/fieldshift/internal/services/conversion"
	"github.com/asakaida/fieldshift/pkg/cache"
	"github.com/asakaida/fieldshift/pkg/cache/memorycache"
)

const (
	// terminationMessage marks errors raised by exit() and quit()
	terminationMessage = "process termination is not permitted"

	defaultTimeout        = 5 * time.Second
	defaultCacheSizeBytes = 16 << 20
	interruptCheckEvery   = 100
)

// Config configures the script engine
type Config struct {
	// Timeout bounds a single invocation. Zero uses a 5s default.
	Timeout time.Duration
	// CostLimit caps the CEL runtime cost of one invocation. Zero disables the cap.
	CostLimit uint64
	// CacheSizeBytes bounds the compiled program cache
	CacheSizeBytes int64
	// CacheTTL expires compiled programs. Zero keeps them for an hour.
	CacheTTL time.Duration
}

// Invocation is one script run for one field of one container
type Invocation struct {
	Script string
	// Container is the container as seen by the script: old values under their new names
	Container *entities.NodeFieldContainer
	FieldName string
	// From is the shape of the field's current value, To the shape it migrates to.
	// convert() inside the script applies the default conversion between them.
	From, To entities.FieldShape
	// Timeout overrides the engine timeout when positive
	Timeout time.Duration
}

// Engine compiles and runs migration scripts
type Engine struct {
	base      *cel.Env
	timeout   time.Duration
	costLimit uint64
	cacheTTL  time.Duration
	programs  cache.Cache[cel.Program]
	logger    *log.Logger

	mu   sync.Mutex
	envs map[conversion.ConversionPair]*cel.Env
}

// NewEngine creates a script engine with the migration environment declared
func NewEngine(cfg Config, logger *log.Logger) (*Engine, error) {
	base, err := cel.NewEnv(
		cel.Variable("node", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("fieldname", cel.StringType),
		cel.Function("set",
			cel.Overload("set_node_string_dyn",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType, cel.DynType},
				cel.MapType(cel.StringType, cel.DynType),
				cel.FunctionBinding(setField))),
		cel.Function("reverse",
			cel.MemberOverload("list_reverse",
				[]*cel.Type{cel.ListType(cel.DynType)},
				cel.ListType(cel.DynType),
				cel.UnaryBinding(reverseList))),
		// declared so that termination attempts fail as policy violations instead of compile errors
		cel.Function("exit",
			cel.Overload("exit_int", []*cel.Type{cel.IntType}, cel.DynType,
				cel.UnaryBinding(func(ref.Val) ref.Val { return types.NewErr(terminationMessage) }))),
		cel.Function("quit",
			cel.Overload("quit", []*cel.Type{}, cel.DynType,
				cel.FunctionBinding(func(...ref.Val) ref.Val { return types.NewErr(terminationMessage) }))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	cacheSize := cfg.CacheSizeBytes
	if cacheSize <= 0 {
		cacheSize = defaultCacheSizeBytes
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	programs, err := memorycache.New(&memorycache.Config[cel.Program]{
		MaxSizeBytes:  cacheSize,
		DefaultTTL:    cacheTTL,
		EnableMetrics: true,
		SizeOf: func(key string, _ cel.Program) int64 {
			return int64(1024 + 16*len(key))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create program cache: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Engine{
		base:      base,
		timeout:   timeout,
		costLimit: cfg.CostLimit,
		cacheTTL:  cacheTTL,
		programs:  programs,
		logger:    logger.WithPrefix("sandbox"),
		envs:      make(map[conversion.ConversionPair]*cel.Env),
	}, nil
}

// Validate compiles a script without running it
func (e *Engine) Validate(script string, from, to entities.FieldShape) error {
	_, err := e.compile(script, from, to)
	return err
}

// Run executes the script of inv and returns the new value of the target field.
// A nil value means the field is empty after migration.
func (e *Engine) Run(ctx context.Context, inv Invocation) (value entities.FieldValue, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &ScriptError{Reason: ReasonRuntime, Err: fmt.Errorf("script panicked: %v", r)}
		}
	}()

	if inv.Container == nil {
		return nil, &ScriptError{Reason: ReasonRuntime, Err: errors.New("no container to migrate")}
	}

	prg, err := e.program(ctx, inv.Script, inv.From, inv.To)
	if err != nil {
		return nil, err
	}

	timeout := e.timeout
	if inv.Timeout > 0 {
		timeout = inv.Timeout
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, _, evalErr := prg.ContextEval(evalCtx, map[string]any{
		"node":      nodeView(inv.Container),
		"fieldname": inv.FieldName,
	})
	e.logger.Debug("script evaluated", "container", inv.Container.ID, "field", inv.FieldName, "took", time.Since(start))
	if evalErr != nil {
		return nil, classify(evalCtx, evalErr)
	}

	native, err := celToGo(out)
	if err != nil {
		return nil, &ScriptError{Reason: ReasonResult, Err: err}
	}
	if m, ok := native.(map[string]any); ok && isNodeView(m) {
		native = m["fields"].(map[string]any)[inv.FieldName]
	}

	value, err = entities.FromNative(native, inv.To)
	if err != nil {
		return nil, &ScriptError{Reason: ReasonResult, Err: fmt.Errorf("field %q: %w", inv.FieldName, err)}
	}
	return value, nil
}

func classify(ctx context.Context, err error) *ScriptError {
	msg := err.Error()
	switch {
	case strings.Contains(msg, terminationMessage):
		return &ScriptError{Reason: ReasonPolicy, Err: err}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &ScriptError{Reason: ReasonTimeout, Err: fmt.Errorf("%w: %v", ctx.Err(), err)}
	case ctx.Err() != nil:
		return &ScriptError{Reason: ReasonRuntime, Err: fmt.Errorf("%w: %v", ctx.Err(), err)}
	case strings.Contains(msg, "cost limit exceeded"):
		return &ScriptError{Reason: ReasonPolicy, Err: err}
	}
	return &ScriptError{Reason: ReasonRuntime, Err: err}
}

func (e *Engine) program(ctx context.Context, script string, from, to entities.FieldShape) (cel.Program, error) {
	key := from.String() + ">" + to.String() + ":" + strconv.FormatUint(xxhash.Sum64String(script), 16)
	if prg, ok := e.programs.Get(ctx, key); ok {
		return prg, nil
	}

	prg, err := e.compile(script, from, to)
	if err != nil {
		return nil, err
	}
	if err := e.programs.Set(ctx, key, prg, e.cacheTTL); err != nil {
		e.logger.Warn("failed to cache compiled script", "err", err)
	}
	return prg, nil
}

func (e *Engine) compile(script string, from, to entities.FieldShape) (cel.Program, error) {
	if strings.TrimSpace(script) == "" {
		return nil, &ScriptError{Reason: ReasonCompile, Err: errors.New("script is empty")}
	}

	env, err := e.envFor(from, to)
	if err != nil {
		return nil, &ScriptError{Reason: ReasonCompile, Err: err}
	}

	ast, issues := env.Compile(script)
	if issues != nil && issues.Err() != nil {
		return nil, &ScriptError{Reason: ReasonCompile, Err: issues.Err()}
	}

	opts := []cel.ProgramOption{cel.InterruptCheckFrequency(interruptCheckEvery)}
	if e.costLimit > 0 {
		opts = append(opts, cel.CostLimit(e.costLimit))
	}
	prg, err := env.Program(ast, opts...)
	if err != nil {
		return nil, &ScriptError{Reason: ReasonCompile, Err: fmt.Errorf("failed to create CEL program: %w", err)}
	}
	return prg, nil
}

// envFor returns the environment whose convert() implements the from -> to conversion
func (e *Engine) envFor(from, to entities.FieldShape) (*cel.Env, error) {
	pair := conversion.ConversionPair{From: from, To: to}

	e.mu.Lock()
	defer e.mu.Unlock()
	if env, ok := e.envs[pair]; ok {
		return env, nil
	}

	env, err := e.base.Extend(
		cel.Function("convert",
			cel.Overload("convert_dyn", []*cel.Type{cel.DynType}, cel.DynType,
				cel.UnaryBinding(convertBinding(from, to, conversion.For(from, to))))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to extend CEL environment: %w", err)
	}
	e.envs[pair] = env
	return env, nil
}
