package usermode

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/kobject/errors"
	"github.com/wippyai/kobject/exception"
)

// Entry points are laid out from CodeBase, one EntryStride apart, in export
// name order.
const (
	CodeBase    uint64 = 0x10_1000
	EntryStride uint64 = 0x10
)

// exitKilled is the exit code an instance is closed with when its thread
// is killed at a checkpoint.
const exitKilled uint32 = 137

// Config controls the wazero runtime backing a Program.
type Config struct {
	// MemoryLimitPages caps linear memory per instance (64KiB pages).
	// Zero keeps the wazero default.
	MemoryLimitPages uint32

	// Interpreter selects the interpreter instead of the compiler.
	Interpreter bool
}

// Program is a compiled user program. It is safe for concurrent use.
type Program struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	names    map[uint64]string
	addrs    map[string]uint64
}

// Load compiles wasm and prepares the kernel host module it may import.
func Load(ctx context.Context, wasm []byte, cfg Config) (*Program, error) {
	rcfg := wazero.NewRuntimeConfig()
	if cfg.Interpreter {
		rcfg = wazero.NewRuntimeConfigInterpreter()
	}
	rcfg = rcfg.WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		rcfg = rcfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rcfg)

	_, err := rt.NewHostModuleBuilder("kernel").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(checkpoint), nil, nil).
		Export("checkpoint").
		Instantiate(ctx)
	if err != nil {
		rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseUsermode, errors.KindInvalidArgs, err, "instantiate kernel module")
	}

	compiled, err := rt.CompileModule(ctx, wasm)
	if err != nil {
		rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseUsermode, errors.KindInvalidArgs, err, "compile program")
	}

	exports := compiled.ExportedFunctions()
	order := make([]string, 0, len(exports))
	for name := range exports {
		order = append(order, name)
	}
	sort.Strings(order)

	p := &Program{
		runtime:  rt,
		compiled: compiled,
		names:    make(map[uint64]string, len(order)),
		addrs:    make(map[string]uint64, len(order)),
	}
	for i, name := range order {
		addr := CodeBase + uint64(i)*EntryStride
		p.names[addr] = name
		p.addrs[name] = addr
	}
	Logger().Debug("program loaded",
		zap.Strings("entries", order),
		zap.Bool("interpreter", cfg.Interpreter))
	return p, nil
}

// EntryAddress returns the start address of an exported function.
func (p *Program) EntryAddress(name string) (uint64, error) {
	addr, ok := p.addrs[name]
	if !ok {
		return 0, errors.NotFound(errors.PhaseUsermode, "entry", name)
	}
	return addr, nil
}

// Entries returns the exported entry names in address order.
func (p *Program) Entries() []string {
	out := make([]string, 0, len(p.addrs))
	for name := range p.addrs {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return p.addrs[out[i]] < p.addrs[out[j]] })
	return out
}

type yieldKey struct{}

// Run executes the function at entry in a fresh instance. The function
// receives as many of arg1 and arg2 as it declares parameters. Each call
// to kernel.checkpoint invokes yield; an error from yield, or ctx being
// cancelled, terminates the instance and Run returns a killed error.
// Traps are returned as *exception.Fault.
func (p *Program) Run(ctx context.Context, entry, arg1, arg2 uint64, yield func() error) error {
	name, ok := p.names[entry]
	if !ok {
		return &exception.Fault{
			Type:  exception.ReportFatalPageFault,
			PC:    entry,
			Addr:  entry,
			Cause: errors.NotFound(errors.PhaseUsermode, "entry", "0x"+strconv.FormatUint(entry, 16)),
		}
	}

	ctx = context.WithValue(ctx, yieldKey{}, yield)
	mod, err := p.runtime.InstantiateModule(ctx, p.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		if ctx.Err() != nil {
			return errors.New(errors.PhaseUsermode, errors.KindKilled).Op("instantiate").Cause(err).Build()
		}
		return errors.NoResources(errors.PhaseUsermode, "instantiate", err)
	}
	defer mod.Close(context.Background())

	fn := mod.ExportedFunction(name)
	args := []uint64{arg1, arg2}
	params := len(fn.Definition().ParamTypes())
	if params > len(args) {
		return &exception.Fault{
			Type:  exception.ReportGeneral,
			PC:    entry,
			Cause: errors.InvalidArgs(errors.PhaseUsermode, "%s takes %d parameters", name, params),
		}
	}

	results, err := fn.Call(ctx, args[:params]...)
	if err != nil {
		return classify(ctx, entry, name, err)
	}
	Logger().Debug("entry returned",
		zap.String("entry", name),
		zap.Uint64s("results", results))
	return nil
}

// Close releases the runtime and every instance still open.
func (p *Program) Close(ctx context.Context) error {
	return p.runtime.Close(ctx)
}

func checkpoint(ctx context.Context, mod api.Module, _ []uint64) {
	yield, _ := ctx.Value(yieldKey{}).(func() error)
	if yield == nil {
		return
	}
	if err := yield(); err != nil {
		_ = mod.CloseWithExitCode(ctx, exitKilled)
		panic(sys.NewExitError(exitKilled))
	}
}

// trapTypes maps wazero runtime error text to report types.
var trapTypes = []struct {
	text string
	typ  exception.ReportType
}{
	{"unreachable", exception.ReportUndefinedInstruction},
	{"out of bounds memory access", exception.ReportFatalPageFault},
	{"stack overflow", exception.ReportFatalPageFault},
	{"invalid table access", exception.ReportFatalPageFault},
	{"unaligned", exception.ReportUnalignedAccess},
}

func classify(ctx context.Context, entry uint64, name string, err error) error {
	var exit *sys.ExitError
	if errors.As(err, &exit) || ctx.Err() != nil {
		Logger().Debug("entry terminated", zap.String("entry", name), zap.Error(err))
		return errors.New(errors.PhaseUsermode, errors.KindKilled).Op("run").Cause(err).Build()
	}

	typ := exception.ReportGeneral
	msg := err.Error()
	for _, t := range trapTypes {
		if strings.Contains(msg, t.text) {
			typ = t.typ
			break
		}
	}
	Logger().Debug("entry trapped",
		zap.String("entry", name),
		zap.Stringer("type", typ),
		zap.Error(err))
	return &exception.Fault{Type: typ, PC: entry, Cause: err}
}
