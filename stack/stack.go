package stack

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/kobject/errors"
	"github.com/wippyai/kobject/vm"
)

// DefaultSize is the kernel stack size used when none is configured.
const DefaultSize = 8192

// Names of the two stack kinds; also used as region and mapping names.
const (
	SafeName   = "safe-stack"
	UnsafeName = "unsafe-stack"
)

// Space is the address-space surface stacks are carved from.
type Space interface {
	NewMemoryObject(size uint64) (*vm.MemoryObject, error)
	Root() *vm.Region
}

// Stack is one guarded, pre-faulted kernel stack.
type Stack struct {
	region  *vm.Region
	mapping *vm.Mapping
	name    string
	size    uint64
}

// Name returns the stack name.
func (s *Stack) Name() string { return s.name }

// Size returns the usable stack size in bytes.
func (s *Stack) Size() uint64 { return s.size }

// Base returns the lowest usable address.
func (s *Stack) Base() uint64 { return s.mapping.Base() }

// Top returns the initial stack pointer.
func (s *Stack) Top() uint64 { return s.mapping.Base() + s.size }

// Region returns the sub-region owning the stack and its guard pages.
func (s *Stack) Region() *vm.Region { return s.region }

// Allocate creates a stack of size bytes in space. On failure any region
// already created is destroyed before the error is returned.
func Allocate(space Space, size uint64, name string) (*Stack, error) {
	if size == 0 || size%vm.PageSize != 0 {
		return nil, errors.InvalidArgs(errors.PhaseStack, "stack size %d is not a page multiple", size)
	}

	obj, err := space.NewMemoryObject(size)
	if err != nil {
		return nil, errors.NoResources(errors.PhaseStack, "create memory object", err)
	}

	const padding = vm.PageSize
	region, err := space.Root().CreateSubRegion(0, size+2*padding,
		vm.FlagCanRead|vm.FlagCanWrite|vm.FlagCanMapSpecific, name)
	if err != nil {
		return nil, errors.NoResources(errors.PhaseStack, "create region", err)
	}

	mapping, err := region.CreateMapping(padding, size, vm.FlagSpecific, obj, 0,
		vm.PermRead|vm.PermWrite, name)
	if err != nil {
		destroyRegion(region)
		return nil, errors.NoResources(errors.PhaseStack, "create mapping", err)
	}

	// Kernel stacks are never demand paged.
	if err := mapping.MapRange(0, size, true); err != nil {
		destroyRegion(region)
		return nil, errors.NoResources(errors.PhaseStack, "map range", err)
	}

	Logger().Debug("stack allocated",
		zap.String("name", name),
		zap.Uint64("base", mapping.Base()),
		zap.Uint64("size", size))

	return &Stack{
		region:  region,
		mapping: mapping,
		name:    name,
		size:    size,
	}, nil
}

// Release drops the mapping and then destroys the owning region.
func (s *Stack) Release() error {
	return multierr.Append(s.mapping.Destroy(), s.region.Destroy())
}

func destroyRegion(r *vm.Region) {
	if err := r.Destroy(); err != nil {
		Logger().Warn("stack rollback failed",
			zap.String("region", r.Name()),
			zap.Error(err))
	}
}
