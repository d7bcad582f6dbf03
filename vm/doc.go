// Package vm provides the address-space surface kernel objects allocate from.
//
// An AddressSpace is a tree of Regions. A Region may contain sub-regions and
// mappings of MemoryObjects; a Mapping becomes resident only after MapRange
// commits its pages.
//
//	as := vm.NewAddressSpace("kernel", 0xffff_0000_0000_0000, 1<<30)
//	obj, _ := as.NewMemoryObject(8192)
//	r, _ := as.Root().CreateSubRegion(0, 8192+2*vm.PageSize, vm.FlagCanRead|vm.FlagCanWrite, "stack")
//	m, _ := r.CreateMapping(vm.PageSize, 8192, vm.FlagSpecific, obj, 0, vm.PermRead|vm.PermWrite, "stack")
//	_ = m.MapRange(0, 8192, true)
//
// Destroying a Region destroys everything inside it.
//
// # Fault Injection
//
// WithFaultHook lets tests fail any allocating operation by name:
//
//	as := vm.NewAddressSpace("kernel", base, size, vm.WithFaultHook(func(op vm.Op, name string) error {
//	    if op == vm.OpCreateMapping && name == "unsafe-stack" {
//	        return errors.New("injected")
//	    }
//	    return nil
//	}))
package vm
