package usermode

// Demo is a small program exporting four entry points:
//
//	spin(a, b i64)        loops on kernel.checkpoint forever
//	fault()               traps on an unreachable instruction
//	sum(a, b i64) i64     returns a+b
//	count(n, _ i64)       calls kernel.checkpoint n times
var Demo = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,

	// type: () -> (), (i64 i64) -> (), (i64 i64) -> i64
	0x01, 0x0f, 0x03,
	0x60, 0x00, 0x00,
	0x60, 0x02, 0x7e, 0x7e, 0x00,
	0x60, 0x02, 0x7e, 0x7e, 0x01, 0x7e,

	// import: kernel.checkpoint
	0x02, 0x15, 0x01,
	0x06, 'k', 'e', 'r', 'n', 'e', 'l',
	0x0a, 'c', 'h', 'e', 'c', 'k', 'p', 'o', 'i', 'n', 't',
	0x00, 0x00,

	// function: spin, fault, sum, count
	0x03, 0x05, 0x04, 0x01, 0x00, 0x02, 0x01,

	// export
	0x07, 0x1e, 0x04,
	0x04, 's', 'p', 'i', 'n', 0x00, 0x01,
	0x05, 'f', 'a', 'u', 'l', 't', 0x00, 0x02,
	0x03, 's', 'u', 'm', 0x00, 0x03,
	0x05, 'c', 'o', 'u', 'n', 't', 0x00, 0x04,

	// code
	0x0a, 0x30, 0x04,
	// spin: loop { checkpoint; br 0 }
	0x09, 0x00, 0x03, 0x40, 0x10, 0x00, 0x0c, 0x00, 0x0b, 0x0b,
	// fault: unreachable
	0x03, 0x00, 0x00, 0x0b,
	// sum: local.get 0; local.get 1; i64.add
	0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x7c, 0x0b,
	// count: block { loop { br_if 1 (n == 0); checkpoint; n--; br 0 } }
	0x18, 0x00,
	0x02, 0x40,
	0x03, 0x40,
	0x20, 0x00, 0x50, 0x0d, 0x01,
	0x10, 0x00,
	0x20, 0x00, 0x42, 0x01, 0x7d, 0x21, 0x00,
	0x0c, 0x00,
	0x0b, 0x0b, 0x0b,
}
