// Package bytecode validates WebAssembly modules before they reach the VM.
//
// [Validate] is a pure function of its input. It checks the header, walks
// every section and checks each length prefix against the bytes that
// remain, so a module it accepts can be handed to the engine without the
// engine ever reading outside the buffer. It also derives the module name
// and the callable exports: functions whose signature is (i64, ...) -> i64.
package bytecode
