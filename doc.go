// Package hookscan locates functions in loaded module images by byte
// signature and redirects them to replacements at runtime.
//
// The pipeline is Pattern -> Scanner -> Registry: compile a signature with
// wildcards, scan a module region for its first match through a
// bounds-checked Accessor, then install a jump patch at the resolved
// address and toggle it on and off through the hook registry. Sequencer
// ties the steps together, including waiting for the target module to
// finish initializing and retrying scans that race module startup.
//
// Limitations:
//   - The jump patcher only supports amd64 on Linux or Windows
//   - No trampolines: the original function cannot be called while its
//     hook is enabled
//   - Patch sites stay writable while a hook is installed
//   - Only in-process memory; remote processes need their own Accessor
package hookscan
