package hookscan

// PatchHandle is the opaque token a Patcher returns for an installed patch.
type PatchHandle interface{}

// Patcher is the underlying hooking primitive: the thing that actually
// rewrites executable bytes. The registry treats it as a black box that can
// size a patch site, install a redirect and release it again. Everything
// else (snapshots, restore, lifecycle) stays in the registry.
//
// A Patcher owns page protection. If installing requires making the site
// writable, the protection should stay relaxed until Uninstall so the
// registry can toggle the site bytes through the Accessor.
type Patcher interface {
	// SiteSize returns how many bytes at addr the patch will cover. The
	// registry snapshots exactly this many bytes before Install.
	SiteSize(r ModuleRegion, addr uintptr) (int, error)

	// Install writes the redirect at addr. On failure the registry
	// restores the snapshot, so Install does not need to clean up its
	// own partial writes.
	Install(r ModuleRegion, addr uintptr, replacement uintptr) (PatchHandle, error)

	// Uninstall releases whatever Install acquired. The registry has
	// already restored the original bytes by the time this is called.
	Uninstall(h PatchHandle) error
}
