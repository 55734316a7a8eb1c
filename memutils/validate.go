package memutils

// Validatable is anything that can check its own bookkeeping, such as a block list or a registry.
// DebugValidate acts on it.
type Validatable interface {
	Validate() error
}
