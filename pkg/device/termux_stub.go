//go:build !linux

package device

// termux-api only exists on Android, which builds as linux.
func newTermux(opts Options) Unsupported {
	return Unsupported{}
}
