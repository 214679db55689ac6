//go:build !unix

package terminal

func watchResize(func()) func() {
	return func() {}
}
