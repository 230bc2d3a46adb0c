//go:build !linux

package sink

func currentThreadID() int {
	return 0
}
