package main

import (
	"bytes"
	"testing"
)

// captureCLIOutput 将 stdOut/stdErr 替换为内存缓冲，测试结束后恢复。
func captureCLIOutput(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()

	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = out, errOut

	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return out, errOut
}
