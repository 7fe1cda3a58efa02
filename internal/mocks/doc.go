// Package mocks provides shared mock implementations for testing.
//
// MockExecutor stands in for exec.Executor so tests never launch rga or dot.
// Its Handler plays the tool, writing whatever files the real one would:
//
//	executor := mocks.NewMockExecutor(func(argv []string) (exec.Result, error) {
//	    return exec.Result{Stdout: "gfx1030 (RDNA2)\n\tRadeon RX 6800\n"}, nil
//	})
//	compiler := rga.NewCompiler(rga.Config{Tools: tools, Executor: executor})
//
// Calls, CallCount and Events let tests assert on what was launched and in
// which order processes were started and waited on.
package mocks
