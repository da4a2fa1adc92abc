//go:build debug

package debug

import "fmt"

func ON() bool { return true }

func Infof(f string, a ...any) { fmt.Printf("[debug] "+f+"\n", a...) }

func Func(f func()) { f() }

func Assert(cond bool, args ...any) {
	if cond {
		return
	}
	if len(args) > 0 {
		panic(fmt.Sprintln(args...))
	}
	panic("assertion failed")
}

func AssertFunc(f func() bool, args ...any) { Assert(f(), args...) }

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

func Assertf(cond bool, f string, a ...any) {
	if cond {
		return
	}
	panic(fmt.Sprintf(f, a...))
}
