package checker_test

import (
	"fmt"

	"github.com/androm3da/model-checker/checker"
)

// Example demonstrates checking a small release/acquire handoff.
func Example() {
	prog := func(env *checker.Env) {
		data := env.NewVar()
		flag := env.NewAtomic()
		flag.Init(0)

		writer := env.Spawn(func() {
			data.Store(1)
			flag.Store(1, checker.Release)
		})
		reader := env.Spawn(func() {
			if flag.Load(checker.Acquire) == 1 {
				env.Assert(data.Load() == 1, "publication failed")
			}
		})
		env.Join(writer)
		env.Join(reader)
	}

	res := checker.New(checker.DefaultParams(), prog).Run()
	fmt.Println("bug free:", res.BugFree())
	// Output:
	// bug free: true
}

// ExampleGetInfo prints the checker's identity.
func ExampleGetInfo() {
	info := checker.GetInfo()
	fmt.Println(info.Version != "")
	// Output:
	// true
}
