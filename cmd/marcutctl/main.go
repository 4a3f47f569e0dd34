package main

import (
	"fmt"
	"os"

	"marcutd/internal/ctl"
)

func main() {
	cfg := &ctl.Config{Addr: ctl.DefaultAddr()}
	root := ctl.BuildRootCmd(cfg)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
