package main

import (
	"os"

	"github.com/blacktop/xpostd/cmd"
	"github.com/blacktop/xpostd/internal/logutil"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logutil.Errorf("%v", err)
		os.Exit(1)
	}
}
