package main

import (
    "os"

    "github.com/amirimatin/go-glusterd/pkg/cli"
)

func main() {
    if err := cli.NewDaemonCmd().Execute(); err != nil {
        os.Exit(cli.Fail(os.Stderr, "glusterd", err))
    }
}
