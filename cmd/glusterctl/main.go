package main

import (
    "os"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-glusterd/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        os.Exit(cli.Fail(os.Stderr, "glusterctl", err))
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "glusterctl",
        Short:         "glusterd management CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    cli.AddAll(root)
    return root
}
