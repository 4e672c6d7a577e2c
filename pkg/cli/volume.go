package cli

import (
    "fmt"
    "text/tabwriter"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-glusterd/pkg/transport"
)

func NewVolumeCmd(cf *clientFlags) *cobra.Command {
    cmd := &cobra.Command{Use: "volume", Short: "Manage volumes"}
    cmd.AddCommand(
        newVolumeCreateCmd(cf),
        newVolumeAddBrickCmd(cf),
        newVolumeDeleteCmd(cf),
        newVolumeListCmd(cf),
        newVolumeInfoCmd(cf),
    )
    return cmd
}

func reportTxn(cmd *cobra.Command, cf *clientFlags, what string, rep transport.TxnReport, err error) error {
    if cf.asJSON && (err == nil || rep.TxnID != 0) {
        if perr := printJSON(cmd.OutOrStdout(), rep); perr != nil { return perr }
    }
    if err != nil {
        for id, msg := range rep.Failed {
            fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", id, msg)
        }
        return fmt.Errorf("%s: %w", what, err)
    }
    if !cf.asJSON { fmt.Fprintf(cmd.OutOrStdout(), "%s: success (txn %d on %d peers)\n", what, rep.TxnID, len(rep.Committed)) }
    return nil
}

func newVolumeCreateCmd(cf *clientFlags) *cobra.Command {
    var (
        typ             string
        replica, stripe int
    )
    cmd := &cobra.Command{
        Use:   "create <name> <host:/path>...",
        Short: "Create a volume on every peer",
        Args:  cobra.MinimumNArgs(2),
        RunE: func(cmd *cobra.Command, args []string) error {
            if replica > 0 && typ == "" { typ = "replicate" }
            if stripe > 0 && typ == "" { typ = "stripe" }
            api, err := cf.api()
            if err != nil { return err }
            ctx, cancel := cf.context()
            defer cancel()
            rep, err := api.CreateVolume(ctx, transport.CreateVolumeRequest{Name: args[0], Type: typ, Replica: replica, Stripe: stripe, Bricks: args[1:]})
            return reportTxn(cmd, cf, "volume create", rep, err)
        },
    }
    cmd.Flags().StringVar(&typ, "type", "", "distribute|replicate|stripe (default distribute)")
    cmd.Flags().IntVar(&replica, "replica", 0, "replica count")
    cmd.Flags().IntVar(&stripe, "stripe", 0, "stripe count")
    return cmd
}

func newVolumeAddBrickCmd(cf *clientFlags) *cobra.Command {
    return &cobra.Command{
        Use:   "add-brick <name> <host:/path>...",
        Short: "Append bricks to a volume",
        Args:  cobra.MinimumNArgs(2),
        RunE: func(cmd *cobra.Command, args []string) error {
            api, err := cf.api()
            if err != nil { return err }
            ctx, cancel := cf.context()
            defer cancel()
            rep, err := api.AddBrick(ctx, args[0], transport.AddBrickRequest{Bricks: args[1:]})
            return reportTxn(cmd, cf, "volume add-brick", rep, err)
        },
    }
}

func newVolumeDeleteCmd(cf *clientFlags) *cobra.Command {
    return &cobra.Command{
        Use:   "delete <name>",
        Short: "Delete a volume from every peer",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            api, err := cf.api()
            if err != nil { return err }
            ctx, cancel := cf.context()
            defer cancel()
            rep, err := api.DeleteVolume(ctx, args[0])
            return reportTxn(cmd, cf, "volume delete", rep, err)
        },
    }
}

func newVolumeListCmd(cf *clientFlags) *cobra.Command {
    return &cobra.Command{
        Use:   "list",
        Short: "List volume names",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            api, err := cf.api()
            if err != nil { return err }
            ctx, cancel := cf.context()
            defer cancel()
            vols, err := api.Volumes(ctx)
            if err != nil { return err }
            if cf.asJSON { return printJSON(cmd.OutOrStdout(), vols) }
            if len(vols) == 0 { fmt.Fprintln(cmd.OutOrStdout(), "No volumes present in cluster") }
            for _, v := range vols { fmt.Fprintln(cmd.OutOrStdout(), v.Name) }
            return nil
        },
    }
}

func newVolumeInfoCmd(cf *clientFlags) *cobra.Command {
    return &cobra.Command{
        Use:   "info [name]",
        Short: "Show volume details",
        Args:  cobra.MaximumNArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            api, err := cf.api()
            if err != nil { return err }
            ctx, cancel := cf.context()
            defer cancel()
            var vols []transport.VolumeView
            if len(args) == 1 {
                v, err := api.Volume(ctx, args[0])
                if err != nil { return err }
                vols = append(vols, v)
            } else if vols, err = api.Volumes(ctx); err != nil {
                return err
            }
            if cf.asJSON { return printJSON(cmd.OutOrStdout(), vols) }
            for _, v := range vols { writeVolume(cmd, v) }
            return nil
        },
    }
}

func writeVolume(cmd *cobra.Command, v transport.VolumeView) {
    out := cmd.OutOrStdout()
    fmt.Fprintf(out, "\nVolume Name: %s\nType: %s\nVersion: %d\n", v.Name, v.Type, v.Version)
    switch v.Type {
    case "REPLICATE":
        fmt.Fprintf(out, "Replica: %d\n", v.ReplicaCount)
    case "STRIPE":
        fmt.Fprintf(out, "Stripe: %d\n", v.StripeCount)
    }
    fmt.Fprintf(out, "Number of Bricks: %d\n", len(v.Bricks))
    w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
    for i, b := range v.Bricks {
        host := b.Hostname
        if host == "" { host = b.Peer }
        fmt.Fprintf(w, "Brick%d:\t%s:%s\n", i+1, host, b.Path)
    }
    _ = w.Flush()
}
