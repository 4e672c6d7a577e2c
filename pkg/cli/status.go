package cli

import (
    "fmt"
    "text/tabwriter"

    "github.com/spf13/cobra"
)

func NewStatusCmd(cf *clientFlags) *cobra.Command {
    return &cobra.Command{
        Use:   "status",
        Short: "Show the daemon identity, peers, volumes and lock holder",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            api, err := cf.api()
            if err != nil { return err }
            ctx, cancel := cf.context()
            defer cancel()
            st, err := api.Status(ctx)
            if err != nil { return err }
            if cf.asJSON { return printJSON(cmd.OutOrStdout(), st) }
            out := cmd.OutOrStdout()
            w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
            fmt.Fprintf(w, "UUID:\t%s\n", st.ID)
            fmt.Fprintf(w, "Hostname:\t%s:%d\n", st.Hostname, st.Port)
            fmt.Fprintf(w, "Gateway:\t%s\n", st.Gateway)
            fmt.Fprintf(w, "Volumes:\t%d\n", len(st.Volumes))
            if st.Lock != nil {
                fmt.Fprintf(w, "Lock:\t%s (txn %d, %s, since %s)\n", st.Lock.Initiator, st.Lock.TxnID, st.Lock.Op, st.Lock.Since.Format("15:04:05"))
            } else {
                fmt.Fprintf(w, "Lock:\tfree\n")
            }
            if err := w.Flush(); err != nil { return err }
            return writePeers(cmd, st.Peers)
        },
    }
}
