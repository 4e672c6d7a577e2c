package cli

import (
    "fmt"
    "strconv"
    "strings"
    "text/tabwriter"

    "github.com/spf13/cobra"

    "github.com/amirimatin/go-glusterd/pkg/transport"
)

func NewPeerCmd(cf *clientFlags) *cobra.Command {
    cmd := &cobra.Command{Use: "peer", Short: "Manage the trusted storage pool"}
    cmd.AddCommand(newPeerProbeCmd(cf), newPeerDetachCmd(cf), newPeerStatusCmd(cf))
    return cmd
}

// splitHostPort accepts "host" or "host:port".
func splitHostPort(s string) (string, int, error) {
    i := strings.LastIndexByte(s, ':')
    if i < 0 || strings.HasSuffix(s, "]") { return strings.Trim(s, "[]"), 0, nil }
    port, err := strconv.Atoi(s[i+1:])
    if err != nil { return "", 0, fmt.Errorf("bad port in %q", s) }
    return strings.Trim(s[:i], "[]"), port, nil
}

func newPeerProbeCmd(cf *clientFlags) *cobra.Command {
    return &cobra.Command{
        Use:   "probe <host[:port]>",
        Short: "Add a peer to the pool",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            host, port, err := splitHostPort(args[0])
            if err != nil { return err }
            api, err := cf.api()
            if err != nil { return err }
            ctx, cancel := cf.context()
            defer cancel()
            out, err := api.Probe(ctx, transport.ProbeRequest{Host: host, Port: port})
            if err != nil { return fmt.Errorf("peer probe: %w", err) }
            if cf.asJSON { return printJSON(cmd.OutOrStdout(), out) }
            fmt.Fprintf(cmd.OutOrStdout(), "peer probe: success (%s is %s)\n", out.Peer.Hostname, out.Peer.State)
            return nil
        },
    }
}

func newPeerDetachCmd(cf *clientFlags) *cobra.Command {
    return &cobra.Command{
        Use:   "detach <uuid|host[:port]>",
        Short: "Remove a peer that hosts no bricks",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            api, err := cf.api()
            if err != nil { return err }
            ctx, cancel := cf.context()
            defer cancel()
            out, err := api.Detach(ctx, transport.DetachRequest{Peer: args[0]})
            if err != nil { return fmt.Errorf("peer detach: %w", err) }
            if cf.asJSON { return printJSON(cmd.OutOrStdout(), out) }
            fmt.Fprintln(cmd.OutOrStdout(), "peer detach: success")
            return nil
        },
    }
}

func newPeerStatusCmd(cf *clientFlags) *cobra.Command {
    return &cobra.Command{
        Use:   "status",
        Short: "List known peers and their handshake state",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            api, err := cf.api()
            if err != nil { return err }
            ctx, cancel := cf.context()
            defer cancel()
            peers, err := api.Peers(ctx)
            if err != nil { return err }
            if cf.asJSON { return printJSON(cmd.OutOrStdout(), peers) }
            return writePeers(cmd, peers)
        },
    }
}

func writePeers(cmd *cobra.Command, peers []transport.PeerView) error {
    fmt.Fprintf(cmd.OutOrStdout(), "Number of Peers: %d\n", len(peers))
    w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
    fmt.Fprintln(w, "UUID\tHOSTNAME\tPORT\tSTATE\tCONNECTED")
    for _, p := range peers {
        id := p.ID
        if id == "" { id = "-" }
        fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\n", id, p.Hostname, p.Port, p.State, p.Connected)
    }
    return w.Flush()
}
