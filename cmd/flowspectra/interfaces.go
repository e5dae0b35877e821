package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"Go2FlowSpectra/internal/writer"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/spf13/cobra"
)

func newInterfacesCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "interfaces",
		Short: "List capture interfaces with their addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ifaces, err := psnet.Interfaces()
			if err != nil {
				return fmt.Errorf("failed to list interfaces: %w", err)
			}
			return printInterfaces(cmd.OutOrStdout(), ifaces, all)
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include loopback and down interfaces")
	return cmd
}

func hasFlag(iface psnet.InterfaceStat, flag string) bool {
	for _, f := range iface.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

func printInterfaces(out io.Writer, ifaces []psnet.InterfaceStat, all bool) error {
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Index < ifaces[j].Index })
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMTU\tMAC\tFLAGS\tADDRESSES")
	for _, iface := range ifaces {
		if !all && (hasFlag(iface, "loopback") || !hasFlag(iface, "up")) {
			continue
		}
		addrs := make([]string, 0, len(iface.Addrs))
		for _, a := range iface.Addrs {
			addrs = append(addrs, a.Addr)
		}
		mac := iface.HardwareAddr
		if mac == "" {
			mac = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			iface.Name, iface.MTU, mac, strings.Join(iface.Flags, ","), strings.Join(addrs, " "))
	}
	return tw.Flush()
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <rows.dat>",
		Short: "Print the rows of a gob snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := writer.ReadRecords(args[0])
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), records)
		},
	}
}

// printRecords prints one line per record with its columns in name order.
func printRecords(out io.Writer, records []writer.Record) error {
	for _, r := range records {
		cols := make([]string, 0, len(r.Columns))
		for name := range r.Columns {
			cols = append(cols, name)
		}
		sort.Strings(cols)
		parts := make([]string, len(cols))
		for i, name := range cols {
			parts[i] = name + "=" + r.Columns[name]
		}
		if _, err := fmt.Fprintf(out, "%s\t%s\t%s\n", r.Collector, r.Key, strings.Join(parts, " ")); err != nil {
			return err
		}
	}
	return nil
}
