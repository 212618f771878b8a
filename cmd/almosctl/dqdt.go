package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"almos/kernel/runtime"
)

var dqdtCmd = &cobra.Command{
	Use:   "dqdt",
	Short: "Dump the DQDT tree's folded load summary",
	Long: `dqdt queries a running serve instance's /dqdt endpoint and prints
one indented line per tree node: free pages, runnable threads and
average busy percent beneath it, the presentation this port gives
dqdt.c's bottom-up fold (there is no dqdt_print in the source tree to
ground the exact format on).`,
	RunE: runDQDT,
}

func init() {
	dqdtCmd.Flags().String("addr", "127.0.0.1:7878", "serve instance's admin address")
}

func runDQDT(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	resp, err := http.Get(fmt.Sprintf("http://%s/dqdt", addr))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dqdt: server returned %s", resp.Status)
	}

	var nodes []runtime.DQDTNodeSummary
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		return err
	}

	for _, n := range nodes {
		indent := strings.Repeat("  ", n.Depth)
		label := fmt.Sprintf("level %d", n.Level)
		if n.Cluster != nil {
			label = fmt.Sprintf("cluster %d", *n.Cluster)
		}
		fmt.Printf("%s%s: free_pages=%d threads=%d usage=%d%%\n",
			indent, label, n.Summary.FreePages, n.Summary.Threads, n.Summary.Usage)
	}
	return nil
}
