package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"almos/kernel/runtime"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List tasks on a running almosctl serve instance",
	Long: `ps queries a running serve instance's /ps endpoint and prints one
line per task plus one indented line per thread, the Go analogue of
ksh's ps_print_task output.`,
	RunE: runPs,
}

func init() {
	psCmd.Flags().String("addr", "127.0.0.1:7878", "serve instance's admin address")
}

func runPs(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	resp, err := http.Get(fmt.Sprintf("http://%s/ps", addr))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ps: server returned %s", resp.Status)
	}

	var procs []runtime.ProcessInfo
	if err := json.NewDecoder(resp.Body).Decode(&procs); err != nil {
		return err
	}

	for _, p := range procs {
		fmt.Printf("[PID] %d [PPID] %d [Children] %d [State] %s [Cluster] %d [CPU] %d\n",
			p.Pid, p.PPid, p.Children, p.State, p.Cluster, p.CPU)
		for _, th := range p.Threads {
			fmt.Printf("  |__ [TID] %d [ORD] %d [%s] [%s]\n", th.ID, th.Order, th.Kind, th.State)
		}
	}
	return nil
}
