package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var killCmd = &cobra.Command{
	Use:   "kill <signal> <pid>",
	Short: "Rise a signal on a task",
	Long: `kill posts to a running serve instance's /kill endpoint, the Go
analogue of ksh's kill_func: kill SIGTERM 3 rises SIGTERM on pid 3.`,
	Args: cobra.ExactArgs(2),
	RunE: runKill,
}

func init() {
	killCmd.Flags().String("addr", "127.0.0.1:7878", "serve instance's admin address")
}

func runKill(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	sigName, pidArg := args[0], args[1]

	var pid uint32
	if _, err := fmt.Sscanf(pidArg, "%d", &pid); err != nil {
		return fmt.Errorf("invalid pid %q", pidArg)
	}

	body, _ := json.Marshal(killRequest{Pid: pid, Signal: sigName})
	resp, err := http.Post(fmt.Sprintf("http://%s/kill", addr), "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("kill: %s: %s", resp.Status, msg)
	}
	fmt.Printf("signaled %s on pid %d\n", sigName, pid)
	return nil
}
