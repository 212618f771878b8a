package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var pwdCmd = &cobra.Command{
	Use:   "pwd",
	Short: "Print a task's working directory",
	Long: `pwd queries a running serve instance's /pwd endpoint, the Go
analogue of ksh's pwd_func. No vfs package exists in this port (see
task's package doc), so the answer is always /.`,
	RunE: runPwd,
}

func init() {
	pwdCmd.Flags().String("addr", "127.0.0.1:7878", "serve instance's admin address")
	pwdCmd.Flags().Uint32("pid", 1, "task to report the working directory of")
}

func runPwd(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	pid, _ := cmd.Flags().GetUint32("pid")

	resp, err := http.Get(fmt.Sprintf("http://%s/pwd?pid=%d", addr, pid))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pwd: server returned %s", resp.Status)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	fmt.Println(body["cwd"])
	return nil
}
