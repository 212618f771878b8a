package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"almos/kernel/klog"
	"almos/kernel/runtime"
)

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Build a runtime from a scenario file and report its topology",
	Long: `boot loads a YAML scenario (cluster/CPU topology plus tunables),
builds the same Runtime serve would run, and reports what came out:
cluster and CPU counts, the DQDT tree depth, and the bootstrap task it
placed — the Go analogue of kern_init's "All clusters have been
Initialized" / "DQDT has been built" boot messages. It does not serve
anything; use serve to keep a runtime alive for ps/kill/pwd/dqdt/fork/
migrate.`,
	RunE: runBoot,
}

func init() {
	bootCmd.Flags().String("scenario", "testdata/scenario.yaml", "scenario YAML file")
}

func runBoot(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("scenario")

	scenario, err := loadScenario(path)
	if err != nil {
		return fmt.Errorf("load scenario: %w", err)
	}

	r, err := runtime.Boot(scenario.Config, &scenario.Boot)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	klog.Logger.Info().
		Int("clusters", r.Table.Len()).
		Msg("all clusters have been initialized")

	depth := 0
	for n := r.Tree.Leaf(r.Table.Clusters()[0].CID); n != nil; n = n.Parent {
		depth = n.Level
	}
	klog.Logger.Info().Int("depth", depth).Msg("dqdt has been built")

	procs := r.Ps()
	fmt.Printf("clusters: %d\n", r.Table.Len())
	fmt.Printf("dqdt depth: %d\n", depth)
	fmt.Printf("bootstrap task: pid %d, %d thread(s)\n", procs[0].Pid, len(procs[0].Threads))
	return nil
}
