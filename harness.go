// Harness commands: 'launch' spawns the whole membership set as child
// processes, 'inject' plays the external driver and feeds one PROPOSE line
// into a member's port. Neither is part of the consensus engine; both exist
// so a scenario can be driven from a shell.

package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go-electorate/paxos/config"
	"go-electorate/paxos/messages"
)

var launchProfile string

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Spawn every member of the membership file as a child process",
	Args:  cobra.NoArgs,
	RunE:  runLaunch,
}

func init() {
	launchCmd.Flags().StringVar(&launchProfile, "profile", "reliable", "transport profile passed to every member")
}

func runLaunch(_ *cobra.Command, _ []string) error {
	members, err := config.LoadMembers(flagConfig)
	if err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving own executable: %v", err)
	}

	var procs []*exec.Cmd
	stopAll := func() {
		for _, p := range procs {
			_ = p.Process.Signal(syscall.SIGTERM)
		}
		for _, p := range procs {
			_ = p.Wait()
		}
	}

	for _, m := range members {
		cmd := exec.Command(exe, m.ID,
			"--profile", launchProfile,
			"--config", flagConfig,
			"--settings", flagSettings,
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			stopAll()
			return fmt.Errorf("starting member %s: %v", m.ID, err)
		}
		log.Printf("[LAUNCHER] -> member %s started (pid %d).", m.ID, cmd.Process.Pid)
		procs = append(procs, cmd)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Print("[LAUNCHER] -> stopping every member.")
	stopAll()
	return nil
}

var injectCmd = &cobra.Command{
	Use:   "inject <memberId> <candidate>",
	Short: "Send one PROPOSE line to a member, as the external driver does",
	Args:  cobra.ExactArgs(2),
	RunE:  runInject,
}

func runInject(_ *cobra.Command, args []string) error {
	memberID, candidate := args[0], args[1]

	members, err := config.LoadMembers(flagConfig)
	if err != nil {
		return err
	}
	target, err := config.FindMember(members, memberID)
	if err != nil {
		return err
	}

	m := messages.New(messages.Propose, "script")
	m.V = candidate

	conn, err := net.DialTimeout("tcp", target.Addr(), 2*time.Second)
	if err != nil {
		return fmt.Errorf("dialing %s: %v", target.Addr(), err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := conn.Write([]byte(m.Encode() + "\n")); err != nil {
		return fmt.Errorf("writing PROPOSE to %s: %v", target.Addr(), err)
	}
	log.Printf("[INJECT] -> proposed candidate '%s' to member %s.", candidate, memberID)
	return nil
}
