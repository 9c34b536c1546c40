package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go-electorate/paxos"
	"go-electorate/paxos/config"
	"go-electorate/paxos/queries"
	"go-electorate/paxos/transport"
)

var (
	flagProfile  string
	flagConfig   string
	flagSettings string
)

var rootCmd = &cobra.Command{
	Use:   "electorate <memberId>",
	Short: "One member of the nine-peer single-decree consensus set",
	Long: `electorate runs one member (M1..M9) of a fixed set of nine peers that
agree on a single candidate value with the Paxos algorithm. Each member
hosts the three roles (proposer, acceptor, learner) behind one TCP port;
an external driver injects a PROPOSE line to start a round.`,
	Args: cobra.ExactArgs(1),
	RunE: runMember,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "network.config", "membership file (memberId,host,port lines)")
	rootCmd.PersistentFlags().StringVar(&flagSettings, "settings", "settings.yaml", "optional '.yaml' tuning file")
	rootCmd.Flags().StringVar(&flagProfile, "profile", "reliable", "transport profile: reliable|latent|failure|standard")
	rootCmd.AddCommand(launchCmd, injectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMember(_ *cobra.Command, args []string) error {
	memberID := args[0]

	conf := &config.Conf{}
	if err := conf.LoadSettingsFile(flagSettings); err != nil {
		return err
	}
	members, err := config.LoadMembers(flagConfig)
	if err != nil {
		return err
	}
	conf.FillEmptyFields(len(members))

	profile, err := conf.ProfileByName(flagProfile)
	if err != nil {
		return err
	}
	self, err := config.FindMember(members, memberID)
	if err != nil {
		return err
	}

	recorder, err := queries.NewRecorder(conf)
	if err != nil {
		return err
	}
	defer recorder.Close()

	sender := transport.NewFaultySender(transport.NewTCPSender(conf), profile, conf.SEED)
	engine, err := paxos.NewEngine(memberID, members, conf, sender, recorder)
	if err != nil {
		return err
	}

	listener := transport.NewListener(self, conf, engine.Dispatch)
	if err := listener.Start(); err != nil {
		return err
	}

	var seeker *paxos.Seeker
	if !conf.SEEK_DISABLED {
		seeker = paxos.NewSeeker(engine, conf)
		go seeker.Run()
	}

	// The forced crash of the failure profile is a host behavior; the
	// consensus engine never knows it is coming.
	if profile.CRASH_AFTER_MS > 0 {
		time.AfterFunc(time.Duration(profile.CRASH_AFTER_MS)*time.Millisecond, func() {
			log.Printf("[HOST] -> failure profile crashing member %s now.", memberID)
			os.Exit(1)
		})
	}

	log.Printf("[HOST] -> member %s serving with profile '%s' on port %d.", memberID, flagProfile, self.Port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Printf("[HOST] -> member %s shutting down.", memberID)
	if seeker != nil {
		seeker.Stop()
	}
	listener.Stop()
	return nil
}
