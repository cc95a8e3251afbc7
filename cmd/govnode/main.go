package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coopgov/core"
	"coopgov/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "govnode"}
	rootCmd.AddCommand(nodeCmd())
	rootCmd.AddCommand(trustbundleCmd())
	rootCmd.AddCommand(proposalCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "node"}
	run := &cobra.Command{
		Use:   "run",
		Short: "load configuration and start the federation listener",
		Run: func(cmd *cobra.Command, args []string) {
			env, _ := cmd.Flags().GetString("env")
			cfg, err := config.Load(env)
			if err != nil {
				fmt.Fprintf(os.Stderr, "load config: %v\n", err)
				os.Exit(1)
			}

			n, err := core.NewNode(core.FederationConfig{
				ListenAddr:     cfg.Federation.ListenAddr,
				BootstrapPeers: cfg.Federation.BootstrapPeers,
				DiscoveryTag:   cfg.Federation.DiscoveryTag,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "start node: %v\n", err)
				os.Exit(1)
			}
			defer n.Close()

			fmt.Printf("node %s listening, peer id %s\n", cfg.Node.DID, n.Host().ID())
			select {}
		},
	}
	run.Flags().String("env", "", "environment overlay to merge onto default.yaml")
	cmd.AddCommand(run)
	return cmd
}

func trustbundleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "trustbundle"}

	seal := &cobra.Command{
		Use:   "seal",
		Short: "assemble an unsigned trust bundle for the given epoch",
		Run: func(cmd *cobra.Command, args []string) {
			epoch, _ := cmd.Flags().GetUint64("epoch")
			guardianCIDStr, _ := cmd.Flags().GetString("guardian-cid")
			anchorCIDStr, _ := cmd.Flags().GetString("anchor-cid")

			guardianCID, err := core.ParseCID(guardianCIDStr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "parse guardian cid: %v\n", err)
				os.Exit(1)
			}
			anchorCID, err := core.ParseCID(anchorCIDStr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "parse anchor cid: %v\n", err)
				os.Exit(1)
			}

			bundle := core.AssembleBundle(epoch, guardianCID, anchorCID, core.ThresholdQuorum(0.66))
			fmt.Printf("assembled bundle for epoch %d: %+v\n", epoch, bundle)
		},
	}
	seal.Flags().Uint64("epoch", 0, "epoch number")
	seal.Flags().String("guardian-cid", "", "CID of the guardian set this bundle names")
	seal.Flags().String("anchor-cid", "", "CID of the DAG state this bundle anchors")
	cmd.AddCommand(seal)

	return cmd
}

func proposalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "proposal"}

	create := &cobra.Command{
		Use:   "create [title]",
		Short: "create a governance proposal on a local, in-memory kernel",
		Run: func(cmd *cobra.Command, args []string) {
			title := "untitled"
			if len(args) > 0 {
				title = args[0]
			}

			kp, err := core.GenerateKeyPair()
			if err != nil {
				fmt.Fprintf(os.Stderr, "generate keypair: %v\n", err)
				os.Exit(1)
			}
			did := core.DeriveDID(kp.Public, core.ScopeFederation)

			registry := core.NewIdentityRegistry()
			registry.Register(kp.Public, core.ScopeFederation)

			dag := core.NewDAGStore()
			log, _ := zap.NewProduction()
			kernel := core.NewGovernanceKernel(dag, registry, did, kp, log)

			p, err := kernel.CreateProposal(did, core.ScopeFederation, did, title, "", core.MajorityQuorum(), []core.DID{did})
			if err != nil {
				fmt.Fprintf(os.Stderr, "create proposal: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("created proposal %s (%s)\n", p.ID, p.Title)
		},
	}
	cmd.AddCommand(create)

	vote := &cobra.Command{
		Use:   "vote [id] [approve|reject]",
		Short: "placeholder command documenting the CastVote wire shape",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("vote casting requires a running node; connect to its federation listener")
			_ = time.Second
		},
	}
	cmd.AddCommand(vote)

	return cmd
}
