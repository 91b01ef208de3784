package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	exchange "github.com/AceTheNinja/bfx-challenge"
	"github.com/AceTheNinja/bfx-challenge/feed"
	"github.com/AceTheNinja/bfx-challenge/store"
	"github.com/AceTheNinja/bfx-challenge/transport/web"
)

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run an exchange node",
		RunE:  runNode,
	}

	cmd.Flags().String("listen", "127.0.0.1:0", "address to serve peer requests on")
	cmd.Flags().String("advertise", "", "address other peers dial (defaults to the bound listen address)")
	cmd.Flags().String("directory", "http://127.0.0.1:30001", "base URL of the peer directory")
	cmd.Flags().String("broadcast-key", "broadcast", "shared broadcast topic key")
	cmd.Flags().Duration("announce-interval", time.Second, "presence announcement period")
	cmd.Flags().Duration("request-timeout", 5*time.Second, "timeout for direct peer requests")
	cmd.Flags().Duration("drain-interval", 10*time.Second, "period of the pending-candidate drain pass")
	cmd.Flags().StringSlice("kafka-brokers", nil, "Kafka brokers for the fill feed (feed disabled when empty)")
	cmd.Flags().String("kafka-topic", "exchange.fills", "Kafka topic for the fill feed")
	cmd.Flags().String("snapshot-dir", "", "directory for the snapshot store (disabled when empty)")
	cmd.Flags().Duration("snapshot-interval", 2*time.Second, "period between persisted book snapshots")

	return cmd
}

func runNode(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	var publisher exchange.FillPublisher
	if brokers := viper.GetStringSlice("kafka-brokers"); len(brokers) > 0 {
		kafkaPublisher := feed.NewKafkaPublisher(brokers, viper.GetString("kafka-topic"))
		defer kafkaPublisher.Close()
		g.Go(func() error { return kafkaPublisher.Run(ctx) })
		publisher = kafkaPublisher
	}

	book := exchange.NewOrderBook(publisher)

	tr, err := web.New(web.Config{
		DirectoryURL:     viper.GetString("directory"),
		ListenAddress:    viper.GetString("listen"),
		AdvertiseAddress: viper.GetString("advertise"),
		RequestTimeout:   viper.GetDuration("request-timeout"),
	})
	if err != nil {
		return err
	}
	defer tr.Close()

	node, err := exchange.NewNode(exchange.Config{
		BroadcastKey:     viper.GetString("broadcast-key"),
		AnnounceInterval: viper.GetDuration("announce-interval"),
		RequestTimeout:   viper.GetDuration("request-timeout"),
		DrainInterval:    viper.GetDuration("drain-interval"),
	}, book, tr)
	if err != nil {
		return err
	}

	if dir := viper.GetString("snapshot-dir"); dir != "" {
		snapshots, err := store.Open(dir)
		if err != nil {
			return err
		}
		defer snapshots.Close()

		job := store.NewJob(snapshots, book.Snapshot, viper.GetDuration("snapshot-interval"))
		g.Go(func() error { return job.Run(ctx) })
	}

	cmd.Printf("node %s listening on %s\n", node.PeerID(), tr.Addr())

	g.Go(func() error { return node.Start(ctx) })

	err = g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
