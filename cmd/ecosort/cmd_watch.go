package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ecosort/internal/types"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live changes to the request collection",
	Long: `Watch subscribes to the store facade and reprints the request
summary whenever the mirror reconciles with a remote change. Stop with
Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, closer, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closer()

		if s.Identity() == nil {
			return types.ErrNoIdentity
		}

		sub := s.Subscribe()
		defer s.Unsubscribe(sub)

		printSummary(s.Requests())

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case _, ok := <-sub.C:
					if !ok {
						return nil
					}
					printSummary(s.Requests())
				}
			}
		})
		return g.Wait()
	},
}

func printSummary(requests []types.Request) {
	counts := make(map[types.RequestStatus]int)
	for _, r := range requests {
		counts[r.Status]++
	}
	fmt.Printf("%d requests (%d pending, %d accepted, %d completed, %d rejected)\n",
		len(requests),
		counts[types.StatusPending], counts[types.StatusAccepted],
		counts[types.StatusCompleted], counts[types.StatusRejected])
	printRequests(requests)
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
