package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ecosort/internal/classify"
	"ecosort/internal/ledger"
	"ecosort/internal/store"
	"ecosort/internal/types"
)

var (
	createCategory    string
	createDescription string
	createQuantity    string
	createAnalyze     bool

	listMine     bool
	listPending  bool
	listAccepted bool
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Create and manage pickup requests",
}

var requestCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Submit a new pickup request",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closer, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		details := ledger.CreateDetails{
			Description: createDescription,
			Quantity:    createQuantity,
		}

		if createAnalyze || createCategory == "" {
			analysis := analyzeDescription(cmd.Context(), createDescription)
			details.AITips = analysis.SafetyTips
			if createCategory == "" {
				details.Category = analysis.Category
			}
		}
		if createCategory != "" {
			category, err := types.ParseCategory(createCategory)
			if err != nil {
				return err
			}
			details.Category = category
		}

		if err := s.CreateRequest(cmd.Context(), details); err != nil {
			return err
		}
		fmt.Printf("Created %s request for %q\n", details.Category, details.Description)
		return nil
	},
}

// analyzeDescription runs the classifier, soft-failing to the manual
// fallback so creation never blocks on the AI being reachable.
func analyzeDescription(ctx context.Context, description string) *classify.WasteAnalysis {
	analyzer, err := classify.NewAnalyzer(ctx, cfg.AI.APIKey, cfg.AI.Model, logger)
	if err != nil {
		return classify.Fallback()
	}

	aiCtx, cancel := context.WithTimeout(ctx, cfg.GetAITimeout())
	defer cancel()
	analysis, err := analyzer.Analyze(aiCtx, description)
	if err != nil {
		return classify.Fallback()
	}
	return analysis
}

var requestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pickup requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closer, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		var requests []types.Request
		switch {
		case listMine:
			ident := s.Identity()
			if ident == nil {
				return types.ErrNoIdentity
			}
			if ident.Role == types.RoleCollector {
				requests = s.RequestsByCollector(ident.ID)
			} else {
				requests = s.RequestsByRequester(ident.ID)
			}
		case listPending:
			requests = s.RequestsWithStatus(types.StatusPending)
		case listAccepted:
			requests = s.RequestsWithStatus(types.StatusAccepted)
		default:
			requests = s.Requests()
		}

		if len(requests) == 0 {
			fmt.Println("No requests")
			return nil
		}
		printRequests(requests)
		return nil
	},
}

func printRequests(requests []types.Request) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCATEGORY\tDESCRIPTION\tQTY\tREQUESTER\tCOLLECTOR")
	for _, r := range requests {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(r.ID), r.Status, r.Category, r.Description, r.Quantity,
			r.RequesterName, r.CollectorID)
	}
	w.Flush()
}

var requestAcceptCmd = &cobra.Command{
	Use:   "accept <id>",
	Short: "Accept a pending request as the current collector",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCollector(cmd, func(s *store.Store, collectorID, reqID string) error {
			if err := s.AssignCollector(cmd.Context(), reqID, collectorID); err != nil {
				return err
			}
			fmt.Println("Accepted")
			return nil
		}, args[0])
	},
}

var requestCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Mark an accepted request as completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCollector(cmd, func(s *store.Store, collectorID, reqID string) error {
			if err := s.SetStatus(cmd.Context(), reqID, types.StatusCompleted); err != nil {
				return err
			}
			fmt.Println("Completed")
			return nil
		}, args[0])
	},
}

var requestRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending or accepted request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCollector(cmd, func(s *store.Store, collectorID, reqID string) error {
			if err := s.SetStatus(cmd.Context(), reqID, types.StatusRejected); err != nil {
				return err
			}
			fmt.Println("Rejected")
			return nil
		}, args[0])
	},
}

// withCollector opens the store and hands the callback the signed-in
// collector's id, resolving short id prefixes against the mirror.
func withCollector(cmd *cobra.Command, fn func(s *store.Store, collectorID, reqID string) error, idArg string) error {
	s, closer, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closer()

	ident := s.Identity()
	if ident == nil {
		return types.ErrNoIdentity
	}
	if ident.Role != types.RoleCollector {
		return fmt.Errorf("only collectors can do this, current role is %s", ident.Role)
	}

	reqID, err := resolveID(s, idArg)
	if err != nil {
		return err
	}
	return fn(s, ident.ID, reqID)
}

// resolveID expands a unique id prefix into a full request id.
func resolveID(s *store.Store, prefix string) (string, error) {
	var match string
	for _, r := range s.Requests() {
		if r.ID == prefix {
			return r.ID, nil
		}
		if len(prefix) >= 4 && len(r.ID) >= len(prefix) && r.ID[:len(prefix)] == prefix {
			if match != "" {
				return "", fmt.Errorf("id prefix %q is ambiguous", prefix)
			}
			match = r.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no request matches %q", prefix)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <description>",
	Short: "Classify a waste description without creating a request",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description := args[0]
		analysis := analyzeDescription(cmd.Context(), description)
		fmt.Printf("Category:   %s\nConfidence: %.2f\nSafety:     %s\nWeight:     %s\n",
			analysis.Category, analysis.Confidence, analysis.SafetyTips, analysis.WeightGuess)
		return nil
	},
}

func init() {
	requestCreateCmd.Flags().StringVar(&createCategory, "category", "", "DRY, WET, or E_WASTE (omit to let the analyzer pick)")
	requestCreateCmd.Flags().StringVar(&createDescription, "description", "", "what the waste is")
	requestCreateCmd.Flags().StringVar(&createQuantity, "quantity", "", "e.g. \"2 bags\", \"5 kg\"")
	requestCreateCmd.Flags().BoolVar(&createAnalyze, "analyze", false, "attach AI safety tips to the request")
	_ = requestCreateCmd.MarkFlagRequired("description")
	_ = requestCreateCmd.MarkFlagRequired("quantity")

	requestListCmd.Flags().BoolVar(&listMine, "mine", false, "only requests I created or collect")
	requestListCmd.Flags().BoolVar(&listPending, "pending", false, "only pending requests")
	requestListCmd.Flags().BoolVar(&listAccepted, "accepted", false, "only accepted requests")

	requestCmd.AddCommand(requestCreateCmd, requestListCmd, requestAcceptCmd, requestCompleteCmd, requestRejectCmd)
	rootCmd.AddCommand(requestCmd, analyzeCmd)
}
