package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/marcus/teer/internal/models"
	"github.com/marcus/teer/internal/output"
	"github.com/marcus/teer/internal/wager"
	"github.com/spf13/cobra"
)

var betCmd = &cobra.Command{
	Use:     "bet",
	Short:   "Place bets",
	GroupID: "betting",
}

var betPlaceCmd = &cobra.Command{
	Use:   "place",
	Short: "Place a bet, queueing it when offline",
	Long: `Place a bet on a number (00-99) for round 1 or 2.

Online, the bet goes straight to the server. Offline, or when the server cannot
be reached, it is queued and shown as pending until the next sync replays it.
Without flags on a terminal an interactive form is shown.`,
	Example: `  teer bet place --number 42 --amount 10 --round 1
  teer bet place`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := betRequestFromFlags(cmd)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if req == nil {
			if !output.IsTerminal() {
				err := errors.New("--number, --amount and --round are required")
				output.Error("%v", err)
				return err
			}
			req, err = runBetForm()
			if err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return nil
				}
				output.Error("%v", err)
				return err
			}
		}

		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{})
		if err != nil {
			output.Error("open store: %v", err)
			return err
		}
		defer a.Close()

		outcome, err := a.placer.PlaceBet(ctx, *req)
		if err != nil {
			output.Error("place bet: %v", err)
			return err
		}

		if jsonOut {
			return output.JSON(map[string]any{
				"bet":          outcome.Bet,
				"queued":       outcome.Queued,
				"operation_id": outcome.OperationID,
			})
		}
		if outcome.Queued {
			if outcome.Cause != nil {
				output.Warning("server unreachable (%v)", outcome.Cause)
			}
			output.Info("bet queued (%s); it will be sent on the next sync", shortID(outcome.OperationID))
		} else {
			output.Success("bet placed")
		}
		fmt.Println(output.FormatBetShort(outcome.Bet))
		return nil
	},
}

// betRequestFromFlags returns nil when no bet flags were given.
func betRequestFromFlags(cmd *cobra.Command) (*models.PlaceBetRequest, error) {
	flags := cmd.Flags()
	if !flags.Changed("number") && !flags.Changed("amount") && !flags.Changed("round") {
		return nil, nil
	}
	number, _ := flags.GetInt("number")
	amount, _ := flags.GetInt("amount")
	round, _ := flags.GetInt("round")

	req := &models.PlaceBetRequest{Number: number, Amount: amount, Round: models.Round(round)}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", wager.ErrInvalidBet, err)
	}
	return req, nil
}

// betForm holds the raw values edited by the interactive form.
type betForm struct {
	Number  string
	Amount  string
	Round   string
	Confirm bool
}

func (f betForm) request() (*models.PlaceBetRequest, error) {
	number, err := strconv.Atoi(strings.TrimSpace(f.Number))
	if err != nil {
		return nil, fmt.Errorf("number: %w", err)
	}
	amount, err := strconv.Atoi(strings.TrimSpace(f.Amount))
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	round, err := strconv.Atoi(f.Round)
	if err != nil {
		return nil, fmt.Errorf("round: %w", err)
	}
	req := &models.PlaceBetRequest{Number: number, Amount: amount, Round: models.Round(round)}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", wager.ErrInvalidBet, err)
	}
	return req, nil
}

func validateIntRange(min, max int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return errors.New("enter a whole number")
		}
		if n < min || (max >= 0 && n > max) {
			if max < 0 {
				return fmt.Errorf("must be at least %d", min)
			}
			return fmt.Errorf("must be between %d and %d", min, max)
		}
		return nil
	}
}

func runBetForm() (*models.PlaceBetRequest, error) {
	f := betForm{Round: "1", Confirm: true}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Number").
				Value(&f.Number).
				Placeholder("00-99").
				Validate(validateIntRange(models.MinBetNumber, models.MaxBetNumber)),
			huh.NewInput().
				Title("Amount").
				Value(&f.Amount).
				Placeholder(fmt.Sprintf("at least %d", models.MinBetAmount)).
				Validate(validateIntRange(models.MinBetAmount, -1)),
			huh.NewSelect[string]().
				Title("Round").
				Options(
					huh.NewOption("Round 1", "1"),
					huh.NewOption("Round 2", "2"),
				).
				Value(&f.Round),
			huh.NewConfirm().
				Title("Place this bet?").
				Value(&f.Confirm),
		).Title("New Bet"),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		return nil, err
	}
	if !f.Confirm {
		return nil, huh.ErrUserAborted
	}
	return f.request()
}

func init() {
	betPlaceCmd.Flags().IntP("number", "n", 0, "Number to bet on (0-99)")
	betPlaceCmd.Flags().IntP("amount", "a", 0, "Amount to stake")
	betPlaceCmd.Flags().IntP("round", "r", 1, "Round (1 or 2)")
	betCmd.AddCommand(betPlaceCmd)
	rootCmd.AddCommand(betCmd)
}
