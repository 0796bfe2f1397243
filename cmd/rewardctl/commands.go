package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pulse-rewards/internal/allocation"
	"pulse-rewards/internal/claim"
	"pulse-rewards/internal/contribution"
	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/ledger"
	"pulse-rewards/internal/pool"
	"pulse-rewards/internal/replica"
	"pulse-rewards/internal/token"
)

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	need := func(n int, usage string) error {
		if len(args) != n {
			return fmt.Errorf("usage: rewardctl %s %s", cmd, usage)
		}
		return nil
	}

	switch cmd {
	case "pool":
		if err := need(1, "<poll-id>"); err != nil {
			return err
		}
		return a.cmdPool(ctx, args[0])
	case "fund":
		if err := need(2, "<poll-id> <amount>"); err != nil {
			return err
		}
		return a.cmdFund(ctx, args[0], args[1])
	case "configure":
		if err := need(3, "<poll-id> <total-fund> <reward-per-response>"); err != nil {
			return err
		}
		return a.cmdConfigure(ctx, args[0], args[1], args[2])
	case "claimable":
		return a.cmdClaimable(ctx)
	case "claim":
		if err := need(1, "<poll-id>"); err != nil {
			return err
		}
		return a.cmdClaim(ctx, args[0])
	case "quests":
		if err := need(1, "<campaign-id>"); err != nil {
			return err
		}
		return a.cmdQuests(ctx, args[0])
	case "points":
		if err := need(1, "<campaign-id>"); err != nil {
			return err
		}
		return a.cmdPoints(ctx, args[0])
	case "claim-quests":
		if err := need(1, "<campaign-id>"); err != nil {
			return err
		}
		return a.cmdClaimQuests(ctx, args[0])
	case "watch":
		return a.cmdWatch(ctx, args)
	case "unfinished":
		return a.cmdUnfinished(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printPool(res *replica.Result) {
	p := res.Pool
	rate := allocation.EffectiveRewardRate(p)

	fmt.Printf("Poll:                %s\n", p.PollID)
	fmt.Printf("Token:               %s (%s, %d decimals)\n", p.TokenSymbol, p.TokenType, p.TokenDecimals)
	fmt.Printf("Funding type:        %s\n", p.FundingType)
	fmt.Printf("Total fund:          %s\n", p.TotalFund)
	fmt.Printf("Remaining fund:      %s\n", p.RemainingFund)
	fmt.Printf("Reward per response: %s\n", p.RewardPerResponse)
	if p.MaxResponses != nil {
		fmt.Printf("Responses:           %d / %d\n", p.CurrentResponses, *p.MaxResponses)
	} else {
		fmt.Printf("Responses:           %d\n", p.CurrentResponses)
	}
	fmt.Printf("Fundable responses:  %d total, %d remaining\n", rate.FundableTotal, rate.FundableRemaining)
	fmt.Printf("Accepts responses:   %t\n", pool.CanFund(p))
	for _, c := range p.Contributors {
		fmt.Printf("  contributor %s: %s\n", c.Principal, c.Amount)
	}
	if res.Warning != nil {
		fmt.Printf("WARNING: %v\n", res.Warning)
	}
}

func (a *app) cmdPool(ctx context.Context, pollID string) error {
	res, err := a.refresher.Refresh(ctx, pollID)
	if err != nil {
		return err
	}
	printPool(res)
	return nil
}

func (a *app) cmdFund(ctx context.Context, pollID, amountText string) error {
	current, err := a.client.GetPool(ctx, pollID)
	if err != nil {
		return fmt.Errorf("get pool: %w", err)
	}
	amount, err := token.ParseAmount(amountText, current.TokenDecimals)
	if err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}

	out, err := a.contribution.Contribute(ctx, a.sess, pollID, amount)
	if out != nil {
		fmt.Printf("Attempt %s: %s after %d pull attempt(s)\n", out.AttemptID, out.State, out.Attempts)
		if out.Confirmation != "" {
			fmt.Println(out.Confirmation)
		}
		if out.Pool != nil {
			printPool(&replica.Result{Pool: out.Pool, Warning: out.Warning})
		}
		if out.RefreshErr != nil {
			fmt.Printf("WARNING: pool refresh failed: %v\n", out.RefreshErr)
		}
	}
	if err != nil {
		if contribution.ReasonOf(err) == contribution.ReasonFundingRejectedAfterRetries {
			fmt.Println("Tokens were approved but not pulled into the pool.")
		}
		return err
	}
	return nil
}

func (a *app) cmdConfigure(ctx context.Context, pollID, totalText, rewardText string) error {
	current, err := a.client.GetPool(ctx, pollID)
	if err != nil {
		return fmt.Errorf("get pool: %w", err)
	}
	total, err := token.ParseAmount(totalText, current.TokenDecimals)
	if err != nil {
		return fmt.Errorf("parse total fund: %w", err)
	}
	reward, err := token.ParseAmount(rewardText, current.TokenDecimals)
	if err != nil {
		return fmt.Errorf("parse reward per response: %w", err)
	}

	res, err := a.contribution.ConfigureFunding(ctx, a.sess, pollID, total, reward)
	if err != nil {
		return err
	}
	printPool(res)
	return nil
}

func printRewards(title string, rows []*domain.PendingReward) {
	fmt.Printf("%s (%d)\n", title, len(rows))
	for _, r := range rows {
		fmt.Printf("  %-24s %s %s\n", r.PollID, r.Amount, r.TokenSymbol)
	}
}

func (a *app) cmdClaimable(ctx context.Context) error {
	proj, err := a.claims.Refresh(ctx, a.sess)
	if err != nil {
		return err
	}
	printRewards("Claimable", proj.Claimable)
	printRewards("Pending", proj.Pending)
	return nil
}

func (a *app) cmdClaim(ctx context.Context, pollID string) error {
	conf, err := a.claims.Claim(ctx, a.sess, pollID)
	if err != nil {
		switch claim.KindOf(err) {
		case claim.KindAlreadyClaimed:
			fmt.Println("Reward already claimed; nothing to do.")
			return nil
		case claim.KindNotYetClaimable:
			fmt.Println("Claims for this poll are not open yet.")
		}
		return err
	}
	fmt.Println(conf.Message)
	return nil
}

func (a *app) cmdQuests(ctx context.Context, campaignID string) error {
	quests, err := a.quests.Sync(ctx, a.sess, campaignID)
	if err != nil {
		return err
	}
	for _, q := range quests {
		mark := " "
		if q.Completed {
			mark = "x"
		}
		fmt.Printf("[%s] %-32s %4d pts\n", mark, q.Name, q.Points)
	}
	return nil
}

func (a *app) cmdPoints(ctx context.Context, campaignID string) error {
	s, err := a.quests.Points(ctx, a.sess, campaignID)
	if err != nil {
		return err
	}
	fmt.Printf("Points:    %d / %d\n", s.UserPoints, s.TotalPoints)
	fmt.Printf("Share:     %s\n", token.FormatBps(s.ShareBps))
	fmt.Printf("Estimated: %s (estimate, changes until claimed)\n", s.EstimatedReward)
	if s.Inconsistent {
		fmt.Println("WARNING: campaign points are inconsistent; share shown as zero")
	}
	return nil
}

func (a *app) cmdClaimQuests(ctx context.Context, campaignID string) error {
	paid, err := a.quests.ClaimRewards(ctx, a.sess, campaignID)
	if err != nil {
		return err
	}
	fmt.Printf("Claimed %s\n", paid)
	return nil
}

func (a *app) cmdWatch(ctx context.Context, pollIDs []string) error {
	if a.cfg.LedgerWSEndpoint == "" {
		return fmt.Errorf("watch requires LEDGER_WS_ENDPOINT (or --ws-endpoint)")
	}
	wsConfig := ledger.DefaultWSConfig()
	wsConfig.Logger = a.log.With("component", "ws")
	ws, err := ledger.NewWSClient(ctx, a.cfg.LedgerWSEndpoint, &wsConfig)
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}
	defer ws.Close()

	w := claim.NewWatcher(ws, a.log.With("component", "watcher"))
	err = w.Run(ctx, pollIDs, func(ctx context.Context, ev domain.PoolEvent) error {
		fmt.Printf("Poll %s is now %s\n", ev.PollID, ev.Status)
		if _, err := a.refresher.Refresh(ctx, ev.PollID); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			a.log.Warn("pool refresh failed", "poll_id", ev.PollID, "error", err)
		}
		if !a.sess.Active() {
			return nil
		}
		rows, err := a.claims.ListClaimable(ctx, a.sess)
		if err != nil {
			return err
		}
		printRewards("Claimable", rows)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) cmdUnfinished(ctx context.Context) error {
	events, err := a.contribution.Resume(ctx)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No unfinished contributions.")
		return nil
	}
	for _, e := range events {
		fmt.Printf("%s  poll=%s  contributor=%s  amount=%s  last=%s\n",
			e.AttemptID, e.PollID, e.Contributor, e.Amount, strings.ToLower(string(e.State)))
	}
	return nil
}
