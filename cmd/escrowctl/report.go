package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"p2p-escrow-mediator/internal/common"
	"p2p-escrow-mediator/internal/models"
	"p2p-escrow-mediator/internal/notify"
	"p2p-escrow-mediator/internal/scheduler"
	"p2p-escrow-mediator/internal/settings"

	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
)

const timeLayout = "2006-01-02 15:04:05"

func runStatus(ctx context.Context, env *environment, args []string) error {
	var escrowId string
	if err := parse("status", args, func(fs *flag.FlagSet) {
		fs.StringVar(&escrowId, "escrow", "", "Escrow id")
	}, "escrow"); err != nil {
		return err
	}

	e, err := env.services.Escrow.GetStatus(ctx, escrowId)
	if err != nil {
		return err
	}

	common.PrintHeader(fmt.Sprintf("ESCROW %s", e.Id), common.DefaultWidth)
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Status", e.Status.String())
	table.Append("Buyer", e.BuyerId)
	table.Append("Seller", common.Or(e.SellerId, "-"))
	table.Append("Asset", common.Or(string(e.Asset), "-"))
	table.Append("Gross", common.FormatAmount(e.Amount, e.Asset))
	table.Append("Fee", common.FormatAmount(e.Fee, e.Asset))
	table.Append("Net", common.FormatAmount(e.NetAmount, e.Asset))
	table.Append("Funded", common.Check(e.Funded))
	table.Append("Buyer confirmed", common.Check(e.BuyerConfirmed))
	table.Append("Seller confirmed", common.Check(e.SellerConfirmed))
	table.Append("Disputed by", common.Or(e.DisputedBy, "-"))
	table.Append("Resolved by", common.Or(e.ResolvedBy, "-"))
	table.Append("Updated", e.UpdatedAt.Local().Format(timeLayout))
	table.Render()

	txs, err := env.services.Escrow.GetTransactions(ctx, e.Id)
	if err != nil {
		return err
	}
	if len(txs) > 0 {
		fmt.Println("\nDeposits:")
		txTable := tablewriter.NewWriter(os.Stdout)
		txTable.Header("Tx hash", "Address", "Amount", "Confs", "Detected")
		for _, tx := range txs {
			txTable.Append(
				tx.TxHash,
				tx.Address,
				common.FormatAmount(tx.Amount, tx.Asset),
				fmt.Sprintf("%d", tx.Confirmations),
				tx.DetectedAt.Local().Format(timeLayout),
			)
		}
		txTable.Render()
	}

	if e.Funded {
		balance, err := env.services.Journal.EscrowBalance(ctx, e)
		if err != nil {
			zap.L().Warn("Failed to read ledger balance", zap.String("escrow_id", e.Id), zap.Error(err))
		} else {
			fmt.Printf("\nLedger balance held: %s\n", common.FormatAmount(balance, e.Asset))
		}
	}

	common.PrintFooter("", common.DefaultWidth)
	return nil
}

func runList(ctx context.Context, env *environment, args []string) error {
	var user, status string
	if err := parse("list", args, func(fs *flag.FlagSet) {
		fs.StringVar(&user, "user", "", "List escrows where this identity is buyer or seller")
		fs.StringVar(&status, "status", "", "List escrows in this status")
	}); err != nil {
		return err
	}

	var escrows []models.Escrow
	var err error
	switch {
	case user != "":
		escrows, err = env.services.Escrow.ListEscrows(ctx, user)
	case status != "":
		escrows, err = env.services.Escrow.ListByStatus(ctx, models.Status(status))
	default:
		return fmt.Errorf("one of -user or -status is required")
	}
	if err != nil {
		return err
	}

	if len(escrows) == 0 {
		fmt.Println("No escrows found")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Id", "Status", "Buyer", "Seller", "Amount", "B", "S", "Created")
	for _, e := range escrows {
		table.Append(
			e.Id,
			e.Status.String(),
			e.BuyerId,
			common.Or(e.SellerId, "-"),
			common.FormatAmount(e.Amount, e.Asset),
			common.Check(e.BuyerConfirmed),
			common.Check(e.SellerConfirmed),
			e.CreatedAt.Local().Format(timeLayout),
		)
	}
	table.Render()
	fmt.Printf("%d escrows\n", len(escrows))
	return nil
}

func runWallets(ctx context.Context, env *environment, args []string) error {
	var user string
	if err := parse("wallets", args, func(fs *flag.FlagSet) {
		fs.StringVar(&user, "user", "", "Wallet owner")
	}, "user"); err != nil {
		return err
	}

	wallets, err := env.services.Escrow.GetUserWallets(ctx, user)
	if err != nil {
		return err
	}
	if len(wallets) == 0 {
		fmt.Printf("%s has no registered wallets\n", user)
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Asset", "Address", "Registered")
	for _, w := range wallets {
		table.Append(string(w.Asset), w.Address, w.CreatedAt.Local().Format(timeLayout))
	}
	table.Render()
	return nil
}

func runSetting(ctx context.Context, env *environment, args []string) error {
	var key, value string
	if err := parse("setting", args, func(fs *flag.FlagSet) {
		fs.StringVar(&key, "key", "", "Setting key, e.g. fee_percent or min_fee.BTC")
		fs.StringVar(&value, "value", "", "New value; omit to read")
	}, "key"); err != nil {
		return err
	}

	if value == "" {
		current, ok, err := env.services.Store.GetSetting(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			current = "(default)"
		}
		fmt.Printf("%s = %s\n", key, current)
		return nil
	}

	if err := settings.Validate(key, value); err != nil {
		return err
	}
	if err := env.services.Store.SetSetting(ctx, key, value); err != nil {
		return err
	}
	zap.L().Info("Setting updated", zap.String("key", key), zap.String("value", value))
	fmt.Printf("%s = %s\n", key, value)
	return nil
}

func runSettings(ctx context.Context, env *environment, _ []string) error {
	rows, err := env.services.Store.ListSettings(ctx)
	if err != nil {
		return err
	}

	feePercent, err := env.services.Settings.FeePercent(ctx)
	if err != nil {
		return err
	}

	common.PrintHeader("SETTINGS", common.DefaultWidth)
	fmt.Printf("Effective fee: %s%%\n\n", feePercent.String())

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Asset", "Min fee", "Confirmations")
	for _, asset := range models.SupportedAssets {
		minFee, err := env.services.Settings.MinFee(ctx, asset)
		if err != nil {
			return err
		}
		confs, err := env.services.Settings.RequiredConfirmations(ctx, asset)
		if err != nil {
			return err
		}
		table.Append(string(asset), minFee.String(), fmt.Sprintf("%d", confs))
	}
	table.Render()

	if len(rows) > 0 {
		fmt.Println("\nStored overrides:")
		stored := tablewriter.NewWriter(os.Stdout)
		stored.Header("Key", "Value", "Updated")
		for _, row := range rows {
			stored.Append(row.Key, row.Value, row.UpdatedAt.Local().Format(timeLayout))
		}
		stored.Render()
	}
	common.PrintFooter("", common.DefaultWidth)
	return nil
}

func runPoll(ctx context.Context, env *environment, _ []string) error {
	poller := scheduler.NewPollScheduler(scheduler.PollSchedulerConfig{
		Escrows:    env.services.Store,
		Reconciler: env.services.Reconciler,
		Locker:     env.services.Locker,
		Workers:    env.cfg.Scheduler.Workers,
		LockTTL:    env.cfg.Scheduler.LockTTL,
	})

	stats, err := poller.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Checked %d, funded %d, failed %d in %s\n",
		stats.Pending, stats.Funded, stats.Failed, stats.Duration.Round(time.Millisecond))
	return nil
}

func runWatch(ctx context.Context, env *environment, _ []string) error {
	if env.services.Redis == nil {
		return fmt.Errorf("REDIS_URL is not configured")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := notify.Subscribe(ctx, env.services.Redis, env.cfg.Redis.EventsChannel, func(event notify.Event) {
		at, _ := event.Payload["at"].(string)
		fmt.Printf("%s  %-10s %s\n", at, event.Type, event.EscrowId())
	})
	if err != nil {
		return err
	}

	fmt.Println("Watching escrow events, Ctrl+C to stop")
	<-ctx.Done()
	return nil
}
