package session

import (
	"context"
	"fmt"

	"trendbot/internal/engine"
	"trendbot/internal/md"
	"trendbot/internal/paper"
	"trendbot/internal/risk"
)

func (s *Session) runBacktest(ctx context.Context, decisions *engine.DecisionLogger) Result {
	res := Result{RunID: decisions.RunID()}

	series, err := s.source.Bars(ctx, s.cfg.Symbols, s.cfg.Start, s.cfg.End)
	if err != nil {
		return failed(res.RunID, fmt.Errorf("load bars: %w", err))
	}
	steps, err := md.Merge(series)
	if err != nil {
		return failed(res.RunID, fmt.Errorf("load bars: %w", err))
	}

	pb := paper.New(s.cfg.StartingCash, s.cfg.SlippagePct)
	eng := engine.New(s.cfg, s.strategy, risk.Gate{}, pb, s.store, decisions, &s.stop)
	if err := eng.Sync(ctx); err != nil {
		return failed(res.RunID, err)
	}

	res.Status = StatusCompleted
	for _, step := range steps {
		if ctx.Err() != nil {
			res.Status = StatusStopped
			break
		}
		// fills for orders placed on the previous step
		pb.Process(step.Bars)
		if err := eng.Sync(ctx); err != nil {
			return failed(res.RunID, err)
		}
		if s.stop.IsSet() && eng.Flat() {
			res.Status = StatusStopped
			break
		}
		for _, bar := range step.Bars {
			eng.OnBar(ctx, bar)
			res.Bars++
		}
	}

	acct, err := pb.Account(ctx)
	if err != nil {
		return failed(res.RunID, err)
	}
	res.FinalEquity = acct.PortfolioValue
	res.Orders = eng.Submitted()
	res.Fills = len(pb.Fills())
	return res
}
