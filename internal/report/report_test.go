package report

import (
	"context"
	"strings"
	"testing"

	xerrors "OrchestratorSiphon/internal/errors"
	"OrchestratorSiphon/internal/observability/alerting"
	"OrchestratorSiphon/internal/siphon"
)

type staticSource siphon.Snapshot

func (s staticSource) Snapshot() siphon.Snapshot { return siphon.Snapshot(s) }

type captureDispatcher struct{ events []alerting.Event }

func (c *captureDispatcher) Notify(_ context.Context, event alerting.Event) error {
	c.events = append(c.events, event)
	return nil
}

func sample() siphon.Snapshot {
	return siphon.Snapshot{
		Ticks: 12,
		Round: siphon.RoundSnapshot{Round: 3600, Locked: true, Fetched: true},
		Accounts: []siphon.AccountSnapshot{{
			Name:          "orch",
			Address:       "0x1111111111111111111111111111111111111111",
			CallReward:    true,
			PendingStake:  siphon.AmountView{Amount: "42.5", Fetched: true},
			WalletBalance: siphon.AmountView{Amount: "0.1", Fetched: true, Stale: true},
		}},
	}
}

func TestRender(t *testing.T) {
	text := Render(sample())
	for _, want := range []string{"3600 (已锁定)", "42.5 LPT", "手续费: 未知", "0.1 (过期)", "最近领取奖励轮次: 未知"} {
		if !strings.Contains(text, want) {
			t.Fatalf("summary missing %q:\n%s", want, text)
		}
	}
}

func TestSendDispatchesSummary(t *testing.T) {
	dispatcher := &captureDispatcher{}
	r, err := New("@daily", staticSource(sample()), dispatcher)
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	if r.Next().IsZero() {
		t.Fatal("next run should be scheduled")
	}
	if err := r.Send(context.Background()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(dispatcher.events) != 1 || dispatcher.events[0].Kind != alerting.KindSummary {
		t.Fatalf("unexpected events %+v", dispatcher.events)
	}
	if dispatcher.events[0].Metadata["round"] != "3600" {
		t.Fatalf("unexpected metadata %v", dispatcher.events[0].Metadata)
	}
}

func TestInvalidCronExpressionIsConfigFailure(t *testing.T) {
	if _, err := New("every day", staticSource(sample()), nil); !xerrors.Is(err, xerrors.CodeConfigFailure) {
		t.Fatalf("expected config failure, got %v", err)
	}
}
