package parser

import (
	"strings"
	"testing"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

func TestParse_TradeOpenedTagged(t *testing.T) {
	line := "TRADE_OPENED|ticket:98765|client_tag:C1|account:acct-9|symbol:EURUSD|type:buy|volume:0.01|price:1.08450|sl:1.08000|tp:1.09000|time:1717000000000"

	ev, perr := Parse(line)
	if perr != nil {
		t.Fatalf("Parse failed: %v", perr)
	}
	if ev.Kind != domain.EventOpened {
		t.Fatalf("kind = %s, want opened", ev.Kind)
	}
	if ev.Ticket != "98765" || ev.CorrelationID != "C1" || ev.AccountID != "acct-9" {
		t.Errorf("identity fields = %q/%q/%q", ev.Ticket, ev.CorrelationID, ev.AccountID)
	}
	o := ev.Opened
	if o == nil {
		t.Fatal("Opened payload nil")
	}
	if o.Symbol != "EURUSD" || o.Side != domain.SideBuy || o.Volume != 0.01 || o.Price != 1.08450 {
		t.Errorf("payload = %+v", o)
	}
	if o.StopLoss != 1.08 || o.TakeProfit != 1.09 {
		t.Errorf("sl/tp = %v/%v", o.StopLoss, o.TakeProfit)
	}
	if o.OpenedAt.IsZero() {
		t.Error("timestamp not parsed")
	}
	if ev.Raw != line {
		t.Error("raw line not preserved")
	}
}

func TestParse_TradeClosedTagged(t *testing.T) {
	ev, perr := Parse("TRADE_CLOSED|ticket:98765|close_price:1.08550|profit:10.00|swap:-0.12|commission:-0.30")
	if perr != nil {
		t.Fatalf("Parse failed: %v", perr)
	}
	if ev.Kind != domain.EventClosed || ev.Closed == nil {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Closed.ClosePrice != 1.08550 || ev.Closed.Profit != 10.00 {
		t.Errorf("closed payload = %+v", ev.Closed)
	}
	if ev.Closed.Swap != -0.12 || ev.Closed.Commission != -0.30 {
		t.Errorf("swap/commission = %v/%v", ev.Closed.Swap, ev.Closed.Commission)
	}
}

func TestParse_JSONForm(t *testing.T) {
	line := `{"type":"trade_opened","ticket":"555","client_tag":"C9","symbol":"GBPUSD","side":"sell","volume":0.5,"price":1.2701}`

	ev, perr := Parse(line)
	if perr != nil {
		t.Fatalf("Parse failed: %v", perr)
	}
	if ev.Kind != domain.EventOpened || ev.Ticket != "555" || ev.CorrelationID != "C9" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Opened == nil || ev.Opened.Side != domain.SideSell || ev.Opened.Volume != 0.5 {
		t.Errorf("payload = %+v", ev.Opened)
	}
}

func TestParse_JSONUnknownFieldsIgnored(t *testing.T) {
	line := `{"type":"trade_closed","ticket":"1","close_price":1.1,"profit":-3.5,"fancy_new_field":{"a":1},"spread_pips":2}`

	ev, perr := Parse(line)
	if perr != nil {
		t.Fatalf("Parse failed: %v", perr)
	}
	if ev.Closed == nil || ev.Closed.Profit != -3.5 {
		t.Errorf("payload = %+v", ev.Closed)
	}
}

func TestParse_TaggedUnknownFieldsIgnored(t *testing.T) {
	ev, perr := Parse("TRADE_CLOSED|ticket:1|close_price:1.1|profit:2.0|magic:31337|comment:hedge")
	if perr != nil {
		t.Fatalf("Parse failed: %v", perr)
	}
	if ev.Closed == nil || ev.Closed.Profit != 2.0 {
		t.Errorf("payload = %+v", ev.Closed)
	}
}

func TestParse_ErrorEventWithKnownCode(t *testing.T) {
	ev, perr := Parse("ERROR|ticket:7|code:134|message:not enough money|context:open")
	if perr != nil {
		t.Fatalf("Parse failed: %v", perr)
	}
	if ev.Kind != domain.EventError || ev.Err == nil {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Err.Code != 134 || ev.Err.Kind != domain.ErrKindInsufficientMargin {
		t.Errorf("error payload = %+v", ev.Err)
	}
}

func TestParse_ErrorEventWithUnmappedCode(t *testing.T) {
	ev, perr := Parse("ERROR|ticket:7|code:9999|message:strange")
	if perr != nil {
		t.Fatalf("Parse failed: %v", perr)
	}
	if ev.Err.Kind != domain.ErrKindUnknownTerminal {
		t.Errorf("kind = %s, want unknown_terminal_error", ev.Err.Kind)
	}
	if ev.Err.Code != 9999 {
		t.Errorf("raw code %d not preserved", ev.Err.Code)
	}
}

func TestParse_AccountUpdate(t *testing.T) {
	ev, perr := Parse("ACCOUNT_UPDATE|account:acct-9|balance:10250.55|equity:10310.20|margin:512.00")
	if perr != nil {
		t.Fatalf("Parse failed: %v", perr)
	}
	if ev.Kind != domain.EventAccountUpdate || ev.Account == nil {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Account.Balance != 10250.55 || ev.Account.Equity != 10310.20 {
		t.Errorf("payload = %+v", ev.Account)
	}
	// Account updates legitimately carry no ticket.
	if ev.Ticket != "" {
		t.Errorf("ticket = %q", ev.Ticket)
	}
}

func TestParse_Modified(t *testing.T) {
	ev, perr := Parse("POSITION_MODIFIED|ticket:44|sl:1.0810|tp:1.0920")
	if perr != nil {
		t.Fatalf("Parse failed: %v", perr)
	}
	if ev.Kind != domain.EventModified || ev.Modified == nil {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Modified.StopLoss != 1.0810 {
		t.Errorf("payload = %+v", ev.Modified)
	}
}

func TestParse_FailClosed(t *testing.T) {
	cases := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"unknown tag", "TRADE_EXPLODED|ticket:1"},
		{"opened missing price", "TRADE_OPENED|ticket:1|symbol:EURUSD|type:buy|volume:0.01"},
		{"opened missing ticket", "TRADE_OPENED|symbol:EURUSD|type:buy|volume:0.01|price:1.1"},
		{"opened bad volume", "TRADE_OPENED|ticket:1|symbol:EURUSD|type:buy|volume:lots|price:1.1"},
		{"opened bad side", "TRADE_OPENED|ticket:1|symbol:EURUSD|type:sideways|volume:0.01|price:1.1"},
		{"closed missing profit", "TRADE_CLOSED|ticket:1|close_price:1.1"},
		{"error missing code", "ERROR|ticket:1|message:boom"},
		{"error bad code", "ERROR|ticket:1|code:abc"},
		{"modified with nothing", "TRADE_MODIFIED|ticket:1"},
		{"account missing equity", "ACCOUNT_UPDATE|balance:100"},
		{"json garbage", "{not json"},
		{"json missing type", `{"ticket":"1"}`},
		{"json unknown type", `{"type":"warp_drive","ticket":"1"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, perr := Parse(tc.line)
			if perr == nil {
				t.Fatalf("Parse(%q) succeeded, want ParseError", tc.line)
			}
			if perr.Raw != tc.line {
				t.Errorf("ParseError.Raw = %q, want original line", perr.Raw)
			}
			if perr.Reason == "" {
				t.Error("ParseError.Reason empty")
			}
		})
	}
}

// TestParse_Total fuzzes a pile of hostile inputs: nothing may panic, and
// every outcome is either a valid event or a ParseError echoing the input.
func TestParse_Total(t *testing.T) {
	inputs := []string{
		"|||||",
		"TRADE_OPENED",
		"TRADE_OPENED|",
		"ticket:1|TRADE_OPENED",
		strings.Repeat("A|", 10000),
		"{\"type\":\"trade_opened\"",
		"{}",
		"[1,2,3]",
		"\x00\x01\x02",
		"TRADE_CLOSED|ticket:1|close_price:NaN|profit:Inf",
		"TRADE_OPENED|ticket:1|symbol:EURUSD|type:buy|volume:1e309|price:1.1",
	}
	for _, in := range inputs {
		ev, perr := Parse(in)
		if perr == nil && ev.Kind == "" {
			t.Errorf("Parse(%q) returned neither event nor error", in)
		}
		if perr != nil && perr.Raw != in {
			t.Errorf("Parse(%q) lost the raw input", in)
		}
	}
}

func TestParse_SideNumericEncoding(t *testing.T) {
	ev, perr := Parse("TRADE_OPENED|ticket:1|symbol:EURUSD|type:0|volume:0.01|price:1.1")
	if perr != nil {
		t.Fatalf("Parse failed: %v", perr)
	}
	if ev.Opened.Side != domain.SideBuy {
		t.Errorf("side = %s, want buy (MT4 OP_BUY=0)", ev.Opened.Side)
	}

	ev, perr = Parse("TRADE_OPENED|ticket:1|symbol:EURUSD|type:1|volume:0.01|price:1.1")
	if perr != nil {
		t.Fatalf("Parse failed: %v", perr)
	}
	if ev.Opened.Side != domain.SideSell {
		t.Errorf("side = %s, want sell (MT4 OP_SELL=1)", ev.Opened.Side)
	}
}
