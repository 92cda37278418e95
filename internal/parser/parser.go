// Package parser normalizes the raw result protocol terminal agents emit
// into canonical events. It is pure: no I/O, no side effects, and no input
// may make it panic -- malformed lines come back as a typed ParseError
// carrying the original text for audit.
//
// Two wire forms exist. Older agents emit tag-delimited lines:
//
//	TRADE_OPENED|ticket:12345|symbol:EURUSD|type:buy|volume:0.01|price:1.08450
//
// Newer agents emit one JSON object per line with a "type" field. Unknown
// keys are ignored in both forms for forward compatibility; missing required
// keys for the detected type fail closed.
package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// ParseError reports a line the parser could not normalize. Raw always holds
// the offending input.
type ParseError struct {
	Raw    string
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parser: %s (line: %q)", e.Reason, e.Raw)
}

func failf(raw, format string, args ...any) *ParseError {
	return &ParseError{Raw: raw, Reason: fmt.Sprintf(format, args...)}
}

// Parse normalizes one raw line. The second return is a *ParseError rather
// than a plain error so callers can reach the raw payload for audit.
func Parse(raw string) (domain.ResultEvent, *ParseError) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return domain.ResultEvent{}, failf(raw, "empty line")
	}

	if strings.HasPrefix(line, "{") {
		return parseJSON(raw, line)
	}
	return parseTagged(raw, line)
}

// ---------------------------------------------------------------------------
// Tag-delimited form
// ---------------------------------------------------------------------------

// fields holds the key:value pairs of one tagged line. Lookups record which
// keys were consulted so required-field errors can name the missing key.
type fields map[string]string

func (f fields) str(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}

func (f fields) float(raw, key string) (float64, bool, *ParseError) {
	v, ok := f[key]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false, failf(raw, "field %s: invalid number %q", key, v)
	}
	return n, true, nil
}

func (f fields) requireFloat(raw, key string) (float64, *ParseError) {
	n, ok, perr := f.float(raw, key)
	if perr != nil {
		return 0, perr
	}
	if !ok {
		return 0, failf(raw, "missing required field %s", key)
	}
	return n, nil
}

func parseTagged(raw, line string) (domain.ResultEvent, *ParseError) {
	parts := strings.Split(line, "|")
	tag := strings.ToUpper(strings.TrimSpace(parts[0]))
	if tag == "" {
		return domain.ResultEvent{}, failf(raw, "missing type tag")
	}

	f := make(fields, len(parts)-1)
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			// Tolerate bare tokens instead of failing the whole line.
			continue
		}
		f[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	kind, ok := tagToKind(tag)
	if !ok {
		return domain.ResultEvent{}, failf(raw, "unknown type tag %q", tag)
	}
	return assemble(raw, kind, f)
}

func tagToKind(tag string) (domain.EventKind, bool) {
	switch tag {
	case "TRADE_OPENED":
		return domain.EventOpened, true
	case "ORDER_PLACED":
		return domain.EventOrderPlaced, true
	case "TRADE_CLOSED":
		return domain.EventClosed, true
	case "TRADE_MODIFIED", "POSITION_MODIFIED":
		return domain.EventModified, true
	case "ERROR":
		return domain.EventError, true
	case "ACCOUNT_UPDATE":
		return domain.EventAccountUpdate, true
	}
	return "", false
}

// ---------------------------------------------------------------------------
// JSON form
// ---------------------------------------------------------------------------

func parseJSON(raw, line string) (domain.ResultEvent, *ParseError) {
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return domain.ResultEvent{}, failf(raw, "invalid JSON: %v", err)
	}

	typ, _ := m["type"].(string)
	if typ == "" {
		return domain.ResultEvent{}, failf(raw, "missing JSON type field")
	}
	kind, ok := tagToKind(strings.ToUpper(typ))
	if !ok {
		return domain.ResultEvent{}, failf(raw, "unknown type %q", typ)
	}

	// Flatten to the same field map the tagged form uses so both wire forms
	// share one assembly path.
	f := make(fields, len(m))
	for k, v := range m {
		if k == "type" {
			continue
		}
		switch val := v.(type) {
		case string:
			f[strings.ToLower(k)] = val
		case float64:
			f[strings.ToLower(k)] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			f[strings.ToLower(k)] = strconv.FormatBool(val)
		}
		// Nested objects/arrays are unknown extensions: ignored.
	}
	return assemble(raw, kind, f)
}

// ---------------------------------------------------------------------------
// Assembly
// ---------------------------------------------------------------------------

func assemble(raw string, kind domain.EventKind, f fields) (domain.ResultEvent, *ParseError) {
	ev := domain.ResultEvent{Kind: kind, Raw: raw}
	ev.Ticket, _ = f.str("ticket")
	if tag, ok := f.str("client_tag"); ok {
		ev.CorrelationID = tag
	}
	if acct, ok := f.str("account"); ok {
		ev.AccountID = acct
	}

	// Account updates are the only variant without a ticket; everything else
	// is meaningless without one.
	if ev.Ticket == "" && kind != domain.EventAccountUpdate {
		return domain.ResultEvent{}, failf(raw, "missing required field ticket")
	}

	switch kind {
	case domain.EventOpened, domain.EventOrderPlaced:
		return assembleOpen(raw, ev, f)
	case domain.EventClosed:
		return assembleClosed(raw, ev, f)
	case domain.EventModified:
		return assembleModified(raw, ev, f)
	case domain.EventError:
		return assembleError(raw, ev, f)
	case domain.EventAccountUpdate:
		return assembleAccount(raw, ev, f)
	}
	return domain.ResultEvent{}, failf(raw, "unhandled kind %q", kind)
}

func sideFrom(raw string, f fields) (domain.OrderSide, *ParseError) {
	v, ok := f.str("type")
	if !ok {
		v, ok = f.str("side")
	}
	if !ok {
		return "", failf(raw, "missing required field type")
	}
	switch strings.ToLower(v) {
	case "buy", "0":
		return domain.SideBuy, nil
	case "sell", "1":
		return domain.SideSell, nil
	}
	return "", failf(raw, "unknown side %q", v)
}

func assembleOpen(raw string, ev domain.ResultEvent, f fields) (domain.ResultEvent, *ParseError) {
	symbol, ok := f.str("symbol")
	if !ok || symbol == "" {
		return domain.ResultEvent{}, failf(raw, "missing required field symbol")
	}
	side, perr := sideFrom(raw, f)
	if perr != nil {
		return domain.ResultEvent{}, perr
	}
	volume, perr := f.requireFloat(raw, "volume")
	if perr != nil {
		return domain.ResultEvent{}, perr
	}
	price, perr := f.requireFloat(raw, "price")
	if perr != nil {
		return domain.ResultEvent{}, perr
	}
	sl, _, perr := f.float(raw, "sl")
	if perr != nil {
		return domain.ResultEvent{}, perr
	}
	tp, _, perr := f.float(raw, "tp")
	if perr != nil {
		return domain.ResultEvent{}, perr
	}

	if ev.Kind == domain.EventOrderPlaced {
		ev.Placed = &domain.PlacedEvent{
			Symbol: symbol, Side: side, Volume: volume,
			Price: price, StopLoss: sl, TakeProfit: tp,
		}
		return ev, nil
	}
	ev.Opened = &domain.OpenedEvent{
		Symbol: symbol, Side: side, Volume: volume,
		Price: price, StopLoss: sl, TakeProfit: tp,
		OpenedAt: timeFrom(f),
	}
	return ev, nil
}

func assembleClosed(raw string, ev domain.ResultEvent, f fields) (domain.ResultEvent, *ParseError) {
	closePrice, perr := f.requireFloat(raw, "close_price")
	if perr != nil {
		return domain.ResultEvent{}, perr
	}
	profit, perr := f.requireFloat(raw, "profit")
	if perr != nil {
		return domain.ResultEvent{}, perr
	}
	swap, _, perr := f.float(raw, "swap")
	if perr != nil {
		return domain.ResultEvent{}, perr
	}
	commission, _, perr := f.float(raw, "commission")
	if perr != nil {
		return domain.ResultEvent{}, perr
	}

	ev.Closed = &domain.ClosedEvent{
		ClosePrice: closePrice, Profit: profit,
		Swap: swap, Commission: commission,
		ClosedAt: timeFrom(f),
	}
	return ev, nil
}

func assembleModified(raw string, ev domain.ResultEvent, f fields) (domain.ResultEvent, *ParseError) {
	sl, hasSL, perr := f.float(raw, "sl")
	if perr != nil {
		return domain.ResultEvent{}, perr
	}
	tp, hasTP, perr := f.float(raw, "tp")
	if perr != nil {
		return domain.ResultEvent{}, perr
	}
	if !hasSL && !hasTP {
		return domain.ResultEvent{}, failf(raw, "modification without sl or tp")
	}

	ev.Modified = &domain.ModifiedEvent{StopLoss: sl, TakeProfit: tp}
	return ev, nil
}

func assembleError(raw string, ev domain.ResultEvent, f fields) (domain.ResultEvent, *ParseError) {
	codeStr, ok := f.str("code")
	if !ok {
		return domain.ResultEvent{}, failf(raw, "missing required field code")
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return domain.ResultEvent{}, failf(raw, "field code: invalid number %q", codeStr)
	}
	message, _ := f.str("message")
	context, _ := f.str("context")

	ev.Err = &domain.ErrorEvent{
		Code:    code,
		Kind:    mapErrorCode(code),
		Message: message,
		Context: context,
	}
	return ev, nil
}

func assembleAccount(raw string, ev domain.ResultEvent, f fields) (domain.ResultEvent, *ParseError) {
	balance, perr := f.requireFloat(raw, "balance")
	if perr != nil {
		return domain.ResultEvent{}, perr
	}
	equity, perr := f.requireFloat(raw, "equity")
	if perr != nil {
		return domain.ResultEvent{}, perr
	}
	margin, _, perr := f.float(raw, "margin")
	if perr != nil {
		return domain.ResultEvent{}, perr
	}

	ev.Account = &domain.AccountEvent{Balance: balance, Equity: equity, Margin: margin}
	return ev, nil
}

// timeFrom reads an optional millisecond timestamp field. A malformed
// timestamp is treated as absent rather than failing the line; the
// reconciler stamps its own time when the terminal's is unusable.
func timeFrom(f fields) time.Time {
	v, ok := f.str("time")
	if !ok {
		v, ok = f.str("timestamp")
	}
	if !ok {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
