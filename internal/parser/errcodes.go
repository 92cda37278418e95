package parser

import "github.com/kestrelfx/sigbridge/internal/domain"

// errCodeTable maps terminal-native numeric error codes (the MT4-era bridge
// codes the terminal agents emit) to the internal taxonomy. Codes missing
// from the table become ErrKindUnknownTerminal with the raw code preserved
// on the event.
var errCodeTable = map[int]domain.ErrorKind{
	3:    domain.ErrKindRejected,          // invalid trade parameters
	4:    domain.ErrKindTransport,         // trade server busy
	6:    domain.ErrKindTransport,         // no connection
	8:    domain.ErrKindTransport,         // too frequent requests
	64:   domain.ErrKindRejected,          // account disabled
	128:  domain.ErrKindTransport,         // trade timeout
	129:  domain.ErrKindRequote,           // invalid price
	130:  domain.ErrKindRejected,          // invalid stops
	131:  domain.ErrKindRejected,          // invalid trade volume
	132:  domain.ErrKindMarketClosed,      // market is closed
	133:  domain.ErrKindRejected,          // trade is disabled
	134:  domain.ErrKindInsufficientMargin, // not enough money
	135:  domain.ErrKindRequote,           // price changed
	136:  domain.ErrKindTransport,         // off quotes
	138:  domain.ErrKindRequote,           // requote
	145:  domain.ErrKindRejected,          // modification denied
	4106: domain.ErrKindInvalidSymbol,     // unknown symbol
	4108: domain.ErrKindInvalidTicket,     // invalid ticket
}

// mapErrorCode resolves a terminal error code to the internal taxonomy.
func mapErrorCode(code int) domain.ErrorKind {
	if kind, ok := errCodeTable[code]; ok {
		return kind
	}
	return domain.ErrKindUnknownTerminal
}
