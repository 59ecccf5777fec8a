package redis

import (
	"fmt"

	"github.com/kirinyoku/tix-ledger/internal/domain"
)

const ns = "tixledger:v1"

func KeyEvent(eventID int64) string {
	return fmt.Sprintf("%s:event:%d", ns, eventID)
}

func KeyEventVersion(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:ver", ns, eventID)
}

func KeyRateLimitBuyer(buyer domain.Address) string {
	return fmt.Sprintf("%s:rl:buyer:%s", ns, buyer)
}

func KeyIdemPurchase(eventID int64, idemKey string) string {
	return fmt.Sprintf("%s:idem:purchases:%d:%s", ns, eventID, idemKey)
}

func ChannelLedgerChanged() string {
	return ns + ":ledger:changed"
}
