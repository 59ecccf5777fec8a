package redis

import (
	"testing"

	"github.com/kirinyoku/tix-ledger/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestDecodeChange(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		ok      bool
		want    domain.LedgerChange
	}{
		{
			name:    "first event id is zero",
			payload: `{"type":"tickets_sold","event_id":0,"sold_tickets":1,"remaining":1,"ts_unix":10}`,
			ok:      true,
			want:    domain.LedgerChange{Type: domain.ChangeTicketsSold, SoldTickets: 1, Remaining: 1, TsUnix: 10},
		},
		{name: "missing type", payload: `{"event_id":3}`},
		{name: "negative id", payload: `{"type":"event_created","event_id":-1}`},
		{name: "garbage", payload: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodeChange(tt.payload)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "tixledger:v1:event:0", KeyEvent(0))
	assert.Equal(t, "tixledger:v1:event:0:ver", KeyEventVersion(0))
	assert.Equal(t, "tixledger:v1:idem:purchases:7:abc", KeyIdemPurchase(7, "abc"))
	assert.Equal(t, "tixledger:v1:rl:buyer:0xab", KeyRateLimitBuyer(domain.Address("0xab")))
	assert.Equal(t, "tixledger:v1:ledger:changed", ChannelLedgerChanged())
}
