package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvent_Status(t *testing.T) {
	ev := Event{TotalTickets: 2}
	assert.EqualValues(t, 2, ev.Remaining())
	assert.Equal(t, EventOpen, ev.Status())

	ev.SoldTickets = 1
	assert.EqualValues(t, 1, ev.Remaining())
	assert.Equal(t, EventOpen, ev.Status())

	ev.SoldTickets = 2
	assert.Zero(t, ev.Remaining())
	assert.Equal(t, EventSoldOut, ev.Status())
}
