package channel

import (
	"testing"
	"time"

	"github.com/campus-shuttle/fleetsim/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_SendNeverBlocksAndKeepsOrder(t *testing.T) {
	m := NewMailbox[int]()
	defer m.Close()

	for i := 0; i < 100; i++ {
		m.Send(i)
	}

	for i := 0; i < 100; i++ {
		select {
		case v := <-m.Receive():
			require.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for value %d", i)
		}
	}
}

func TestMailbox_CloseClosesReceive(t *testing.T) {
	m := NewMailbox[core.Snapshot]()
	m.Close()
	m.Close()

	select {
	case _, ok := <-m.Receive():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("receive channel not closed")
	}

	m.Send(core.Snapshot{"d1": {}})
	assert.Equal(t, 0, m.Len())
}
