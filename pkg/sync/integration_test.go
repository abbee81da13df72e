//go:build integration

package sync

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pearlsync/pkg/broker"
	"github.com/Veraticus/pearlsync/pkg/testutil"
)

// TestEndToEndClipboardSync exercises several devices sharing one topic.
func TestEndToEndClipboardSync(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	t.Run("ThreeDevices", testThreeDevices)
	t.Run("LargeClipboardContent", testLargeClipboardContent)
	t.Run("RapidClipboardChanges", testRapidClipboardChanges)
	t.Run("DeviceRestart", testDeviceRestart)
}

func connectedDevices(t *testing.T, mb *testutil.MemoryBroker, ids ...string) []*harness {
	t.Helper()
	devices := make([]*harness, 0, len(ids))
	for _, id := range ids {
		devices = append(devices, newHarness(t, id, mb))
	}
	for _, d := range devices {
		d.waitState(t, broker.Connected)
	}
	return devices
}

func assertCurrent(t *testing.T, h *harness, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.engine.Current() == want
	}, 5*time.Second, tick, "device %s never saw the expected content", h.engine.DeviceID())
}

func testThreeDevices(t *testing.T) {
	mb := testutil.NewMemoryBroker()
	devices := connectedDevices(t, mb, "dev1", "dev2", "dev3")

	devices[0].clip.EmitChange("Broadcast from dev1", time.Now().UnixMilli())
	for _, d := range devices[1:] {
		assertCurrent(t, d, "Broadcast from dev1")
	}

	devices[2].clip.EmitChange("Message from dev3", time.Now().UnixMilli()+1)
	for _, d := range devices[:2] {
		assertCurrent(t, d, "Message from dev3")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, mb.Published(), 2, "receivers never republish")
}

func testLargeClipboardContent(t *testing.T) {
	mb := testutil.NewMemoryBroker()
	devices := connectedDevices(t, mb, "dev1", "dev2")

	large := strings.Repeat("0123456789abcdef", 100*1024/16)
	devices[0].clip.EmitChange(large, time.Now().UnixMilli())

	assertCurrent(t, devices[1], large)
}

func testRapidClipboardChanges(t *testing.T) {
	mb := testutil.NewMemoryBroker()
	devices := connectedDevices(t, mb, "dev1", "dev2")

	const updates = 10
	base := time.Now().UnixMilli()
	for i := 0; i < updates; i++ {
		devices[0].clip.EmitChange(fmt.Sprintf("Rapid update %d", i), base+int64(i))
		time.Sleep(10 * time.Millisecond)
	}

	assertCurrent(t, devices[1], fmt.Sprintf("Rapid update %d", updates-1))
}

func testDeviceRestart(t *testing.T) {
	mb := testutil.NewMemoryBroker()
	devices := connectedDevices(t, mb, "dev1", "dev2")

	devices[1].shutdown()
	devices[0].clip.EmitChange("while away", time.Now().UnixMilli())

	restarted := newHarness(t, "dev2", mb)
	restarted.waitState(t, broker.Connected)

	devices[0].clip.EmitChange("after restart", time.Now().UnixMilli()+1)
	assertCurrent(t, restarted, "after restart")
}
