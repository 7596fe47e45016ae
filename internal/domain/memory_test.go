package domain

import (
	"testing"
	"time"
)

func TestSyncPriorityDeadline(t *testing.T) {
	tests := []struct {
		priority SyncPriority
		want     time.Duration
	}{
		{SyncCritical, 2 * time.Second},
		{SyncHigh, 10 * time.Second},
		{SyncNormal, 5 * time.Minute},
		{SyncPriority("unknown"), 5 * time.Minute},
	}

	for _, tt := range tests {
		if got := tt.priority.Deadline(); got != tt.want {
			t.Errorf("Deadline(%s) = %v, want %v", tt.priority, got, tt.want)
		}
	}
}

func TestValidTier(t *testing.T) {
	for _, tier := range []string{"working", "cache", "shared"} {
		if !ValidTier(tier) {
			t.Errorf("ValidTier(%s) = false, want true", tier)
		}
	}
	for _, tier := range []string{"", "l1", "permanent"} {
		if ValidTier(tier) {
			t.Errorf("ValidTier(%s) = true, want false", tier)
		}
	}
}
