package main

import (
	"testing"

	"github.com/fishnet-go/fishnet/internal/model"
)

func TestCPUPriorityNice(t *testing.T) {
	if got := cpuPriorityNice(model.CPUPriorityUnchanged); got != 0 {
		t.Fatalf("expected 0 for unchanged priority, got %d", got)
	}
	if got := cpuPriorityNice(model.CPUPriorityLow); got <= 0 {
		t.Fatalf("expected a positive nice level for low priority, got %d", got)
	}
}
