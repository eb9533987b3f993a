package db

import (
	"testing"
	"time"
)

// Helper functions for creating pointer values
func floatPtr(f float64) *float64 {
	return &f
}

func int64Ptr(i int64) *int64 {
	return &i
}

// createTestSpace creates a space with a counter state row, ready for
// flow-event and evaluation tests.
func createTestSpace(t *testing.T, db *DB, name string) *Space {
	t.Helper()

	space := &Space{Name: name}
	if err := db.CreateSpace(space); err != nil {
		t.Fatalf("CreateSpace failed: %v", err)
	}
	if err := db.EnsureCounterState(space.ID); err != nil {
		t.Fatalf("EnsureCounterState failed: %v", err)
	}
	return space
}

// createTestGate creates a gate belonging to the given space.
func createTestGate(t *testing.T, db *DB, spaceID string) *Gate {
	t.Helper()

	gate := &Gate{SpaceID: spaceID, Name: "main door"}
	if err := db.CreateGate(gate); err != nil {
		t.Fatalf("CreateGate failed: %v", err)
	}
	return gate
}

// insertTestEvents appends n flow events in the given direction, spaced one
// second apart ending at end.
func insertTestEvents(t *testing.T, db *DB, spaceID, gateID, direction string, n int, end time.Time) {
	t.Helper()

	for i := 0; i < n; i++ {
		event := &FlowEvent{
			GateID:    gateID,
			SpaceID:   spaceID,
			TS:        end.Add(-time.Duration(i) * time.Second),
			Direction: direction,
		}
		if err := db.InsertFlowEvent(event); err != nil {
			t.Fatalf("InsertFlowEvent failed: %v", err)
		}
	}
}
