package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robocore/robocore/pkg/engine"
	"github.com/robocore/robocore/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_ListRuns records a run the way the engine does and
// reads it back.
func ExampleSQLiteStore_ListRuns() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	stopped := started.Add(2*time.Minute + 30*time.Second)

	_ = store.RunStarted(ctx, engine.RunRecord{
		ID:        "run-1",
		OpMode:    "TankTeleOp",
		Variant:   engine.VariantIterative,
		State:     engine.StateUninitialized,
		StartedAt: started,
	})
	_ = store.RunFinished(ctx, engine.RunRecord{
		ID:        "run-1",
		State:     engine.StateStopped,
		Outcome:   engine.OutcomeStopped,
		StartedAt: started,
		StoppedAt: &stopped,
	})

	runs, err := store.ListRuns(ctx, stores.RunFilter{Limit: 10})
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range runs {
		fmt.Printf("%s %s %s %s\n", r.ID, r.OpMode, r.Outcome, r.Duration())
	}
	// Output: run-1 TankTeleOp stopped 2m30s
}
