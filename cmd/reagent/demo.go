package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reagent-go/reagent/pkg/reagent"
)

func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a sample reactive graph and print what fires when",
		RunE: func(cmd *cobra.Command, args []string) error {
			runDemo(reagent.New())
			return nil
		},
	}
}

// runDemo walks through the engine's main features against a small
// user-profile object: subscriptions, batched delivery, a computation,
// and the three scheduler lanes.
func runDemo(engine *reagent.Engine) {
	defer engine.Close()

	user := engine.Wrap(map[string]any{
		"name":  "Ada",
		"email": "ada@example.com",
		"settings": map[string]any{
			"theme": "dark",
		},
	})

	// Field subscription, synchronous delivery.
	engine.Subscribe(user, "name", func(changed []string) {
		fmt.Printf("sync   │ name changed → %v\n", user.Peek("name"))
	})

	// Aggregate subscription, batched: fires once per flush with the
	// set of changed fields.
	engine.SubscribeFields(user, []string{"name", "email"}, func(changed []string) {
		fmt.Printf("batched│ profile changed: %v\n", changed)
	}, reagent.WithFlush(reagent.FlushBatched))

	// A computation re-runs when anything it read changes.
	comp := engine.NewComputation(func() {
		theme := "?"
		if settings, ok := user.Get("settings").(*reagent.Cell); ok {
			theme, _ = settings.Get("theme").(string)
		}
		fmt.Printf("comp   │ %v uses the %s theme\n", user.Get("name"), theme)
	})
	defer comp.Dispose()

	fmt.Println("── writing name and email ──")
	user.Set("name", "Grace")
	user.Set("email", "grace@example.com")
	engine.FlushSync()

	fmt.Println("── writing a nested field ──")
	if settings, ok := user.Get("settings").(*reagent.Cell); ok {
		settings.Set("theme", "light")
	}
	engine.FlushSync()

	fmt.Println("── scheduler lanes ──")
	preJob := reagent.NewJob("pre", func([]any) { fmt.Println("lane   │ pre") })
	mainJob := reagent.NewJob("main", func([]any) { fmt.Println("lane   │ main") })
	postJob := reagent.NewJob("post", func([]any) { fmt.Println("lane   │ post") })
	engine.QueuePostFlushJob(postJob)
	engine.QueueJob(mainJob)
	engine.QueuePreFlushJob(preJob)
	engine.FlushSync()

	fmt.Println("── ambient context ──")
	_ = engine.Context().Run("request-id", "r-42", func() error {
		id, _ := engine.Context().Get("request-id")
		fmt.Printf("ctx    │ inside scope: %v\n", id)
		return nil
	})
	_, ok := engine.Context().Get("request-id")
	fmt.Printf("ctx    │ after scope, present: %v\n", ok)
}
