package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/sluice"
	"github.com/aretw0/sluice/internal/logging"
	"github.com/aretw0/sluice/internal/presentation/graph"
	"github.com/aretw0/sluice/pkg/domain"
	"github.com/aretw0/sluice/pkg/dsl"
)

const demoDefinitionID = "order"

// demoCmd runs the built-in order process end to end on the in-memory
// store, pausing at the review task for a y/n answer on stdin.
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the built-in order process interactively",
	Long:  `Starts an order above the review threshold on the in-memory store, waits for your approval on stdin and prints the outcome and the process diagram.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng := sluice.New(sluice.WithLogger(logging.New(slog.LevelWarn)))
		defer eng.Close()

		if err := deployDemo(eng); err != nil {
			fmt.Printf("Error deploying demo process: %v\n", err)
			os.Exit(1)
		}

		eng.OnTaskCreated(func(task *domain.TaskInstance) {
			fmt.Printf("  task created: %s (assignee %s)\n", task.NodeID, task.Assignee)
		})
		eng.OnInstanceCompleted(func(inst *domain.ProcessInstance) {
			fmt.Printf("  instance finished: %s\n", inst.Status)
		})

		ctx := context.Background()
		id, err := eng.Start(ctx, demoDefinitionID, map[string]any{"total": 750.0}, sluice.WithBusinessKey("ORDER-7001"))
		if err != nil {
			fmt.Printf("Error starting instance: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("started instance %s (business key ORDER-7001, total 750)\n", id)

		reader := bufio.NewReader(os.Stdin)
		for {
			tasks := eng.ActiveTasks()
			if len(tasks) == 0 {
				break
			}
			task := tasks[0]

			fmt.Printf("\nwaiting on %q:\n", task.NodeID)
			for _, field := range task.FormFields {
				fmt.Printf("  %s\n", field.Label)
			}
			fmt.Print("approve? (y/n) > ")

			text, err := reader.ReadString('\n')
			if err != nil {
				// Non-interactive stdin; approve and move on.
				text = "y"
				fmt.Println("y")
			}
			approved := strings.HasPrefix(strings.ToLower(strings.TrimSpace(text)), "y")

			if _, err := eng.CompleteTask(ctx, task.ID, map[string]any{"approved": approved}); err != nil {
				fmt.Printf("Error completing task: %v\n", err)
				os.Exit(1)
			}
		}

		inst, ok := eng.Instance(id)
		if !ok {
			fmt.Println("Error: instance disappeared")
			os.Exit(1)
		}
		fmt.Printf("\nfinal status: %s\n", inst.Status)
		fmt.Printf("variables: %v\n", inst.Variables)

		if def, ok := eng.Definition(demoDefinitionID); ok {
			fmt.Println("\nprocess diagram (mermaid):")
			fmt.Print(graph.GenerateMermaid(def, nil))
		}
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

// demoProcess is the order fulfillment flow the demo and serve --demo
// share: orders over 500 take a manual review detour, the rest ship
// straight through.
func demoProcess() (*domain.ProcessDefinition, error) {
	p := dsl.NewProcess(demoDefinitionID, "Order Fulfillment")
	p.Start("received").To("charge")
	p.Service("charge", "payments.charge").To("triage")
	p.Exclusive("triage").
		When("total > 500", "review").
		DefaultTo("pack")
	p.User("review").Name("Review Order").Assignee("ops").
		Form("approved", "boolean", "Approve this order?", true).
		To("pack")
	p.Service("pack", "warehouse.pack").To("shipped")
	p.End("shipped")
	return p.Build()
}

func deployDemo(eng *sluice.Engine) error {
	def, err := demoProcess()
	if err != nil {
		return err
	}
	eng.RegisterServiceHandler("payments.charge", func(ctx context.Context, ec *domain.ExecutionContext) (map[string]any, error) {
		return map[string]any{"charged": true}, nil
	})
	eng.RegisterServiceHandler("warehouse.pack", func(ctx context.Context, ec *domain.ExecutionContext) (map[string]any, error) {
		return map[string]any{"packed": true}, nil
	})
	return eng.Deploy(def)
}
